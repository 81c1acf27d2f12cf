package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole(t *testing.T) {
	assert.Equal(t, RoleController, RoleHost.Opposite())
	assert.Equal(t, RoleHost, RoleController.Opposite())
	assert.Equal(t, RoleHost, ParseRole("host", RoleController))
	assert.Equal(t, RoleController, ParseRole("bogus", RoleController))
	assert.Equal(t, RoleHost, ParseRole("", RoleHost))
	assert.False(t, Role("admin").Valid())
}

func TestSanitizeAction(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"nav_up", "NAV_UP"},
		{"  select item ", "SELECT_ITEM"},
		{"a/b?c", "A_B_C"},
		{"ns:act-1.2", "NS:ACT-1.2"},
		{"", DefaultAction},
		{"   ", DefaultAction},
		{42.0, DefaultAction},
		{nil, DefaultAction},
		{strings.Repeat("x", 100), strings.Repeat("X", 64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeAction(tt.in), "input %v", tt.in)
	}
}

func TestSanitizeType(t *testing.T) {
	assert.Equal(t, "state", SanitizeType("state"))
	assert.Equal(t, "event", SanitizeType("event"))
	assert.Equal(t, "action", SanitizeType("STATE"))
	assert.Equal(t, "action", SanitizeType(nil))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "abc-123_x:y.z", SanitizeID(" abc-123_x:y.z "))
	assert.Equal(t, "abc", SanitizeID("a<b>c"))
	assert.Equal(t, "", SanitizeID(12))
	assert.Len(t, SanitizeID(strings.Repeat("a", 80)), 64)
}

func TestSanitizeDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", SanitizeDisplayName("  Ada\n\tLovelace  "))
	assert.Equal(t, DefaultDisplayName, SanitizeDisplayName("   "))
	assert.Equal(t, DefaultDisplayName, SanitizeDisplayName(nil))
	assert.Len(t, []rune(SanitizeDisplayName(strings.Repeat("é", 40))), 32)
}

func TestSanitizeMediaURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.mp3", SanitizeMediaURL(" https://cdn.example.com/a.mp3 "))
	assert.Equal(t, "HTTP://x.y", SanitizeMediaURL("HTTP://x.y"))
	assert.Equal(t, "", SanitizeMediaURL("ftp://x.y/a.mp3"))
	assert.Equal(t, "", SanitizeMediaURL("javascript:alert(1)"))
}

func TestSanitizeClientVersionAndRoomCode(t *testing.T) {
	assert.Equal(t, "12", SanitizeClientVersion("v1.2"))
	assert.Equal(t, "1234", SanitizeClientVersion("123456"))
	assert.Equal(t, "", SanitizeClientVersion(3.0))
	assert.Equal(t, "123", SanitizeRoomCode("1-2-3", 4))
	assert.Equal(t, "1234", SanitizeRoomCode("12345", 4))
}

func TestSanitizeGAMeasurementID(t *testing.T) {
	assert.Equal(t, "G-ABC123", SanitizeGAMeasurementID(" g-abc123 "))
	assert.Equal(t, "", SanitizeGAMeasurementID("UA-1234"))
}

func TestSanitizeCapabilities(t *testing.T) {
	raw := []any{"voice", "", 3.0, "dpad"}
	assert.Equal(t, []string{"voice", "dpad"}, SanitizeCapabilities(raw))
	assert.Equal(t, []string{}, SanitizeCapabilities("voice"))

	many := make([]any, 60)
	for i := range many {
		many[i] = "cap"
	}
	assert.Len(t, SanitizeCapabilities(many), 50)
}

func TestSanitizeMetadata(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"speechEndpoint": "https://stt.example.com",
		"speechKey": "k",
		"enabled": true,
		"volume": 0.5,
		"nested": {"a": {"b": {"c": {"d": 1}}}},
		"list": [1, "two", {"x": 1}],
		"" : "dropped"
	}`), &raw))

	got := SanitizeMetadata(raw)
	assert.Equal(t, "https://stt.example.com", got["speechEndpoint"])
	assert.Equal(t, true, got["enabled"])
	assert.Equal(t, 0.5, got["volume"])
	assert.Equal(t, []any{1.0, "two"}, got["list"])
	assert.NotContains(t, got, "")

	nested := got["nested"].(map[string]any)
	level3 := nested["a"].(map[string]any)
	assert.NotContains(t, level3, "b", "depth beyond three levels is dropped")

	assert.Equal(t, map[string]any{}, SanitizeMetadata("nope"))
}

func TestErrorCodeStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, CodeSessionNotFound.Status())
	assert.Equal(t, http.StatusGone, CodeSessionClosed.Status())
	assert.Equal(t, http.StatusTooManyRequests, CodeTooManyAttempts.Status())
	assert.Equal(t, http.StatusBadGateway, CodeTriviaQuestionsFailed.Status())
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("mystery").Status())
}

func TestSanitizeMetadataKeyCapIsStable(t *testing.T) {
	raw := make(map[string]any, 40)
	for i := 0; i < 40; i++ {
		raw[fmt.Sprintf("k%02d", i)] = i
	}

	first := SanitizeMetadata(raw)
	require.Len(t, first, 32)
	for i := 0; i < 32; i++ {
		assert.Contains(t, first, fmt.Sprintf("k%02d", i))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SanitizeMetadata(raw))
	}
}
