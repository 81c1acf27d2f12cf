package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/internal/config"
	"relayhub/pkg/types"
)

func testConfig(dir, backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Public.HubBaseURL = "http://hub.test"
	cfg.Store.Backend = backend
	cfg.Store.SessionFile = filepath.Join(dir, "sessions.json")
	cfg.Store.DatabasePath = filepath.Join(dir, "relayhub.db")
	return cfg
}

func call(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "s3"
	_, err := NewApplication(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestStateSurvivesRestart(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			first, err := NewApplication(testConfig(dir, backend), zerolog.Nop())
			require.NoError(t, err)

			status, body := call(t, first.Handler(), http.MethodPost, "/api/v1/sessions", map[string]any{"platform": "tv"})
			require.Equal(t, http.StatusCreated, status)
			sess := body["session"].(map[string]any)
			id := sess["id"].(string)
			roomCode := sess["roomCode"].(string)
			tokens := sess["tokens"].(map[string]any)
			hostToken := tokens["hostToken"].(string)
			joinToken := tokens["joinToken"].(string)

			status, _ = call(t, first.Handler(), http.MethodPost, "/api/v1/sessions/"+id+"/events", map[string]any{
				"token":   joinToken,
				"message": map[string]any{"action": "select"},
			})
			require.Equal(t, http.StatusCreated, status)

			status, body = call(t, first.Handler(), http.MethodPost, "/api/v1/challenges", map[string]any{
				"senderName": "Ada",
				"questions": []any{map[string]any{
					"question":     "2+2?",
					"options":      []any{"3", "4"},
					"correctIndex": 1,
				}},
			})
			require.Equal(t, http.StatusCreated, status)
			challengeID := body["challenge"].(map[string]any)["id"].(string)

			require.NoError(t, first.Stop(ctx))

			second, err := NewApplication(testConfig(dir, backend), zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = second.Stop(ctx) })

			status, body = call(t, second.Handler(), http.MethodGet, "/api/v1/sessions/"+id+"?token="+hostToken, nil)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, roomCode, body["session"].(map[string]any)["roomCode"])

			status, body = call(t, second.Handler(), http.MethodGet, "/api/v1/sessions/"+id+"/events/poll?token="+hostToken, nil)
			require.Equal(t, http.StatusOK, status)
			require.Len(t, body["events"], 1)
			assert.Equal(t, "SELECT", body["events"].([]any)[0].(map[string]any)["action"])

			status, body = call(t, second.Handler(), http.MethodPost, "/api/v1/sessions/join-by-code", map[string]any{"code": roomCode})
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, joinToken, body["controllerToken"])

			status, body = call(t, second.Handler(), http.MethodGet, "/api/v1/challenges/"+challengeID, nil)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, "Ada", body["challenge"].(map[string]any)["senderName"])
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func readType(t *testing.T, ws *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for i := 0; i < 10; i++ {
		var m map[string]any
		require.NoError(t, ws.ReadJSON(&m))
		if m["type"] == frameType {
			return m
		}
	}
	t.Fatalf("no %q frame received", frameType)
	return nil
}

func TestStartServesAndStopClosesSockets(t *testing.T) {
	cfg := testConfig(t.TempDir(), config.BackendNone)
	cfg.HTTP.Port = freePort(t)
	application, err := NewApplication(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	base := "http://" + application.Addr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/api/v1/sessions", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	sess := created["session"].(map[string]any)
	tokens := sess["tokens"].(map[string]any)

	dial := func(role, token string) *websocket.Conn {
		u := "ws://" + application.Addr() + "/ws?" + url.Values{
			"sessionId": {sess["id"].(string)},
			"role":      {role},
			"token":     {token},
		}.Encode()
		ws, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	}

	host := dial("host", tokens["hostToken"].(string))
	readType(t, host, "hello")
	ctrl := dial("controller", tokens["joinToken"].(string))
	readType(t, ctrl, "hello")

	require.NoError(t, ctrl.WriteJSON(map[string]any{"type": "action", "action": "NAV_UP"}))
	event := readType(t, host, "event")["event"].(map[string]any)
	assert.Equal(t, "controller", event["fromRole"])
	assert.Equal(t, "host", event["toRole"])
	assert.EqualValues(t, 1, event["seq"])

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(stopCtx))

	require.NoError(t, host.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := host.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
		assert.Equal(t, types.ReasonShutdown, ce.Text)
		break
	}
}
