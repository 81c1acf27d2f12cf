package router

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/internal/clock"
	"relayhub/internal/session"
	"relayhub/pkg/types"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type delivery struct {
	sessionID string
	role      types.Role
	frame     []byte
}

type recordingDeliverer struct {
	mu    sync.Mutex
	sends []delivery
}

func (d *recordingDeliverer) Deliver(sessionID string, role types.Role, frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, delivery{sessionID, role, frame})
}

func (d *recordingDeliverer) all() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.sends...)
}

func newTestRouter(t *testing.T) (*Router, *session.Session, *recordingDeliverer) {
	t.Helper()
	clk := clock.NewFake(epoch)
	mgr := session.NewManager(session.DefaultOptions(), clk, nil, nil, zerolog.Nop())
	s, err := mgr.Create(session.CreateParams{Platform: "tv"})
	require.NoError(t, err)
	d := &recordingDeliverer{}
	return NewRouter(mgr, d, zerolog.Nop()), s, d
}

func TestBuildEnvelopeDefaults(t *testing.T) {
	_, s, _ := newTestRouter(t)

	ev := BuildEnvelope(s, types.RoleController, map[string]any{"action": "nav up"}, types.SourceWS, epoch)
	assert.Equal(t, types.ProtocolVersion, ev.V)
	assert.Equal(t, "action", ev.Type)
	assert.Equal(t, "NAV_UP", ev.Action)
	assert.Equal(t, types.RoleController, ev.FromRole)
	assert.Equal(t, types.RoleHost, ev.ToRole)
	assert.Equal(t, s.ID(), ev.SessionID)
	assert.NotEmpty(t, ev.ID)
	assert.NotNil(t, ev.Payload)
	assert.Equal(t, epoch, ev.ReceivedAt)
	assert.Equal(t, epoch.Format(time.RFC3339Nano), ev.SentAt)
	assert.Zero(t, ev.Seq)
}

func TestBuildEnvelopeToRole(t *testing.T) {
	_, s, _ := newTestRouter(t)

	ev := BuildEnvelope(s, types.RoleHost, map[string]any{"toRole": "host"}, types.SourceHTTP, epoch)
	assert.Equal(t, types.RoleController, ev.ToRole, "a role can never address itself")

	ev = BuildEnvelope(s, types.RoleHost, map[string]any{"toRole": "controller"}, types.SourceHTTP, epoch)
	assert.Equal(t, types.RoleController, ev.ToRole)

	ev = BuildEnvelope(s, types.RoleController, map[string]any{"toRole": "nobody"}, types.SourceHTTP, epoch)
	assert.Equal(t, types.RoleHost, ev.ToRole)
}

func TestBuildEnvelopeKeepsClientFields(t *testing.T) {
	_, s, _ := newTestRouter(t)

	ev := BuildEnvelope(s, types.RoleHost, map[string]any{
		"v":       "0.9",
		"type":    "state",
		"id":      "evt-1",
		"payload": map[string]any{"screen": "lobby"},
		"sentAt":  "2025-03-01T08:59:59Z",
		"seq":     float64(99),
	}, types.SourceWS, epoch)

	assert.Equal(t, "0.9", ev.V)
	assert.Equal(t, "state", ev.Type)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "lobby", ev.Payload["screen"])
	assert.Equal(t, "2025-03-01T08:59:59Z", ev.SentAt)
	assert.Zero(t, ev.Seq)
}

func TestPublishSequencesAndDelivers(t *testing.T) {
	r, s, d := newTestRouter(t)

	first, err := r.Publish(s, types.RoleController, map[string]any{"action": "NAV_UP"}, types.SourceWS)
	require.NoError(t, err)
	second, err := r.Publish(s, types.RoleHost, map[string]any{"action": "SHOW"}, types.SourceHTTP)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	sends := d.all()
	require.Len(t, sends, 2)
	assert.Equal(t, types.RoleHost, sends[0].role)
	assert.Equal(t, types.RoleController, sends[1].role)

	var frame struct {
		Type  string      `json:"type"`
		Event types.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(sends[0].frame, &frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, "NAV_UP", frame.Event.Action)
	assert.Equal(t, int64(1), frame.Event.Seq)
	assert.Equal(t, types.RoleController, frame.Event.FromRole)
}

func TestPollFiltersByRoleAndCursor(t *testing.T) {
	r, s, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		r.Publish(s, types.RoleController, map[string]any{"action": "TAP"}, types.SourceHTTP)
	}
	r.Publish(s, types.RoleHost, map[string]any{"action": "STATE"}, types.SourceHTTP)

	page := r.Poll(s, types.RoleHost, 0, 0)
	require.Len(t, page.Events, 3)
	assert.Equal(t, int64(3), page.Cursor)
	for i, ev := range page.Events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, types.RoleHost, ev.ToRole)
	}

	page = r.Poll(s, types.RoleHost, 1, 1)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(2), page.Cursor)

	page = r.Poll(s, types.RoleHost, 3, 0)
	assert.Empty(t, page.Events)
	assert.NotNil(t, page.Events)
	assert.Equal(t, int64(3), page.Cursor)

	page = r.Poll(s, types.RoleController, 0, 0)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(4), page.Cursor)
}

func TestClampLimit(t *testing.T) {
	r, _, _ := newTestRouter(t)
	assert.Equal(t, DefaultPollLimit, r.ClampLimit(0))
	assert.Equal(t, 10, r.ClampLimit(10))
	assert.Equal(t, MaxPollLimit, r.ClampLimit(10_000))

	r.SetPollLimits(5, 20)
	assert.Equal(t, 5, r.ClampLimit(-1))
	assert.Equal(t, 20, r.ClampLimit(50))
}

func TestParseCursor(t *testing.T) {
	assert.Equal(t, int64(0), ParseCursor(""))
	assert.Equal(t, int64(0), ParseCursor("abc"))
	assert.Equal(t, int64(0), ParseCursor("-4"))
	assert.Equal(t, int64(7), ParseCursor("7.9"))
	assert.Equal(t, int64(12), ParseCursor(" 12 "))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 0, ParseLimit(""))
	assert.Equal(t, 0, ParseLimit("0"))
	assert.Equal(t, 25, ParseLimit("25.5"))
}

func TestPublishConcurrentSequencing(t *testing.T) {
	r, s, d := newTestRouter(t)

	const n = 64
	seqs := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := r.Publish(s, types.RoleController, map[string]any{"action": "TAP"}, types.SourceWS)
			assert.NoError(t, err)
			seqs[i] = ev.Seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, seq := range seqs {
		assert.True(t, seq >= 1 && seq <= n, "seq %d out of range", seq)
		assert.False(t, seen[seq], "seq %d assigned twice", seq)
		seen[seq] = true
	}
	assert.Equal(t, int64(n), s.EventSeq())

	sends := d.all()
	require.Len(t, sends, n)
	for i, send := range sends {
		var frame struct {
			Event types.Event `json:"event"`
		}
		require.NoError(t, json.Unmarshal(send.frame, &frame))
		assert.Equal(t, int64(i+1), frame.Event.Seq)
	}
}

func TestPublishRefusesClosedSession(t *testing.T) {
	clk := clock.NewFake(epoch)
	mgr := session.NewManager(session.DefaultOptions(), clk, nil, nil, zerolog.Nop())
	s, err := mgr.Create(session.CreateParams{})
	require.NoError(t, err)
	d := &recordingDeliverer{}
	r := NewRouter(mgr, d, zerolog.Nop())

	mgr.Close(s, types.ReasonClosedByHost)

	_, err = r.Publish(s, types.RoleHost, map[string]any{"action": "SHOW"}, types.SourceHTTP)
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.Empty(t, d.all())
	assert.Zero(t, s.EventSeq())
}
