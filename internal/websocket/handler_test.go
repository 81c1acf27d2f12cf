package websocket

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/internal/clock"
	"relayhub/internal/router"
	"relayhub/internal/session"
	"relayhub/pkg/types"
)

type hub struct {
	server   *httptest.Server
	sessions *session.Manager
	registry *Registry
	session  *session.Session
}

func newHub(t *testing.T, maxControllers int) *hub {
	t.Helper()
	logger := zerolog.Nop()
	clk := clock.Real()
	registry := NewRegistry(maxControllers, clk, logger)
	sessions := session.NewManager(session.DefaultOptions(), clk, registry, nil, logger)
	rt := router.NewRouter(sessions, registry, logger)
	handler := NewHandler(sessions, registry, rt, nil, Options{}, logger)

	s, err := sessions.Create(session.CreateParams{Platform: "tv"})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &hub{server: srv, sessions: sessions, registry: registry, session: s}
}

func (h *hub) dial(t *testing.T, params url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?" + params.Encode()
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (h *hub) dialRole(t *testing.T, role types.Role, clientID string) *websocket.Conn {
	t.Helper()
	token := h.session.JoinToken()
	if role == types.RoleHost {
		token = h.session.HostToken()
	}
	return h.dial(t, url.Values{
		"sessionId": {h.session.ID()},
		"role":      {string(role)},
		"token":     {token},
		"clientId":  {clientID},
	})
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func readUntil(t *testing.T, ws *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		m := readFrame(t, ws)
		if m["type"] == frameType {
			return m
		}
	}
	t.Fatalf("no %q frame received", frameType)
	return nil
}

func readClose(t *testing.T, ws *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func TestHandlerRefusals(t *testing.T) {
	h := newHub(t, 1)

	cases := []struct {
		name   string
		params url.Values
		reason string
	}{
		{"missing session", url.Values{"role": {"host"}}, ReasonMissingSession},
		{"unknown session", url.Values{"sessionId": {"nope"}, "token": {"x"}}, ReasonSessionNotFound},
		{"bad token", url.Values{"sessionId": {h.session.ID()}, "role": {"host"}, "token": {h.session.JoinToken()}}, ReasonUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws := h.dial(t, tc.params)
			ce := readClose(t, ws)
			assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
			assert.Equal(t, tc.reason, ce.Text)
		})
	}

	h.sessions.Close(h.session, types.ReasonClosedByHost)
	ws := h.dialRole(t, types.RoleHost, "late")
	ce := readClose(t, ws)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, ReasonSessionClosed, ce.Text)
}

func TestHandlerHelloAndRouting(t *testing.T) {
	h := newHub(t, 1)

	host := h.dialRole(t, types.RoleHost, "host-1")
	hello := readFrame(t, host)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, "host", hello["role"])
	assert.Equal(t, "host-1", hello["clientId"])
	assert.Equal(t, types.ProtocolVersion, hello["protocolVersion"])
	sess := hello["session"].(map[string]any)
	assert.Equal(t, h.session.ID(), sess["id"])
	assert.NotContains(t, sess, "hostToken")

	ctrl := h.dialRole(t, types.RoleController, "pad-1")
	assert.Equal(t, "hello", readFrame(t, ctrl)["type"])

	presence := readUntil(t, host, "presence")
	actor := presence["actor"].(map[string]any)
	assert.Equal(t, "pad-1", actor["id"])
	assert.Equal(t, "joined", actor["state"])

	require.NoError(t, ctrl.WriteJSON(map[string]any{"type": "action", "action": "NAV_UP"}))

	ack := readUntil(t, ctrl, "ack")
	assert.EqualValues(t, 1, ack["seq"])
	assert.NotEmpty(t, ack["id"])

	event := readUntil(t, host, "event")["event"].(map[string]any)
	assert.Equal(t, "controller", event["fromRole"])
	assert.Equal(t, "host", event["toRole"])
	assert.Equal(t, "NAV_UP", event["action"])
	assert.Equal(t, "ws", event["source"])
	assert.EqualValues(t, 1, event["seq"])
}

func TestHandlerPingAndInvalidJSON(t *testing.T) {
	h := newHub(t, 1)
	ctrl := h.dialRole(t, types.RoleController, "pad-1")
	readUntil(t, ctrl, "hello")

	require.NoError(t, ctrl.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errFrame := readUntil(t, ctrl, "error")
	assert.Equal(t, "invalid_json", errFrame["code"])

	require.NoError(t, ctrl.WriteJSON(map[string]any{"type": "ping"}))
	pong := readUntil(t, ctrl, "pong")
	assert.NotEmpty(t, pong["ts"])

	assert.Equal(t, int64(0), h.session.EventSeq())
	assert.NotNil(t, h.session.Heartbeats().ControllerLastSeenAt)
}

func TestHandlerEvictsOldestController(t *testing.T) {
	h := newHub(t, 1)
	first := h.dialRole(t, types.RoleController, "pad-1")
	readUntil(t, first, "hello")

	second := h.dialRole(t, types.RoleController, "pad-2")
	readUntil(t, second, "hello")

	ce := readClose(t, first)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, types.ReasonReplaced, ce.Text)
	assert.Equal(t, 1, h.registry.Count(h.session.ID(), types.RoleController))
}

func TestHandlerSessionCloseDisconnects(t *testing.T) {
	h := newHub(t, 1)
	host := h.dialRole(t, types.RoleHost, "host-1")
	readUntil(t, host, "hello")

	h.sessions.Close(h.session, types.ReasonClosedByHost)

	ce := readClose(t, host)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, types.ReasonClosedByHost, ce.Text)
}

type describerFunc func(session.View, Peers) any

func (f describerFunc) Describe(view session.View, peers Peers) any { return f(view, peers) }

// newDetachedHub builds a hub whose session manager cannot reach the socket
// registry, so a close leaves already admitted sockets in place.
func newDetachedHub(t *testing.T, describe func(*session.Manager, *session.Session) Describer) *hub {
	t.Helper()
	logger := zerolog.Nop()
	registry := NewRegistry(1, clock.Real(), logger)
	sessions := session.NewManager(session.DefaultOptions(), clock.Real(), nil, nil, logger)
	s, err := sessions.Create(session.CreateParams{Platform: "tv"})
	require.NoError(t, err)

	var d Describer
	if describe != nil {
		d = describe(sessions, s)
	}
	handler := NewHandler(sessions, registry, router.NewRouter(sessions, registry, logger), d, Options{}, logger)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &hub{server: srv, sessions: sessions, registry: registry, session: s}
}

func TestHandlerClosesSocketAdmittedDuringClose(t *testing.T) {
	h := newDetachedHub(t, func(m *session.Manager, s *session.Session) Describer {
		return describerFunc(func(view session.View, _ Peers) any {
			m.Close(s, types.ReasonClosedByHost)
			return view
		})
	})

	host := h.dialRole(t, types.RoleHost, "host-1")
	assert.Equal(t, "hello", readFrame(t, host)["type"])

	ce := readClose(t, host)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, ReasonSessionClosed, ce.Text)
	assert.Eventually(t, func() bool { return h.registry.Total() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerDropsActionsForClosedSession(t *testing.T) {
	h := newDetachedHub(t, nil)
	ctrl := h.dialRole(t, types.RoleController, "pad-1")
	readUntil(t, ctrl, "hello")

	h.sessions.Close(h.session, types.ReasonClosedByHost)

	require.NoError(t, ctrl.WriteJSON(map[string]any{"type": "action", "action": "NAV_UP"}))
	errFrame := readUntil(t, ctrl, "error")
	assert.Equal(t, string(types.CodeSessionClosed), errFrame["code"])
	assert.Equal(t, int64(0), h.session.EventSeq())
}
