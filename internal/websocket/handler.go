// Package websocket admits host and controller sockets, tracks them per
// session and relays their messages through the event router.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relayhub/internal/identity"
	"relayhub/internal/session"
	"relayhub/pkg/types"
)

const maxUserAgent = 200

// Options tunes socket timing and buffering.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 5 * time.Second,
		PongWait:     30 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   100,
		ReadLimit:    64 << 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	return o
}

// Publisher sequences and routes an inbound envelope.
type Publisher interface {
	Publish(s *session.Session, fromRole types.Role, incoming map[string]any, source types.Source) (types.Event, error)
}

// Describer renders the public session payload carried by the hello frame.
type Describer interface {
	Describe(view session.View, peers Peers) any
}

type helloFrame struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocolVersion"`
	Role            types.Role `json:"role"`
	ClientID        string     `json:"clientId"`
	Session         any        `json:"session"`
}

type ackFrame struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type pongFrame struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Handler upgrades /ws requests and runs each admitted socket.
type Handler struct {
	sessions  *session.Manager
	registry  *Registry
	publisher Publisher
	describer Describer
	opts      Options
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

func NewHandler(sessions *session.Manager, registry *Registry, publisher Publisher, describer Describer, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		registry:  registry,
		publisher: publisher,
		describer: describer,
		opts:      opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP upgrades first and then validates, so refusals reach the client
// as 1008 close frames carrying a reason.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := types.SanitizeID(q.Get("sessionId"))
	role := types.ParseRole(q.Get("role"), types.RoleController)
	token := types.Token(q.Get("token"))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	s, reason := h.admit(sessionID, role, token)
	if reason != "" {
		h.refuse(ws, reason)
		return
	}

	connID := types.SanitizeID(q.Get("clientId"))
	if connID == "" {
		connID = identity.NewEventID()
	}
	conn := NewConnection(ws, connID, s.ID(), role, h.sessions.Now(), h.opts, h.logger)
	view := s.View()
	h.registry.Admit(conn, func(peers Peers) []byte {
		return h.hello(conn, view, peers)
	})
	// A close that ran between admit and Admit found no socket to drop.
	if !h.sessions.IsOpen(s) {
		h.registry.Remove(conn)
		conn.CloseWith(websocket.ClosePolicyViolation, ReasonSessionClosed)
		h.logger.Debug().Str("session_id", s.ID()).Msg("session closed during admission")
		return
	}
	h.sessions.Touch(s, role)

	h.logger.Info().
		Str("session_id", s.ID()).
		Str("conn_id", connID).
		Str("role", string(role)).
		Str("user_agent", truncate(r.UserAgent(), maxUserAgent)).
		Msg("socket admitted")

	h.readLoop(s, conn, ws)
}

func (h *Handler) admit(sessionID string, role types.Role, token string) (*session.Session, string) {
	if sessionID == "" {
		return nil, ReasonMissingSession
	}
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return nil, ReasonSessionNotFound
	}
	if !h.sessions.IsOpen(s) {
		return nil, ReasonSessionClosed
	}
	if !s.Authorize(role, token) {
		return nil, ReasonUnauthorized
	}
	return s, ""
}

func (h *Handler) refuse(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteTimeout))
	_ = ws.Close()
	h.logger.Debug().Str("reason", reason).Msg("socket refused")
}

func (h *Handler) hello(conn *Connection, view session.View, peers Peers) []byte {
	var described any = view
	if h.describer != nil {
		described = h.describer.Describe(view, peers)
	}
	frame, _ := json.Marshal(helloFrame{
		Type:            "hello",
		ProtocolVersion: types.ProtocolVersion,
		Role:            conn.Role(),
		ClientID:        conn.ID(),
		Session:         described,
	})
	return frame
}

func (h *Handler) readLoop(s *session.Session, conn *Connection, ws *websocket.Conn) {
	role := conn.Role()
	defer func() {
		h.registry.Remove(conn)
		h.sessions.Touch(s, role)
		_ = conn.Close()
	}()

	ws.SetReadLimit(h.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		h.sessions.Touch(s, role)
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		h.handleMessage(s, conn, data)
	}
}

func (h *Handler) handleMessage(s *session.Session, conn *Connection, data []byte) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		h.send(conn, errorFrame{Type: "error", Code: string(types.CodeInvalidJSON)})
		return
	}

	if !h.sessions.IsOpen(s) {
		h.send(conn, errorFrame{Type: "error", Code: string(types.CodeSessionClosed)})
		return
	}
	h.sessions.Touch(s, conn.Role())

	incoming, _ := parsed.(map[string]any)
	if t, _ := incoming["type"].(string); t == "ping" {
		h.send(conn, pongFrame{Type: "pong", TS: h.sessions.Now().UTC()})
		return
	}

	ev, err := h.publisher.Publish(s, conn.Role(), incoming, types.SourceWS)
	if err != nil {
		h.send(conn, errorFrame{Type: "error", Code: string(types.CodeSessionClosed)})
		return
	}
	h.send(conn, ackFrame{Type: "ack", ID: ev.ID, Seq: ev.Seq, ReceivedAt: ev.ReceivedAt})
}

func (h *Handler) send(conn *Connection, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding frame")
		return
	}
	if !conn.Send(frame) {
		h.logger.Debug().Err(ErrConnectionClosed).Str("conn_id", conn.ID()).Msg("frame not queued")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
