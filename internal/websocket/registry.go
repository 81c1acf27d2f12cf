package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relayhub/internal/clock"
	"relayhub/internal/telemetry"
	"relayhub/pkg/interfaces"
	"relayhub/pkg/types"
)

// Peers counts live connections per role.
type Peers struct {
	Host       int `json:"host"`
	Controller int `json:"controller"`
}

type presenceFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Actor     presenceActor `json:"actor"`
}

type presenceActor struct {
	ID    string     `json:"id"`
	Role  types.Role `json:"role"`
	State string     `json:"state"`
	At    time.Time  `json:"at"`
}

// Registry tracks live connections per session in admission order. Callers
// may hold a session lock while calling Deliver; the registry never calls
// back into sessions while holding its own lock.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string][]interfaces.Connection
	maxControllers int
	clock          clock.Clock
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
}

func NewRegistry(maxControllers int, clk clock.Clock, logger zerolog.Logger) *Registry {
	if maxControllers < 1 {
		maxControllers = 1
	}
	return &Registry{
		sessions:       make(map[string][]interfaces.Connection),
		maxControllers: maxControllers,
		clock:          clk,
		logger:         logger.With().Str("component", "registry").Logger(),
		metrics:        telemetry.GetMetrics(),
	}
}

// Admit registers conn. A connection already registered under the same id is
// replaced. Controllers over the cap are evicted oldest first. greet, when
// set, builds the first frame the new connection receives; it runs before
// anyone else can deliver to the connection. A presence "joined" frame is
// then sent to every other connection in the session. Evicted connections are
// returned already closed.
func (r *Registry) Admit(conn interfaces.Connection, greet func(Peers) []byte) []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID := conn.SessionID()
	var evicted []interfaces.Connection

	if old := r.indexOf(sessionID, conn.ID()); old >= 0 {
		prev := r.sessions[sessionID][old]
		r.detach(sessionID, old)
		prev.CloseWith(websocket.CloseGoingAway, types.ReasonReplaced)
		evicted = append(evicted, prev)
	}

	if conn.Role() == types.RoleController {
		for r.countLocked(sessionID, types.RoleController) >= r.maxControllers {
			oldest := r.oldestController(sessionID)
			if oldest < 0 {
				break
			}
			victim := r.sessions[sessionID][oldest]
			r.detach(sessionID, oldest)
			victim.CloseWith(websocket.CloseGoingAway, types.ReasonReplaced)
			r.broadcastPresence(victim, "left")
			evicted = append(evicted, victim)
			telemetry.Inc(r.metrics.ControllerEvictionsTotal, "reason", types.ReasonReplaced)
			r.logger.Info().
				Str("session_id", sessionID).
				Str("conn_id", victim.ID()).
				Msg("evicted oldest controller")
		}
	}

	r.sessions[sessionID] = append(r.sessions[sessionID], conn)
	r.metrics.ActiveConnections.Add(context.Background(), 1)

	if greet != nil {
		conn.Send(greet(r.peersLocked(sessionID)))
	}
	r.broadcastPresence(conn, "joined")
	return evicted
}

// Remove unregisters conn if it is still the registered instance for its id
// and tells the remaining peers it left. It reports whether anything changed.
func (r *Registry) Remove(conn interfaces.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(conn.SessionID(), conn.ID())
	if idx < 0 || r.sessions[conn.SessionID()][idx] != conn {
		return false
	}
	r.detach(conn.SessionID(), idx)
	r.broadcastPresence(conn, "left")
	return true
}

// Deliver sends frame to every connection of role in the session.
func (r *Registry) Deliver(sessionID string, role types.Role, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.sessions[sessionID] {
		if c.Role() == role {
			c.Send(frame)
		}
	}
}

// CloseSession disconnects every connection of the session with 1001 and
// reason.
func (r *Registry) CloseSession(sessionID, reason string) {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if len(conns) > 0 {
		r.metrics.ActiveConnections.Add(context.Background(), -int64(len(conns)))
	}
	for _, c := range conns {
		c.CloseWith(websocket.CloseGoingAway, reason)
	}
}

// CloseAll disconnects every connection in every session.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CloseSession(id, reason)
	}
}

// Peers returns live connection counts for a session.
func (r *Registry) Peers(sessionID string) Peers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked(sessionID)
}

func (r *Registry) Count(sessionID string, role types.Role) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(sessionID, role)
}

// Total is the number of live connections across all sessions.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, conns := range r.sessions {
		n += len(conns)
	}
	return n
}

func (r *Registry) peersLocked(sessionID string) Peers {
	return Peers{
		Host:       r.countLocked(sessionID, types.RoleHost),
		Controller: r.countLocked(sessionID, types.RoleController),
	}
}

func (r *Registry) countLocked(sessionID string, role types.Role) int {
	n := 0
	for _, c := range r.sessions[sessionID] {
		if c.Role() == role {
			n++
		}
	}
	return n
}

func (r *Registry) indexOf(sessionID, connID string) int {
	for i, c := range r.sessions[sessionID] {
		if c.ID() == connID {
			return i
		}
	}
	return -1
}

func (r *Registry) oldestController(sessionID string) int {
	oldest := -1
	for i, c := range r.sessions[sessionID] {
		if c.Role() != types.RoleController {
			continue
		}
		if oldest < 0 || c.ConnectedAt().Before(r.sessions[sessionID][oldest].ConnectedAt()) {
			oldest = i
		}
	}
	return oldest
}

func (r *Registry) detach(sessionID string, idx int) {
	conns := r.sessions[sessionID]
	conns = append(conns[:idx:idx], conns[idx+1:]...)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	} else {
		r.sessions[sessionID] = conns
	}
	r.metrics.ActiveConnections.Add(context.Background(), -1)
}

func (r *Registry) broadcastPresence(actor interfaces.Connection, state string) {
	frame, err := json.Marshal(presenceFrame{
		Type:      "presence",
		SessionID: actor.SessionID(),
		Actor: presenceActor{
			ID:    actor.ID(),
			Role:  actor.Role(),
			State: state,
			At:    r.clock.Now().UTC(),
		},
	})
	if err != nil {
		return
	}
	for _, c := range r.sessions[actor.SessionID()] {
		if c.ID() != actor.ID() {
			c.Send(frame)
		}
	}
}
