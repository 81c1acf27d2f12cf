package session

import (
	"sort"
	"sync"
	"time"

	"relayhub/internal/identity"
	"relayhub/pkg/types"
)

// Session is one host/controller pairing. Fields that never change after
// creation are read without locking; everything else is guarded by mu.
type Session struct {
	id            string
	roomCode      string
	platform      string
	capabilities  []string
	metadata      map[string]any
	clientVersion string
	hostToken     string
	joinToken     string
	createdAt     time.Time
	expiresAt     time.Time
	historyLimit  int

	mu                   sync.Mutex
	closedAt             *time.Time
	closeReason          string
	hostLastSeenAt       time.Time
	controllerLastSeenAt *time.Time
	eventSeq             int64
	events               []types.Event
}

// View is the public, token-free description of a session.
type View struct {
	ID              string         `json:"id"`
	RoomCode        string         `json:"roomCode"`
	Platform        string         `json:"platform"`
	Capabilities    []string       `json:"capabilities"`
	Metadata        map[string]any `json:"metadata"`
	ProtocolVersion string         `json:"protocolVersion"`
	ClientVersion   string         `json:"clientVersion"`
	CreatedAt       time.Time      `json:"createdAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	ClosedAt        *time.Time     `json:"closedAt"`
	CloseReason     *string        `json:"closeReason"`

	// JoinToken is carried for building share links and never serialized.
	JoinToken string `json:"-"`
}

// Heartbeats are the last-seen timestamps of each role.
type Heartbeats struct {
	HostLastSeenAt       time.Time
	ControllerLastSeenAt *time.Time
}

func (s *Session) ID() string { return s.id }
func (s *Session) RoomCode() string { return s.roomCode }
func (s *Session) JoinToken() string { return s.joinToken }
func (s *Session) HostToken() string { return s.hostToken }
func (s *Session) ClientVersion() string { return s.clientVersion }
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }
func (s *Session) expiredAt(now time.Time) bool { return !now.Before(s.expiresAt) }

// Authorize checks token against the secret of role. Host presents the host
// token, controller presents the join token.
func (s *Session) Authorize(role types.Role, token string) bool {
	if role == types.RoleHost {
		return identity.Equal(token, s.hostToken)
	}
	return identity.Equal(token, s.joinToken)
}

// IsOpen reports whether the session is neither closed nor expired.
func (s *Session) IsOpen(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedAt == nil && !s.expiredAt(now)
}

// Touch records liveness for role.
func (s *Session) Touch(role types.Role, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == types.RoleHost {
		s.hostLastSeenAt = now
		return
	}
	seen := now
	s.controllerLastSeenAt = &seen
}

func (s *Session) Heartbeats() Heartbeats {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb := Heartbeats{HostLastSeenAt: s.hostLastSeenAt}
	if s.controllerLastSeenAt != nil {
		seen := *s.controllerLastSeenAt
		hb.ControllerLastSeenAt = &seen
	}
	return hb
}

// Append assigns the next sequence number to ev, stores it in the bounded
// history and hands it to deliver while still holding the session lock, so
// live subscribers observe envelopes in sequence order. A closed session
// accepts nothing and returns ErrSessionClosed.
func (s *Session) Append(ev types.Event, deliver func(types.Event)) (types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closedAt != nil {
		return ev, ErrSessionClosed
	}
	s.eventSeq++
	ev.Seq = s.eventSeq
	s.events = append(s.events, ev)
	if over := len(s.events) - s.historyLimit; over > 0 {
		s.events = append([]types.Event(nil), s.events[over:]...)
	}
	if deliver != nil {
		deliver(ev)
	}
	return ev, nil
}

// EventsAfter returns up to limit events addressed to role with seq > after.
// The cursor is the seq of the last returned event, or after when none match.
func (s *Session) EventsAfter(role types.Role, after int64, limit int) ([]types.Event, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Event, 0)
	cursor := after
	for _, ev := range s.events {
		if ev.Seq <= after || ev.ToRole != role {
			continue
		}
		out = append(out, ev)
		cursor = ev.Seq
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, cursor
}

func (s *Session) EventSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventSeq
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:              s.id,
		RoomCode:        s.roomCode,
		Platform:        s.platform,
		Capabilities:    append([]string{}, s.capabilities...),
		Metadata:        s.metadata,
		ProtocolVersion: types.ProtocolVersion,
		ClientVersion:   s.clientVersion,
		CreatedAt:       s.createdAt,
		ExpiresAt:       s.expiresAt,
		JoinToken:       s.joinToken,
	}
	if s.closedAt != nil {
		closedAt := *s.closedAt
		reason := s.closeReason
		v.ClosedAt = &closedAt
		v.CloseReason = &reason
	}
	return v
}

// Record snapshots the persistent state of the session.
func (s *Session) Record() types.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := types.SessionRecord{
		ID:             s.id,
		RoomCode:       s.roomCode,
		Platform:       s.platform,
		Capabilities:   append([]string{}, s.capabilities...),
		Metadata:       s.metadata,
		ClientVersion:  s.clientVersion,
		HostToken:      s.hostToken,
		JoinToken:      s.joinToken,
		CreatedAt:      s.createdAt,
		ExpiresAt:      s.expiresAt,
		CloseReason:    s.closeReason,
		HostLastSeenAt: s.hostLastSeenAt,
		EventSeq:       s.eventSeq,
		Events:         append([]types.Event{}, s.events...),
	}
	if s.closedAt != nil {
		closedAt := *s.closedAt
		rec.ClosedAt = &closedAt
	}
	if s.controllerLastSeenAt != nil {
		seen := *s.controllerLastSeenAt
		rec.ControllerLastSeenAt = &seen
	}
	return rec
}

// markClosed stamps closedAt and reason. Only the first call has effect.
func (s *Session) markClosed(now time.Time, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedAt != nil {
		return false
	}
	closedAt := now
	s.closedAt = &closedAt
	s.closeReason = reason
	return true
}

type sweepState struct {
	expired  bool
	stale    bool
	closedAt *time.Time
}

func (s *Session) sweepState(now time.Time, hostStale time.Duration) sweepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := sweepState{expired: s.expiredAt(now)}
	if s.closedAt != nil {
		closedAt := *s.closedAt
		st.closedAt = &closedAt
	} else {
		st.stale = !now.Before(s.hostLastSeenAt.Add(hostStale))
	}
	return st
}

// restoreEvents keeps only well-formed events, ordered by seq and capped to
// the most recent limit.
func restoreEvents(in []types.Event, sessionID string, limit int) ([]types.Event, int64) {
	out := make([]types.Event, 0, len(in))
	var maxSeq int64
	for _, ev := range in {
		if ev.Seq <= 0 || !ev.ToRole.Valid() {
			continue
		}
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if over := len(out) - limit; over > 0 {
		out = out[over:]
	}
	for _, ev := range out {
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
	}
	return out, maxSeq
}
