// Package session owns the in-memory session registry: creation, lookup by
// id or room code, authorization, heartbeats, closing and the periodic sweep.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/clock"
	"relayhub/internal/identity"
	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

// Disconnector closes every live socket attached to a session.
type Disconnector interface {
	CloseSession(sessionID, reason string)
}

// Scheduler is notified whenever persistent state changes.
type Scheduler interface {
	Schedule()
}

type Options struct {
	TTL              time.Duration
	HostStale        time.Duration
	ClosedGrace      time.Duration
	HistoryLimit     int
	RoomCodeLength   int
	RoomCodeAttempts int
}

func DefaultOptions() Options {
	return Options{
		TTL:              2 * time.Hour,
		HostStale:        12 * time.Second,
		ClosedGrace:      5 * time.Minute,
		HistoryLimit:     300,
		RoomCodeLength:   4,
		RoomCodeAttempts: 1500,
	}
}

// CreateParams carries the already sanitized fields of a new session.
type CreateParams struct {
	Platform      string
	Capabilities  []string
	Metadata      map[string]any
	ClientVersion string
}

// SweepResult counts what a single sweep pass did.
type SweepResult struct {
	Expired int
	Stale   int
	Removed int
}

// Manager is the session registry. Lock order is Manager.mu before
// Session.mu; the Disconnector is never called with Manager.mu held.
type Manager struct {
	opts         Options
	clock        clock.Clock
	codes        *RoomCodeIndex
	disconnector Disconnector
	scheduler    Scheduler
	logger       zerolog.Logger
	metrics      *telemetry.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session registry. disconnector and scheduler may be nil.
func NewManager(opts Options, clk clock.Clock, disconnector Disconnector, scheduler Scheduler, logger zerolog.Logger) *Manager {
	defaults := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.HostStale <= 0 {
		opts.HostStale = defaults.HostStale
	}
	if opts.ClosedGrace <= 0 {
		opts.ClosedGrace = defaults.ClosedGrace
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.RoomCodeLength <= 0 {
		opts.RoomCodeLength = defaults.RoomCodeLength
	}
	if opts.RoomCodeAttempts <= 0 {
		opts.RoomCodeAttempts = defaults.RoomCodeAttempts
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		opts:         opts,
		clock:        clk,
		codes:        NewRoomCodeIndex(opts.RoomCodeLength, opts.RoomCodeAttempts),
		disconnector: disconnector,
		scheduler:    scheduler,
		logger:       logger.With().Str("component", "session").Logger(),
		metrics:      telemetry.GetMetrics(),
		sessions:     make(map[string]*Session),
	}
}

// SetDisconnector wires the socket registry after construction.
func (m *Manager) SetDisconnector(d Disconnector) {
	m.mu.Lock()
	m.disconnector = d
	m.mu.Unlock()
}

// SetScheduler wires the persistence scheduler after construction.
func (m *Manager) SetScheduler(s Scheduler) {
	m.mu.Lock()
	m.scheduler = s
	m.mu.Unlock()
}

func (m *Manager) Options() Options { return m.opts }

func (m *Manager) Now() time.Time { return m.clock.Now() }

// Create registers a new open session with fresh secrets and a room code.
func (m *Manager) Create(params CreateParams) (*Session, error) {
	now := m.clock.Now()

	platform := params.Platform
	if platform == "" {
		platform = "unknown"
	}
	clientVersion := params.ClientVersion
	if clientVersion == "" {
		clientVersion = "1"
	}
	capabilities := params.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.mu.Lock()
	id := identity.NewID(identity.SessionIDLength)
	for m.sessions[id] != nil {
		id = identity.NewID(identity.SessionIDLength)
	}
	code, err := m.codes.Reserve(id, "")
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn().Int("active_codes", m.codes.Len()).Msg("room code space exhausted")
		return nil, err
	}
	s := &Session{
		id:             id,
		roomCode:       code,
		platform:       platform,
		capabilities:   capabilities,
		metadata:       metadata,
		clientVersion:  clientVersion,
		hostToken:      identity.NewSecret(identity.HostTokenLength),
		joinToken:      identity.NewSecret(identity.JoinTokenLength),
		createdAt:      now,
		expiresAt:      now.Add(m.opts.TTL),
		historyLimit:   m.opts.HistoryLimit,
		hostLastSeenAt: now,
	}
	m.sessions[id] = s
	m.mu.Unlock()

	telemetry.Inc(m.metrics.SessionsCreatedTotal, "platform", platform)
	m.logger.Info().
		Str("session_id", id).
		Str("room_code", code).
		Str("platform", platform).
		Msg("session created")
	m.schedule()
	return s, nil
}

// Get returns the session with id. A session found past its expiry is closed
// and removed on the spot and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	id = types.SanitizeID(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.expiredAt(m.clock.Now()) {
		m.Close(s, types.ReasonExpired)
		m.remove(s)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ByRoomCode resolves an open session from its room code. A code still owned
// by a missing or closed session is released.
func (m *Manager) ByRoomCode(code string) (*Session, error) {
	id, ok := m.codes.Lookup(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	s, err := m.Get(id)
	if err != nil || !s.IsOpen(m.clock.Now()) {
		m.codes.Release(code, id)
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// IsOpen reports whether s is open right now.
func (m *Manager) IsOpen(s *Session) bool {
	return s.IsOpen(m.clock.Now())
}

// Touch refreshes the heartbeat of role.
func (m *Manager) Touch(s *Session, role types.Role) {
	s.Touch(role, m.clock.Now())
	m.schedule()
}

// Append sequences ev into the session log, hands it to deliver and
// schedules a snapshot.
func (m *Manager) Append(s *Session, ev types.Event, deliver func(types.Event)) (types.Event, error) {
	saved, err := s.Append(ev, deliver)
	if err != nil {
		return saved, err
	}
	m.schedule()
	return saved, nil
}

// Close marks the session closed, releases its room code and disconnects its
// sockets with reason. Repeated calls only disconnect again.
func (m *Manager) Close(s *Session, reason string) {
	if s.markClosed(m.clock.Now(), reason) {
		m.codes.Release(s.RoomCode(), s.ID())
		telemetry.Inc(m.metrics.SessionsClosedTotal, "reason", reason)
		m.logger.Info().Str("session_id", s.ID()).Str("reason", reason).Msg("session closed")
	}

	m.mu.RLock()
	d := m.disconnector
	m.mu.RUnlock()
	if d != nil {
		d.CloseSession(s.ID(), reason)
	}
	m.schedule()
}

// Sweep closes expired and host-stale sessions and removes expired sessions
// and sessions that have been closed for longer than the grace period.
func (m *Manager) Sweep(now time.Time) SweepResult {
	var result SweepResult
	for _, s := range m.list() {
		st := s.sweepState(now, m.opts.HostStale)
		switch {
		case st.expired:
			m.Close(s, types.ReasonExpired)
			m.remove(s)
			result.Expired++
			result.Removed++
		case st.closedAt != nil:
			if !now.Before(st.closedAt.Add(m.opts.ClosedGrace)) {
				m.Close(s, types.ReasonClosed)
				m.remove(s)
				result.Removed++
			}
		case st.stale:
			m.Close(s, types.ReasonHostDisconnected)
			result.Stale++
		}
	}
	if result.Expired+result.Stale+result.Removed > 0 {
		m.logger.Debug().
			Int("expired", result.Expired).
			Int("stale", result.Stale).
			Int("removed", result.Removed).
			Msg("session sweep")
	}
	return result
}

// Count returns the number of registered sessions, open or closed.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Records snapshots every registered session ordered by creation time.
func (m *Manager) Records() []types.SessionRecord {
	sessions := m.list()
	out := make([]types.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Record())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Restore loads persisted sessions. Expired records and records without both
// secrets are skipped. It returns the number of sessions restored.
func (m *Manager) Restore(records []types.SessionRecord) int {
	now := m.clock.Now()
	restored := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		id := types.SanitizeID(rec.ID)
		if id == "" || m.sessions[id] != nil {
			continue
		}
		if rec.ExpiresAt.IsZero() || !now.Before(rec.ExpiresAt) {
			continue
		}
		hostToken := strings.TrimSpace(rec.HostToken)
		joinToken := strings.TrimSpace(rec.JoinToken)
		if hostToken == "" || joinToken == "" {
			continue
		}

		code := rec.RoomCode
		if rec.ClosedAt == nil {
			reserved, err := m.codes.Reserve(id, types.SanitizeRoomCode(rec.RoomCode, m.opts.RoomCodeLength))
			if err != nil {
				m.logger.Warn().Str("session_id", id).Msg("no room code available for restored session")
				continue
			}
			code = reserved
		}

		events, maxSeq := restoreEvents(rec.Events, id, m.opts.HistoryLimit)
		seq := rec.EventSeq
		if maxSeq > seq {
			seq = maxSeq
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		hostLastSeen := rec.HostLastSeenAt
		if hostLastSeen.IsZero() {
			hostLastSeen = createdAt
		}
		platform := types.SanitizeSimple(rec.Platform)
		if platform == "" {
			platform = "unknown"
		}
		clientVersion := types.SanitizeClientVersion(rec.ClientVersion)
		if clientVersion == "" {
			clientVersion = "1"
		}
		capabilities := rec.Capabilities
		if capabilities == nil {
			capabilities = []string{}
		}
		metadata := rec.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}

		s := &Session{
			id:                   id,
			roomCode:             code,
			platform:             platform,
			capabilities:         capabilities,
			metadata:             metadata,
			clientVersion:        clientVersion,
			hostToken:            hostToken,
			joinToken:            joinToken,
			createdAt:            createdAt,
			expiresAt:            rec.ExpiresAt,
			historyLimit:         m.opts.HistoryLimit,
			closedAt:             rec.ClosedAt,
			closeReason:          rec.CloseReason,
			hostLastSeenAt:       hostLastSeen,
			controllerLastSeenAt: rec.ControllerLastSeenAt,
			eventSeq:             seq,
			events:               events,
		}
		m.sessions[id] = s
		restored++
	}

	m.logger.Info().Int("restored", restored).Int("records", len(records)).Msg("sessions restored")
	return restored
}

func (m *Manager) list() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID()] == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()
	m.codes.Release(s.RoomCode(), s.ID())
	m.schedule()
}

func (m *Manager) schedule() {
	m.mu.RLock()
	sch := m.scheduler
	m.mu.RUnlock()
	if sch != nil {
		sch.Schedule()
	}
}
