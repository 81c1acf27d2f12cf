// Package router turns inbound messages into sequenced envelopes, pushes them
// to live sockets of the addressed role and serves the same log to pollers.
package router

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/identity"
	"relayhub/internal/session"
	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

const (
	DefaultPollLimit = 50
	MaxPollLimit     = 200
)

// Deliverer pushes an encoded frame to every live connection of role in a
// session. Sends are fire and forget.
type Deliverer interface {
	Deliver(sessionID string, role types.Role, frame []byte)
}

// Router routes envelopes between the two roles of a session.
type Router struct {
	sessions  *session.Manager
	deliverer Deliverer
	pollLimit int
	pollMax   int
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewRouter creates a router. deliverer may be nil for poll-only setups and
// attached later with SetDeliverer.
func NewRouter(sessions *session.Manager, deliverer Deliverer, logger zerolog.Logger) *Router {
	return &Router{
		sessions:  sessions,
		deliverer: deliverer,
		pollLimit: DefaultPollLimit,
		pollMax:   MaxPollLimit,
		logger:    logger.With().Str("component", "router").Logger(),
		metrics:   telemetry.GetMetrics(),
	}
}

// SetDeliverer attaches the live-socket registry. It must be called before
// traffic starts.
func (r *Router) SetDeliverer(d Deliverer) {
	r.deliverer = d
}

// SetPollLimits overrides the default and maximum poll page sizes.
func (r *Router) SetPollLimits(def, maxLimit int) {
	if maxLimit > 0 {
		r.pollMax = maxLimit
	}
	if def > 0 {
		r.pollLimit = min(def, r.pollMax)
	}
}

// BuildEnvelope normalizes an inbound message. toRole is the role opposite
// fromRole unless the message names the other role explicitly.
func BuildEnvelope(s *session.Session, fromRole types.Role, incoming map[string]any, source types.Source, now time.Time) types.Event {
	if incoming == nil {
		incoming = map[string]any{}
	}

	toRole := fromRole.Opposite()
	if requested, ok := incoming["toRole"].(string); ok {
		if role := types.ParseRole(requested, toRole); role != fromRole {
			toRole = role
		}
	}

	v, _ := incoming["v"].(string)
	if v == "" {
		v = types.ProtocolVersion
	}
	id := types.SanitizeID(incoming["id"])
	if id == "" {
		id = identity.NewEventID()
	}
	payload, ok := incoming["payload"].(map[string]any)
	if !ok {
		payload = map[string]any{}
	}
	sentAt, _ := incoming["sentAt"].(string)
	if sentAt == "" {
		sentAt = now.UTC().Format(time.RFC3339Nano)
	}

	return types.Event{
		V:          v,
		Type:       types.SanitizeType(incoming["type"]),
		ID:         id,
		SessionID:  s.ID(),
		Action:     types.SanitizeAction(incoming["action"]),
		Payload:    payload,
		FromRole:   fromRole,
		ToRole:     toRole,
		Source:     source,
		SentAt:     sentAt,
		ReceivedAt: now.UTC(),
	}
}

// Publish builds, sequences and delivers an envelope from fromRole. The
// sender's own connections never receive it. Publishing into a closed
// session fails with session.ErrSessionClosed.
func (r *Router) Publish(s *session.Session, fromRole types.Role, incoming map[string]any, source types.Source) (types.Event, error) {
	env := BuildEnvelope(s, fromRole, incoming, source, r.sessions.Now())
	saved, err := r.sessions.Append(s, env, r.deliver)
	if err != nil {
		return types.Event{}, err
	}
	telemetry.Inc(r.metrics.EventsRoutedTotal, "source", string(source))
	return saved, nil
}

func (r *Router) deliver(ev types.Event) {
	if r.deliverer == nil {
		return
	}
	frame, err := EventFrame(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", ev.SessionID).Int64("seq", ev.Seq).Msg("dropping undeliverable event")
		return
	}
	r.deliverer.Deliver(ev.SessionID, ev.ToRole, frame)
}

// EventFrame encodes the {"type":"event"} push frame for ev.
func EventFrame(ev types.Event) ([]byte, error) {
	frame, err := json.Marshal(struct {
		Type  string      `json:"type"`
		Event types.Event `json:"event"`
	}{Type: "event", Event: ev})
	if err != nil {
		return nil, ErrEncodeFailed
	}
	return frame, nil
}

// PollResult is one page of the poll fallback.
type PollResult struct {
	Events []types.Event `json:"events"`
	Cursor int64         `json:"cursor"`
}

// Poll returns events for role with seq greater than after, oldest first.
func (r *Router) Poll(s *session.Session, role types.Role, after int64, limit int) PollResult {
	events, cursor := s.EventsAfter(role, after, r.ClampLimit(limit))
	return PollResult{Events: events, Cursor: cursor}
}

// ClampLimit applies the default page size to non-positive limits and caps
// the rest at the maximum.
func (r *Router) ClampLimit(limit int) int {
	if limit <= 0 {
		return r.pollLimit
	}
	return min(limit, r.pollMax)
}

// ParseCursor floors a numeric cursor. Anything invalid or negative is 0.
func ParseCursor(raw string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int64(math.Floor(f))
}

// ParseLimit reads a page size query value; unparsable values are 0.
func ParseLimit(raw string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return 0
	}
	return int(math.Floor(min(f, math.MaxInt32)))
}
