package interfaces

import (
	"time"

	"relayhub/pkg/types"
)

// Connection is one live socket attached to a session under a role.
type Connection interface {
	// ID is the client-supplied or generated connection id.
	ID() string

	SessionID() string

	Role() types.Role

	ConnectedAt() time.Time

	// Send queues a pre-encoded frame. It never blocks and reports false when
	// the connection is no longer open.
	Send(payload []byte) bool

	// CloseWith sends a close frame with code and reason, then tears the
	// connection down. Safe to call more than once.
	CloseWith(code int, reason string)
}
