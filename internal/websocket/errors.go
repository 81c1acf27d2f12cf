package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Close reasons sent with 1008 when a socket is refused after the upgrade.
const (
	ReasonMissingSession  = "missing_session"
	ReasonSessionNotFound = "session_not_found"
	ReasonSessionClosed   = "session_closed"
	ReasonUnauthorized    = "unauthorized"
)
