package session

import "errors"

// Session registry error types
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionClosed          = errors.New("session is closed")
	ErrRoomNotFound           = errors.New("room code not found")
	ErrRoomCodeSpaceExhausted = errors.New("room code space exhausted")
)
