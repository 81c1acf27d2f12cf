package router

import "errors"

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoDeliverer  = errors.New("no deliverer configured")
	ErrEncodeFailed = errors.New("failed to encode event frame")
)
