package upstream

import "errors"

var (
	ErrTriviaNotConfigured  = errors.New("missing_trivia_base_url")
	ErrInvalidLoopKind      = errors.New("invalid loop kind")
	ErrLoopSourceMissing    = errors.New("no loop source configured")
	ErrLoopSourceNotAllowed = errors.New("loop source host not allowed")
	ErrAudioUpstream        = errors.New("audio upstream returned an error status")
)
