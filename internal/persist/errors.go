package persist

import "errors"

var (
	ErrSchedulerStopped = errors.New("persistence scheduler stopped")
)
