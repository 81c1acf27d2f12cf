package interfaces

import (
	"context"
	"time"
)

// RateLimiter guards a per-key attempt budget inside a fixed window.
type RateLimiter interface {
	// Allow consumes one attempt for key and reports whether it fits the budget.
	Allow(ctx context.Context, key string) (bool, error)

	// Prune drops idle keys. Backends with native expiry may ignore it.
	Prune(now time.Time)
}
