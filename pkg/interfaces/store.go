package interfaces

import (
	"context"

	"relayhub/pkg/types"
)

// SnapshotStore persists the resumable state of sessions and challenges.
// Each Save replaces the previous snapshot wholesale.
type SnapshotStore interface {
	LoadSessions(ctx context.Context) ([]types.SessionRecord, error)
	LoadChallenges(ctx context.Context) ([]types.ChallengeRecord, error)
	SaveSessions(ctx context.Context, records []types.SessionRecord) error
	SaveChallenges(ctx context.Context, records []types.ChallengeRecord) error
	Close() error
}
