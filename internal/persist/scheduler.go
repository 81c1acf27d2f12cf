// Package persist mirrors session and challenge state to a snapshot store.
// Changes are coalesced: every Schedule call pushes the next write out by the
// debounce delay, so a burst of changes produces a single flush.
package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/clock"
	"relayhub/internal/telemetry"
	"relayhub/pkg/interfaces"
	"relayhub/pkg/types"
)

// SessionSource yields the resumable session state.
type SessionSource interface {
	Records() []types.SessionRecord
}

// ChallengeSource yields the resumable challenge state.
type ChallengeSource interface {
	Records() []types.ChallengeRecord
}

type Scheduler struct {
	store   interfaces.SnapshotStore
	delay   time.Duration
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu         sync.Mutex
	timer      *clock.Timer
	sessions   SessionSource
	challenges ChallengeSource
	stopped    bool

	// flushMu keeps flushes from overlapping.
	flushMu sync.Mutex
}

// NewScheduler returns a scheduler writing to store. A nil store disables
// persistence; Schedule and Flush become no-ops.
func NewScheduler(store interfaces.SnapshotStore, delay time.Duration, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		store:   store,
		delay:   delay,
		clock:   clk,
		logger:  logger.With().Str("component", "persist").Logger(),
		metrics: telemetry.GetMetrics(),
	}
}

// Attach registers the state sources. Either may be nil.
func (s *Scheduler) Attach(sessions SessionSource, challenges ChallengeSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sessions
	s.challenges = challenges
}

func (s *Scheduler) Enabled() bool { return s.store != nil }

// Schedule (re)arms the debounce timer.
func (s *Scheduler) Schedule() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.delay, s.fire)
}

// Pending reports whether a write is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot flush failed")
	}
}

// Flush cancels any pending timer and writes both snapshots now. Both writes
// are attempted; the first error is returned.
func (s *Scheduler) Flush(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	sessions, challenges := s.sessions, s.challenges
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var firstErr error
	if sessions != nil {
		if err := s.store.SaveSessions(ctx, sessions.Records()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist sessions")
			firstErr = err
		}
	}
	if challenges != nil {
		if err := s.store.SaveChallenges(ctx, challenges.Records()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist challenges")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		telemetry.Inc(s.metrics.PersistErrorsTotal, "", "")
		return firstErr
	}
	telemetry.Inc(s.metrics.PersistFlushesTotal, "", "")
	return nil
}

// Stop performs a final synchronous flush and ignores later Schedule calls.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.stopped = true
	s.mu.Unlock()
	return s.Flush(ctx)
}
