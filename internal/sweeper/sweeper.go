// Package sweeper runs the fixed-interval maintenance pass: session expiry
// and staleness, join limiter pruning and challenge expiry.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/clock"
	"relayhub/internal/session"
)

const DefaultInterval = 5 * time.Second

// Sessions is the part of the session registry the sweep drives.
type Sessions interface {
	Sweep(now time.Time) session.SweepResult
}

// Limiter drops idle rate-limit entries.
type Limiter interface {
	Prune(now time.Time)
}

// Challenges drops challenges whose sliding expiry has lapsed.
type Challenges interface {
	Prune(now time.Time) int
}

// Result summarises one pass.
type Result struct {
	Sessions   session.SweepResult
	Challenges int
}

// Sweeper owns the maintenance ticker. Any dependency may be nil.
type Sweeper struct {
	sessions   Sessions
	limiter    Limiter
	challenges Challenges
	clock      clock.Clock
	interval   time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(sessions Sessions, limiter Limiter, challenges Challenges, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		sessions:   sessions,
		limiter:    limiter,
		challenges: challenges,
		clock:      clk,
		interval:   interval,
		logger:     logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start launches the loop. It ends on Stop or when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker, s.stop, s.done)
	s.logger.Debug().Dur("interval", s.interval).Msg("sweeper started")
	return nil
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

func (s *Sweeper) run(ctx context.Context, ticker *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.RunOnce(now)
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

// RunOnce performs a single maintenance pass at now.
func (s *Sweeper) RunOnce(now time.Time) Result {
	var res Result
	if s.sessions != nil {
		res.Sessions = s.sessions.Sweep(now)
	}
	if s.limiter != nil {
		s.limiter.Prune(now)
	}
	if s.challenges != nil {
		res.Challenges = s.challenges.Prune(now)
	}

	if res.Sessions != (session.SweepResult{}) || res.Challenges > 0 {
		s.logger.Debug().
			Int("expired", res.Sessions.Expired).
			Int("stale", res.Sessions.Stale).
			Int("removed", res.Sessions.Removed).
			Int("challenges_pruned", res.Challenges).
			Msg("sweep")
	}
	return res
}
