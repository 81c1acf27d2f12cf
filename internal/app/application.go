// Package app wires the hub's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relayhub/internal/api"
	"relayhub/internal/challenge"
	"relayhub/internal/clock"
	"relayhub/internal/config"
	"relayhub/internal/database"
	"relayhub/internal/persist"
	"relayhub/internal/ratelimit"
	"relayhub/internal/router"
	"relayhub/internal/session"
	"relayhub/internal/sweeper"
	"relayhub/internal/upstream"
	"relayhub/internal/websocket"
	pkgdatabase "relayhub/pkg/database"
	"relayhub/pkg/interfaces"
	"relayhub/pkg/types"
)

const redisPingTimeout = 2 * time.Second

// Application owns every long-lived component of the hub.
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      interfaces.SnapshotStore
	persist    *persist.Scheduler
	sessions   *session.Manager
	registry   *websocket.Registry
	challenges *challenge.Store
	redis      *ratelimit.RedisLimiter
	sweeper    *sweeper.Sweeper
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication builds the component graph and restores any persisted
// state. Order: store, persistence, registry, sessions, challenges, router,
// limiter, upstreams, API.
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return newApplication(cfg, clock.Real(), logger)
}

func newApplication(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (*Application, error) {
	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	scheduler := persist.NewScheduler(store, cfg.Store.Debounce, clk, logger)
	registry := websocket.NewRegistry(cfg.WebSocket.MaxControllers, clk, logger)
	sessions := session.NewManager(session.Options{
		TTL:              cfg.Session.TTL,
		HostStale:        cfg.Session.HostStale,
		ClosedGrace:      cfg.Session.ClosedGrace,
		HistoryLimit:     cfg.Session.HistoryLimit,
		RoomCodeLength:   cfg.Session.RoomCodeLength,
		RoomCodeAttempts: cfg.Session.RoomCodeAttempts,
	}, clk, registry, scheduler, logger)
	challenges := challenge.NewStore(challenge.Options{
		TTL:             cfg.Challenge.TTL,
		MaxQuestions:    cfg.Challenge.MaxQuestions,
		LeaderboardSize: cfg.Challenge.LeaderboardSize,
	}, clk, scheduler, logger)
	scheduler.Attach(sessions, challenges)

	if store != nil {
		if err := restore(context.Background(), store, sessions, challenges, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	rt := router.NewRouter(sessions, registry, logger)
	rt.SetPollLimits(cfg.Session.PollLimit, cfg.Session.PollMaxLimit)

	local := ratelimit.NewLimiter(cfg.Join.MaxAttempts, cfg.Join.Window, clk)
	var limiter interfaces.RateLimiter = local
	var shared *ratelimit.RedisLimiter
	if cfg.Join.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Join.RedisAddr,
			Password: cfg.Join.RedisPassword,
			DB:       cfg.Join.RedisDB,
		})
		shared = ratelimit.NewRedisLimiter(client, cfg.Join.MaxAttempts, cfg.Join.Window, local, logger)
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		if err := shared.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Join.RedisAddr).Msg("redis unreachable, join limits stay local until it recovers")
		}
		cancel()
		limiter = shared
	}

	links := api.NewLinks(cfg.Public.ControllerBaseURL, cfg.Public.HubBaseURL, cfg.Public.GAMeasurementID, cfg.Public.GADebug)
	wsHandler := websocket.NewHandler(sessions, registry, rt, links, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.PongWait,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger)

	apiServer := api.NewServer(api.Options{
		BodyLimit:      cfg.HTTP.BodyLimit,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RoomCodeLength: cfg.Session.RoomCodeLength,
	}, api.Deps{
		Sessions:   sessions,
		Router:     rt,
		Peers:      registry,
		Challenges: challenges,
		Limiter:    limiter,
		Trivia: upstream.NewTriviaClient(upstream.TriviaConfig{
			BaseURL:      cfg.Trivia.BaseURL,
			APIKey:       cfg.Trivia.APIKey,
			Timeout:      cfg.Trivia.Timeout,
			MaxQuestions: cfg.Trivia.MaxQuestions,
		}, logger),
		Audio: upstream.NewAudioProxy(upstream.AudioConfig{
			GameplayURL:  cfg.Audio.GameplayURL,
			MenuURL:      cfg.Audio.MenuURL,
			AllowedHosts: cfg.Audio.AllowedHosts,
			Timeout:      cfg.Audio.Timeout,
		}, logger),
		Links:     links,
		WebSocket: wsHandler,
	}, logger)

	return &Application{
		config:     cfg,
		logger:     logger.With().Str("component", "app").Logger(),
		store:      store,
		persist:    scheduler,
		sessions:   sessions,
		registry:   registry,
		challenges: challenges,
		redis:      shared,
		sweeper:    sweeper.New(sessions, limiter, challenges, clk, cfg.Session.SweepInterval, logger),
		apiServer:  apiServer,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
			Handler:           apiServer,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// openStore returns the configured snapshot backend, or nil when persistence
// is off.
func openStore(cfg config.StoreConfig, logger zerolog.Logger) (interfaces.SnapshotStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := persist.NewFileStore(cfg.SessionFile, cfg.ChallengeFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot files: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.DatabasePath
		store, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot database: %w", err)
		}
		if err := store.HealthCheck(context.Background()); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func restore(ctx context.Context, store interfaces.SnapshotStore, sessions *session.Manager, challenges *challenge.Store, logger zerolog.Logger) error {
	sessionRecords, err := store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	challengeRecords, err := store.LoadChallenges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load challenges: %w", err)
	}
	logger.Info().
		Int("sessions", sessions.Restore(sessionRecords)).
		Int("challenges", challenges.Restore(challengeRecords)).
		Msg("restored persisted state")
	return nil
}

// Start binds the listener, begins serving and starts the sweeper.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	if err := app.sweeper.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	serveErr := make(chan error, 1)
	app.mu.Lock()
	app.listener = ln
	app.serveErr = serveErr
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("http server stopped")
			serveErr <- err
		}
		close(serveErr)
	}()

	app.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("hub_base_url", app.config.Public.HubBaseURL).
		Str("controller_base_url", app.config.Public.ControllerBaseURL).
		Str("store", app.config.Store.Backend).
		Msg("relay hub listening")
	return nil
}

// Done yields a serve error, or closes when the server stops cleanly.
func (app *Application) Done() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop shuts down in reverse order: HTTP, sweeper, sockets, final snapshot,
// store, redis.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")
	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.sweeper.Stop(); err != nil && !errors.Is(err, sweeper.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("sweeper stop: %w", err))
	}
	app.registry.CloseAll(types.ReasonShutdown)

	if err := app.persist.Stop(ctx); err != nil && !errors.Is(err, persist.ErrSchedulerStopped) {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		app.logger.Warn().Err(err).Msg("shutdown finished with errors")
	} else {
		app.logger.Info().Msg("shutdown complete")
	}
	return err
}

// Handler is the root HTTP handler, usable without Start.
func (app *Application) Handler() http.Handler { return app.apiServer }

// Addr is the bound listen address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
