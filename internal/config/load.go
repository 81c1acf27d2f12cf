package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RELAYHUB_SESSION_TTL.
const EnvPrefix = "RELAYHUB"

// RegisterFlags binds every setting in cfg to a flag on fs. Current values
// of cfg become the flag defaults.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.HTTP.Host, "http.host", cfg.HTTP.Host, "address to bind to")
	fs.IntVarP(&cfg.HTTP.Port, "http.port", "p", cfg.HTTP.Port, "port to listen on (env: RELAYHUB_HTTP_PORT or PORT)")
	fs.DurationVar(&cfg.HTTP.ReadTimeout, "http.read-timeout", cfg.HTTP.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&cfg.HTTP.WriteTimeout, "http.write-timeout", cfg.HTTP.WriteTimeout, "HTTP write timeout")
	fs.Int64Var(&cfg.HTTP.BodyLimit, "http.body-limit", cfg.HTTP.BodyLimit, "maximum JSON request body in bytes")
	fs.StringSliceVar(&cfg.HTTP.CORSOrigins, "http.cors-origins", cfg.HTTP.CORSOrigins, "allowed CORS origins")

	fs.StringVar(&cfg.Public.ControllerBaseURL, "public.controller-base-url", cfg.Public.ControllerBaseURL, "base URL of the controller web app")
	fs.StringVar(&cfg.Public.HubBaseURL, "public.hub-base-url", cfg.Public.HubBaseURL, "public base URL of this hub (default http://localhost:<port>)")
	fs.StringVar(&cfg.Public.GAMeasurementID, "public.ga-measurement-id", cfg.Public.GAMeasurementID, "analytics measurement id forwarded to controllers")
	fs.BoolVar(&cfg.Public.GADebug, "public.ga-debug", cfg.Public.GADebug, "enable analytics debug mode on controllers")

	fs.DurationVar(&cfg.Session.TTL, "session.ttl", cfg.Session.TTL, "session lifetime")
	fs.DurationVar(&cfg.Session.HostStale, "session.host-stale", cfg.Session.HostStale, "host silence before a session is closed")
	fs.DurationVar(&cfg.Session.ClosedGrace, "session.closed-grace", cfg.Session.ClosedGrace, "how long closed sessions stay visible")
	fs.DurationVar(&cfg.Session.SweepInterval, "session.sweep-interval", cfg.Session.SweepInterval, "maintenance sweep interval")
	fs.IntVar(&cfg.Session.HistoryLimit, "session.history-limit", cfg.Session.HistoryLimit, "events kept per session")
	fs.IntVar(&cfg.Session.PollLimit, "session.poll-limit", cfg.Session.PollLimit, "default poll page size")
	fs.IntVar(&cfg.Session.PollMaxLimit, "session.poll-max-limit", cfg.Session.PollMaxLimit, "maximum poll page size")
	fs.IntVar(&cfg.Session.RoomCodeLength, "session.room-code-length", cfg.Session.RoomCodeLength, "room code digits (4-8)")
	fs.IntVar(&cfg.Session.RoomCodeAttempts, "session.room-code-attempts", cfg.Session.RoomCodeAttempts, "random draws before the room code space counts as exhausted")

	fs.IntVar(&cfg.WebSocket.MaxControllers, "websocket.max-controllers", cfg.WebSocket.MaxControllers, "controller sockets per session (1-10)")
	fs.DurationVar(&cfg.WebSocket.PingInterval, "websocket.ping-interval", cfg.WebSocket.PingInterval, "server ping interval")
	fs.DurationVar(&cfg.WebSocket.PongWait, "websocket.pong-wait", cfg.WebSocket.PongWait, "read deadline extended by each pong")
	fs.DurationVar(&cfg.WebSocket.WriteTimeout, "websocket.write-timeout", cfg.WebSocket.WriteTimeout, "per-frame write timeout")
	fs.IntVar(&cfg.WebSocket.SendBuffer, "websocket.send-buffer", cfg.WebSocket.SendBuffer, "queued frames per socket")

	fs.DurationVar(&cfg.Join.Window, "join.window", cfg.Join.Window, "join-by-code rate limit window")
	fs.IntVar(&cfg.Join.MaxAttempts, "join.max-attempts", cfg.Join.MaxAttempts, "join-by-code attempts per window")
	fs.StringVar(&cfg.Join.RedisAddr, "join.redis-addr", cfg.Join.RedisAddr, "redis address for a shared join limiter")
	fs.StringVar(&cfg.Join.RedisPassword, "join.redis-password", cfg.Join.RedisPassword, "redis password")
	fs.IntVar(&cfg.Join.RedisDB, "join.redis-db", cfg.Join.RedisDB, "redis database")

	fs.DurationVar(&cfg.Challenge.TTL, "challenge.ttl", cfg.Challenge.TTL, "sliding challenge lifetime")
	fs.IntVar(&cfg.Challenge.MaxQuestions, "challenge.max-questions", cfg.Challenge.MaxQuestions, "questions kept per challenge (1-100)")
	fs.IntVar(&cfg.Challenge.LeaderboardSize, "challenge.leaderboard-size", cfg.Challenge.LeaderboardSize, "leaderboard rows returned")

	fs.StringVar(&cfg.Store.Backend, "store.backend", cfg.Store.Backend, "snapshot backend: none, file or sqlite")
	fs.StringVar(&cfg.Store.SessionFile, "store.session-file", cfg.Store.SessionFile, "session snapshot file")
	fs.StringVar(&cfg.Store.ChallengeFile, "store.challenge-file", cfg.Store.ChallengeFile, "challenge snapshot file (default <session-file>.challenges)")
	fs.StringVar(&cfg.Store.DatabasePath, "store.database-path", cfg.Store.DatabasePath, "SQLite snapshot database")
	fs.DurationVar(&cfg.Store.Debounce, "store.debounce", cfg.Store.Debounce, "delay that coalesces snapshot writes")

	fs.StringVar(&cfg.Trivia.BaseURL, "trivia.base-url", cfg.Trivia.BaseURL, "trivia content provider base URL")
	fs.StringVar(&cfg.Trivia.APIKey, "trivia.api-key", cfg.Trivia.APIKey, "trivia content provider API key")
	fs.DurationVar(&cfg.Trivia.Timeout, "trivia.timeout", cfg.Trivia.Timeout, "trivia request timeout (1s-30s)")
	fs.IntVar(&cfg.Trivia.MaxQuestions, "trivia.max-questions", cfg.Trivia.MaxQuestions, "questions returned per request")

	fs.StringVar(&cfg.Audio.GameplayURL, "audio.gameplay-url", cfg.Audio.GameplayURL, "default gameplay loop")
	fs.StringVar(&cfg.Audio.MenuURL, "audio.menu-url", cfg.Audio.MenuURL, "default menu loop")
	fs.StringSliceVar(&cfg.Audio.AllowedHosts, "audio.allowed-hosts", cfg.Audio.AllowedHosts, "hosts the loop proxy may fetch from")
	fs.DurationVar(&cfg.Audio.Timeout, "audio.timeout", cfg.Audio.Timeout, "loop fetch timeout (1s-60s)")

	fs.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "log level")
	fs.BoolVar(&cfg.Log.Pretty, "log.pretty", cfg.Log.Pretty, "human readable logs")
}

// Load fills every flag the user did not set explicitly from the
// environment, then from configFile when one is given.
func Load(fs *pflag.FlagSet, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	var setErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "http.port" {
			_ = v.BindEnv(f.Name, EnvPrefix+"_HTTP_PORT", "PORT")
		} else {
			_ = v.BindEnv(f.Name)
		}
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, flagValue(v.Get(f.Name))); err != nil && setErr == nil {
			setErr = fmt.Errorf("invalid value for %s: %w", f.Name, err)
		}
	})
	return setErr
}

func flagValue(raw any) string {
	switch val := raw.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprintf("%v", p))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}
