// Package config holds the hub's settings, their defaults and validation,
// and the flag, environment and file loading that fills them in.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"relayhub/pkg/types"
)

const (
	BackendNone   = "none"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Public    PublicConfig    `json:"public"`
	Session   SessionConfig   `json:"session"`
	WebSocket WebSocketConfig `json:"websocket"`
	Join      JoinConfig      `json:"join"`
	Challenge ChallengeConfig `json:"challenge"`
	Store     StoreConfig     `json:"store"`
	Trivia    TriviaConfig    `json:"trivia"`
	Audio     AudioConfig     `json:"audio"`
	Log       LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BodyLimit    int64         `json:"body_limit"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// PublicConfig controls the URLs handed to clients.
type PublicConfig struct {
	ControllerBaseURL string `json:"controller_base_url"`
	HubBaseURL        string `json:"hub_base_url"`
	GAMeasurementID   string `json:"ga_measurement_id"`
	GADebug           bool   `json:"ga_debug"`
}

type SessionConfig struct {
	TTL              time.Duration `json:"ttl"`
	HostStale        time.Duration `json:"host_stale"`
	ClosedGrace      time.Duration `json:"closed_grace"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	HistoryLimit     int           `json:"history_limit"`
	PollLimit        int           `json:"poll_limit"`
	PollMaxLimit     int           `json:"poll_max_limit"`
	RoomCodeLength   int           `json:"room_code_length"`
	RoomCodeAttempts int           `json:"room_code_attempts"`
}

type WebSocketConfig struct {
	MaxControllers int           `json:"max_controllers"`
	PingInterval   time.Duration `json:"ping_interval"`
	PongWait       time.Duration `json:"pong_wait"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	SendBuffer     int           `json:"send_buffer"`
}

// JoinConfig bounds join-by-code attempts per caller. With RedisAddr set the
// window is shared between hub instances.
type JoinConfig struct {
	Window        time.Duration `json:"window"`
	MaxAttempts   int           `json:"max_attempts"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
}

type ChallengeConfig struct {
	TTL             time.Duration `json:"ttl"`
	MaxQuestions    int           `json:"max_questions"`
	LeaderboardSize int           `json:"leaderboard_size"`
}

type StoreConfig struct {
	Backend       string        `json:"backend"`
	SessionFile   string        `json:"session_file"`
	ChallengeFile string        `json:"challenge_file"`
	DatabasePath  string        `json:"database_path"`
	Debounce      time.Duration `json:"debounce"`
}

type TriviaConfig struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"-"`
	Timeout      time.Duration `json:"timeout"`
	MaxQuestions int           `json:"max_questions"`
}

type AudioConfig struct {
	GameplayURL  string        `json:"gameplay_url"`
	MenuURL      string        `json:"menu_url"`
	AllowedHosts []string      `json:"allowed_hosts"`
	Timeout      time.Duration `json:"timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			BodyLimit:    200 << 10,
			CORSOrigins:  []string{"*"},
		},
		Public: PublicConfig{
			ControllerBaseURL: "http://localhost:3000",
		},
		Session: SessionConfig{
			TTL:              2 * time.Hour,
			HostStale:        12 * time.Second,
			ClosedGrace:      5 * time.Minute,
			SweepInterval:    5 * time.Second,
			HistoryLimit:     300,
			PollLimit:        50,
			PollMaxLimit:     200,
			RoomCodeLength:   4,
			RoomCodeAttempts: 1500,
		},
		WebSocket: WebSocketConfig{
			MaxControllers: 1,
			PingInterval:   5 * time.Second,
			PongWait:       30 * time.Second,
			WriteTimeout:   5 * time.Second,
			SendBuffer:     100,
		},
		Join: JoinConfig{
			Window:      60 * time.Second,
			MaxAttempts: 30,
		},
		Challenge: ChallengeConfig{
			TTL:             7 * 24 * time.Hour,
			MaxQuestions:    25,
			LeaderboardSize: 20,
		},
		Store: StoreConfig{
			DatabasePath: "./data/relayhub.db",
			Debounce:     150 * time.Millisecond,
		},
		Trivia: TriviaConfig{
			Timeout:      7 * time.Second,
			MaxQuestions: 60,
		},
		Audio: AudioConfig{
			GameplayURL: "https://sotw-assets.s3.us-east-1.amazonaws.com/bgloop.mp3",
			MenuURL:     "https://sotw-assets.s3.us-east-1.amazonaws.com/loop.mp3",
			AllowedHosts: []string{
				"sotw-assets.s3.us-east-1.amazonaws.com",
				"d3tswg7dtbmd2x.cloudfront.net",
			},
			Timeout: 12 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Normalize clamps tunables into their supported ranges and fills in values
// derived from other settings.
func (c *Config) Normalize() {
	c.Public.ControllerBaseURL = strings.TrimRight(strings.TrimSpace(c.Public.ControllerBaseURL), "/")
	c.Public.HubBaseURL = strings.TrimRight(strings.TrimSpace(c.Public.HubBaseURL), "/")
	if c.Public.HubBaseURL == "" {
		c.Public.HubBaseURL = "http://localhost:" + strconv.Itoa(c.HTTP.Port)
	}
	c.Public.GAMeasurementID = types.SanitizeGAMeasurementID(c.Public.GAMeasurementID)

	c.Session.RoomCodeLength = clamp(c.Session.RoomCodeLength, 4, 8)
	if c.Session.PollMaxLimit > 0 && c.Session.PollLimit > c.Session.PollMaxLimit {
		c.Session.PollLimit = c.Session.PollMaxLimit
	}
	c.WebSocket.MaxControllers = clamp(c.WebSocket.MaxControllers, 1, 10)
	c.Challenge.MaxQuestions = clamp(c.Challenge.MaxQuestions, 1, 100)
	c.Trivia.Timeout = clampDuration(c.Trivia.Timeout, time.Second, 30*time.Second)
	c.Trivia.BaseURL = strings.TrimRight(strings.TrimSpace(c.Trivia.BaseURL), "/")
	c.Audio.Timeout = clampDuration(c.Audio.Timeout, time.Second, 60*time.Second)
	c.HTTP.CORSOrigins = splitList(c.HTTP.CORSOrigins)
	c.Audio.AllowedHosts = splitList(c.Audio.AllowedHosts)

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendNone
		if c.Store.SessionFile != "" {
			c.Store.Backend = BackendFile
		}
	}
	if c.Store.Backend == BackendFile && c.Store.ChallengeFile == "" && c.Store.SessionFile != "" {
		c.Store.ChallengeFile = c.Store.SessionFile + ".challenges"
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535: %d", c.HTTP.Port)
	}
	if c.HTTP.BodyLimit <= 0 {
		return fmt.Errorf("http body limit must be positive")
	}
	if c.Public.ControllerBaseURL == "" {
		return fmt.Errorf("controller base url cannot be empty")
	}
	if c.Session.TTL <= 0 || c.Session.HostStale <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session ttl, host-stale and sweep-interval must be positive")
	}
	if c.Session.ClosedGrace < 0 {
		return fmt.Errorf("session closed-grace cannot be negative")
	}
	if c.Session.HistoryLimit < 1 {
		return fmt.Errorf("session history limit must be at least 1")
	}
	if c.Session.PollLimit < 1 || c.Session.PollMaxLimit < 1 {
		return fmt.Errorf("poll limits must be at least 1")
	}
	if c.Session.RoomCodeAttempts < 1 {
		return fmt.Errorf("room code attempts must be at least 1")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket pong-wait must exceed a positive ping-interval")
	}
	if c.Join.Window <= 0 || c.Join.MaxAttempts < 1 {
		return fmt.Errorf("join window and max attempts must be positive")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.LeaderboardSize < 1 {
		return fmt.Errorf("challenge ttl and leaderboard size must be positive")
	}
	if c.Store.Debounce < 0 {
		return fmt.Errorf("store debounce cannot be negative")
	}
	switch c.Store.Backend {
	case BackendNone:
	case BackendFile:
		if c.Store.SessionFile == "" {
			return fmt.Errorf("store backend %q requires a session file", c.Store.Backend)
		}
	case BackendSQLite:
		if c.Store.DatabasePath == "" {
			return fmt.Errorf("store backend %q requires a database path", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q (want none, file or sqlite)", c.Store.Backend)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return min(hi, max(lo, v))
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return min(hi, max(lo, v))
}

// splitList accepts both repeated values and comma separated lists.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
