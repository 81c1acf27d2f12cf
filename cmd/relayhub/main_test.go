package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/internal/config"
)

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cmd := newCmd(cfg)

	require.NoError(t, cmd.ParseFlags([]string{"--http.port=9090", "--session.ttl=1h", "--websocket.max_controllers=3"}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 3, cfg.WebSocket.MaxControllers)
}

func TestEnvironmentAndConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("join:\n  max-attempts: 5\nlog:\n  level: debug\n"), 0o600))

	t.Setenv("RELAYHUB_CONFIG_FILE", path)
	t.Setenv("RELAYHUB_LOG_LEVEL", "warn")

	cfg := config.DefaultConfig()
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, 5, cfg.Join.MaxAttempts)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "tape"

	err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create application")
}

func TestRunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Log.Level = "error"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg))
}
