package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Live.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Live.ReconnectBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Live.InitCooldown)
	assert.Equal(t, 30*time.Minute, cfg.Live.InactivityTimeout)
	assert.Equal(t, 2000, cfg.Search.MaxQueryLength)
	assert.Equal(t, time.Minute, cfg.Quota.Window)

	free := cfg.Quota.Plans["free"]
	assert.Equal(t, PlanLimits{10, 20, 0, 1000, 10}, free)
	assert.Equal(t, PlanLimits{900, 600, 100, 10000, 100}, cfg.Quota.Plans["pro"])
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
store:
  driver: sqlite
live:
  init_cooldown: 10s
quota:
  plans:
    free:
      interactions_per_month: 25
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Live.InitCooldown)
	assert.Equal(t, "gem-key", cfg.Live.APIKey)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, int64(25), cfg.Quota.Plans["free"].InteractionsPerMonth)
	assert.Equal(t, int64(1000), cfg.Quota.Plans["free"].TokensPerMinute)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}
