package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8440", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 256, cfg.Session.MaxSessions)
	assert.Equal(t, "drop_oldest", cfg.Session.BufferPolicy)
	assert.Equal(t, 4, cfg.Pool.MaxPerTarget)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 10*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Breaker.OpenTimeout)
	assert.Equal(t, uint32(1), cfg.Breaker.MaxProbes)
	assert.Equal(t, 10, cfg.WS.AbuseThreshold)
	assert.Empty(t, cfg.Recording.Dir)
	assert.Empty(t, cfg.Webhook.URL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("SESSION_MAX", "8")
	t.Setenv("POOL_WAIT_POLICY", "fail")
	t.Setenv("POOL_CONNECT_TIMEOUT", "2s")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9001", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Session.MaxSessions)
	assert.Equal(t, "fail", cfg.Pool.WaitPolicy)
	assert.Equal(t, 2*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, uint32(3), cfg.Breaker.FailureThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults valid", func(c *Config) {}, true},
		{"block policy valid", func(c *Config) { c.Session.BufferPolicy = "block" }, true},
		{"bad buffer policy", func(c *Config) { c.Session.BufferPolicy = "ring" }, false},
		{"bad wait policy", func(c *Config) { c.Pool.WaitPolicy = "spin" }, false},
		{"zero sessions", func(c *Config) { c.Session.MaxSessions = 0 }, false},
		{"zero buffer", func(c *Config) { c.Session.BufferMaxBytes = 0 }, false},
		{"zero per target", func(c *Config) { c.Pool.MaxPerTarget = 0 }, false},
		{"zero connect timeout", func(c *Config) { c.Pool.ConnectTimeout = 0 }, false},
		{"zero open timeout", func(c *Config) { c.Breaker.OpenTimeout = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SESSION_BUFFER_POLICY", "ring")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("POOL_MAX_PER_TARGET", "not-a-number")

	cfg := LoadOrDefault()
	require.NotNil(t, cfg)
	assert.Equal(t, 4, cfg.Pool.MaxPerTarget)
}

func TestDefaultMatchesTagDefaults(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), loaded)
}
