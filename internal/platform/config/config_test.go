package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.RedisURL)
	assert.True(t, cfg.IsDevelopment())

	tn := cfg.Tuning
	assert.Equal(t, 5, tn.MaxConnectionsPerUser)
	assert.Equal(t, 10000, tn.MaxGlobalConnections)
	assert.Equal(t, 30*time.Second, tn.HealthCheckInterval())
	assert.Equal(t, time.Minute, tn.ConnectionTimeout())
	assert.True(t, tn.EnableLoadBalancing)
	assert.Equal(t, 100, tn.PerTopicRateLimitPerSecond)
	assert.Equal(t, 1000, tn.MailboxMaxSize)
	assert.Equal(t, 24*time.Hour, tn.MailboxDefaultTTL())
	assert.Equal(t, 24*time.Hour, tn.StreamRetention())
	assert.Equal(t, 1000, tn.StreamMaxLength)
	assert.Equal(t, 5*time.Second, tn.ShutdownGrace())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONNECTIONS_PER_USER", "2")
	t.Setenv("ENABLE_LOAD_BALANCING", "false")
	t.Setenv("PER_TOPIC_RATE_LIMIT_PER_SECOND", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2, cfg.Tuning.MaxConnectionsPerUser)
	assert.False(t, cfg.Tuning.EnableLoadBalancing)
	assert.Equal(t, 25, cfg.Tuning.PerTopicRateLimitPerSecond)
}

func TestLoad_ConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "realtime.yaml")
	content := "maxGlobalConnections: 50\nmailboxMaxSize: ${TEST_MAILBOX_SIZE}\nenableLoadBalancing: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_MAILBOX_SIZE", "200")
	t.Setenv("MAX_CONNECTIONS_PER_USER", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Tuning.MaxGlobalConnections)
	assert.Equal(t, 200, cfg.Tuning.MailboxMaxSize)
	assert.False(t, cfg.Tuning.EnableLoadBalancing)
	// untouched by the file
	assert.Equal(t, 3, cfg.Tuning.MaxConnectionsPerUser)
	assert.Equal(t, 1000, cfg.Tuning.StreamMaxLength)
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("maxGlobalConnections: [nope"), 0o600))
		t.Setenv("CONFIG_FILE", path)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config yaml")
	})
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero per-user limit", map[string]string{"MAX_CONNECTIONS_PER_USER": "0"}, "maxConnectionsPerUser must be >= 1"},
		{"zero mailbox size", map[string]string{"MAILBOX_MAX_SIZE": "0"}, "mailboxMaxSize must be >= 1"},
		{"zero rate limit", map[string]string{"PER_TOPIC_RATE_LIMIT_PER_SECOND": "0"}, "perTopicRateLimitPerSecond must be >= 1"},
		{"per-user above global", map[string]string{"MAX_CONNECTIONS_PER_USER": "20", "MAX_GLOBAL_CONNECTIONS": "10"}, "maxConnectionsPerUser must not exceed maxGlobalConnections"},
		{"negative offline ttl", map[string]string{"OFFLINE_UPDATE_TTL_SECONDS": "-1"}, "offlineUpdateTtlSeconds must be >= 0"},
		{"production without redis", map[string]string{"APP_ENV": "production"}, "REDIS_URL is required in production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
