package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8080"`
	AppURL       string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL     string `env:"REDIS_URL"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`
	IngestAPIKey string `env:"INGEST_API_KEY"`
	// AllowedOrigins is a comma-separated list of extra WebSocket origins besides APP_URL.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	// ConfigFile optionally points at a YAML file whose tuning values override the environment.
	ConfigFile string `env:"CONFIG_FILE"`

	Tuning Tuning
}

// Tuning holds the distribution limits and intervals. Field names in YAML files are camelCase.
type Tuning struct {
	MaxConnectionsPerUser      int     `env:"MAX_CONNECTIONS_PER_USER" default:"5" yaml:"maxConnectionsPerUser"`
	MaxGlobalConnections       int     `env:"MAX_GLOBAL_CONNECTIONS" default:"10000" yaml:"maxGlobalConnections"`
	HealthCheckIntervalMs      int     `env:"HEALTH_CHECK_INTERVAL_MS" default:"30000" yaml:"healthCheckIntervalMs"`
	ConnectionTimeoutMs        int     `env:"CONNECTION_TIMEOUT_MS" default:"60000" yaml:"connectionTimeoutMs"`
	EnableLoadBalancing        bool    `env:"ENABLE_LOAD_BALANCING" default:"true" yaml:"enableLoadBalancing"`
	LoadBalanceIntervalMs      int     `env:"LOAD_BALANCE_INTERVAL_MS" default:"60000" yaml:"loadBalanceIntervalMs"`
	CleanupIntervalMs          int     `env:"CLEANUP_INTERVAL_MS" default:"300000" yaml:"cleanupIntervalMs"`
	PerTopicRateLimitPerSecond int     `env:"PER_TOPIC_RATE_LIMIT_PER_SECOND" default:"100" yaml:"perTopicRateLimitPerSecond"`
	MailboxMaxSize             int     `env:"MAILBOX_MAX_SIZE" default:"1000" yaml:"mailboxMaxSize"`
	MailboxDefaultTTLSeconds   int     `env:"MAILBOX_DEFAULT_TTL_SECONDS" default:"86400" yaml:"mailboxDefaultTtlSeconds"`
	StreamRetentionSeconds     int     `env:"STREAM_RETENTION_SECONDS" default:"86400" yaml:"streamRetentionSeconds"`
	StreamMaxLength            int     `env:"STREAM_MAX_LENGTH" default:"1000" yaml:"streamMaxLength"`
	OfflineUpdateTTLSeconds    int     `env:"OFFLINE_UPDATE_TTL_SECONDS" default:"3600" yaml:"offlineUpdateTtlSeconds"`
	ShutdownGraceMs            int     `env:"SHUTDOWN_GRACE_MS" default:"5000" yaml:"shutdownGraceMs"`
	ConnectionsPerSecondPerIP  float64 `env:"CONNECTIONS_PER_SECOND_PER_IP" default:"10" yaml:"connectionsPerSecondPerIp"`
	ConnectionBurstPerIP       int     `env:"CONNECTION_BURST_PER_IP" default:"20" yaml:"connectionBurstPerIp"`
	IngestRatePerSecond        float64 `env:"INGEST_RATE_PER_SECOND" default:"500" yaml:"ingestRatePerSecond"`
	IngestBurst                int     `env:"INGEST_BURST" default:"1000" yaml:"ingestBurst"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := applyFile(&cfg.Tuning, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyFile overlays the YAML file at path onto t. Keys absent from the file keep their current value.
// ${VAR} references are expanded from the environment before parsing.
func applyFile(t *Tuning, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), t); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}
	if cfg.AppEnv == "production" && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required in production")
	}

	t := cfg.Tuning

	positive := []struct {
		name  string
		value int
	}{
		{"maxConnectionsPerUser", t.MaxConnectionsPerUser},
		{"maxGlobalConnections", t.MaxGlobalConnections},
		{"healthCheckIntervalMs", t.HealthCheckIntervalMs},
		{"connectionTimeoutMs", t.ConnectionTimeoutMs},
		{"loadBalanceIntervalMs", t.LoadBalanceIntervalMs},
		{"cleanupIntervalMs", t.CleanupIntervalMs},
		{"perTopicRateLimitPerSecond", t.PerTopicRateLimitPerSecond},
		{"mailboxMaxSize", t.MailboxMaxSize},
		{"mailboxDefaultTtlSeconds", t.MailboxDefaultTTLSeconds},
		{"streamRetentionSeconds", t.StreamRetentionSeconds},
		{"streamMaxLength", t.StreamMaxLength},
		{"connectionBurstPerIp", t.ConnectionBurstPerIP},
		{"ingestBurst", t.IngestBurst},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("%s must be >= 1", p.name)
		}
	}

	if t.MaxConnectionsPerUser > t.MaxGlobalConnections {
		return errors.New("maxConnectionsPerUser must not exceed maxGlobalConnections")
	}
	if t.OfflineUpdateTTLSeconds < 0 {
		return errors.New("offlineUpdateTtlSeconds must be >= 0")
	}
	if t.ShutdownGraceMs < 0 {
		return errors.New("shutdownGraceMs must be >= 0")
	}
	if t.ConnectionsPerSecondPerIP <= 0 {
		return errors.New("connectionsPerSecondPerIp must be > 0")
	}
	if t.IngestRatePerSecond <= 0 {
		return errors.New("ingestRatePerSecond must be > 0")
	}

	return nil
}

func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

func (t Tuning) HealthCheckInterval() time.Duration {
	return time.Duration(t.HealthCheckIntervalMs) * time.Millisecond
}

func (t Tuning) ConnectionTimeout() time.Duration {
	return time.Duration(t.ConnectionTimeoutMs) * time.Millisecond
}

func (t Tuning) LoadBalanceInterval() time.Duration {
	return time.Duration(t.LoadBalanceIntervalMs) * time.Millisecond
}

func (t Tuning) CleanupInterval() time.Duration {
	return time.Duration(t.CleanupIntervalMs) * time.Millisecond
}

func (t Tuning) MailboxDefaultTTL() time.Duration {
	return time.Duration(t.MailboxDefaultTTLSeconds) * time.Second
}

func (t Tuning) StreamRetention() time.Duration {
	return time.Duration(t.StreamRetentionSeconds) * time.Second
}

func (t Tuning) OfflineUpdateTTL() time.Duration {
	return time.Duration(t.OfflineUpdateTTLSeconds) * time.Second
}

func (t Tuning) ShutdownGrace() time.Duration {
	return time.Duration(t.ShutdownGraceMs) * time.Millisecond
}
