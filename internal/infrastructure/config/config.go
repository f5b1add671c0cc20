package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Pool      PoolConfig
	Breaker   BreakerConfig
	SSH       SSHConfig
	WS        WSConfig
	Recording RecordingConfig
	Webhook   WebhookConfig
	Janitor   JanitorConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8440"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SessionConfig holds terminal session configuration.
type SessionConfig struct {
	MaxSessions    int           `envconfig:"SESSION_MAX" default:"256"`
	BufferMaxBytes int           `envconfig:"SESSION_BUFFER_MAX_BYTES" default:"4194304"`
	BufferPolicy   string        `envconfig:"SESSION_BUFFER_POLICY" default:"drop_oldest"` // drop_oldest | block
	ReplayBytes    int           `envconfig:"SESSION_REPLAY_BYTES" default:"65536"`
	IdleTimeout    time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	Shell          string        `envconfig:"SESSION_SHELL" default:""`
	Term           string        `envconfig:"SESSION_TERM" default:"xterm-256color"`
	Cols           uint16        `envconfig:"SESSION_COLS" default:"80"`
	Rows           uint16        `envconfig:"SESSION_ROWS" default:"24"`
}

// PoolConfig holds SSH connection pool configuration.
type PoolConfig struct {
	MaxPerTarget      int           `envconfig:"POOL_MAX_PER_TARGET" default:"4"`
	MinIdlePerTarget  int           `envconfig:"POOL_MIN_IDLE" default:"0"`
	MaxTotal          int           `envconfig:"POOL_MAX_TOTAL" default:"0"` // 0 = unbounded
	AcquireTimeout    time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"5s"`
	ConnectTimeout    time.Duration `envconfig:"POOL_CONNECT_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"POOL_IDLE_TIMEOUT" default:"5m"`
	KeepaliveInterval time.Duration `envconfig:"POOL_KEEPALIVE_INTERVAL" default:"30s"`
	DialRetries       int           `envconfig:"POOL_DIAL_RETRIES" default:"2"`
	WaitPolicy        string        `envconfig:"POOL_WAIT_POLICY" default:"wait"` // wait | fail
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	OpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	MaxProbes        uint32        `envconfig:"BREAKER_MAX_PROBES" default:"1"`
	Interval         time.Duration `envconfig:"BREAKER_INTERVAL" default:"60s"`
}

// SSHConfig holds remote target defaults and inventory location.
type SSHConfig struct {
	TargetsFile string `envconfig:"TARGETS_FILE" default:""`
	DefaultUser string `envconfig:"SSH_DEFAULT_USER" default:""`
	DefaultPort int    `envconfig:"SSH_DEFAULT_PORT" default:"22"`
	KeyPath     string `envconfig:"SSH_KEY_PATH" default:""`
	KnownHosts  string `envconfig:"SSH_KNOWN_HOSTS" default:""` // empty = no host key verification
}

// WSConfig holds message channel configuration.
type WSConfig struct {
	MaxMessageBytes int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"1048576"`
	SendQueue       int           `envconfig:"WS_SEND_QUEUE" default:"256"`
	AbuseThreshold  int           `envconfig:"WS_ABUSE_THRESHOLD" default:"10"`
	InputPerSecond  int           `envconfig:"WS_INPUT_RPS" default:"500"`
	InputBurst      int           `envconfig:"WS_INPUT_BURST" default:"1000"`
	WriteTimeout    time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	PongTimeout     time.Duration `envconfig:"WS_PONG_TIMEOUT" default:"60s"`
}

// RecordingConfig holds session transcript capture configuration.
type RecordingConfig struct {
	Dir   string `envconfig:"RECORDING_DIR" default:""` // empty = disabled
	Level int    `envconfig:"RECORDING_LEVEL" default:"3"`
}

// WebhookConfig holds lifecycle event delivery configuration.
type WebhookConfig struct {
	URL      string        `envconfig:"WEBHOOK_URL" default:""` // empty = disabled
	Timeout  time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"5s"`
	RetryMax int           `envconfig:"WEBHOOK_RETRY_MAX" default:"3"`
	Queue    int           `envconfig:"WEBHOOK_QUEUE" default:"64"`
}

// JanitorConfig holds periodic maintenance schedules (cron specs).
type JanitorConfig struct {
	PoolSweep   string `envconfig:"JANITOR_POOL_SWEEP" default:"@every 30s"`
	SessionReap string `envconfig:"JANITOR_SESSION_REAP" default:"@every 1m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Session.BufferPolicy {
	case "drop_oldest", "block":
	default:
		return fmt.Errorf("invalid SESSION_BUFFER_POLICY: %q", c.Session.BufferPolicy)
	}
	switch c.Pool.WaitPolicy {
	case "wait", "fail":
	default:
		return fmt.Errorf("invalid POOL_WAIT_POLICY: %q", c.Pool.WaitPolicy)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive, got %d", c.Session.MaxSessions)
	}
	if c.Session.BufferMaxBytes <= 0 {
		return fmt.Errorf("SESSION_BUFFER_MAX_BYTES must be positive, got %d", c.Session.BufferMaxBytes)
	}
	if c.Pool.MaxPerTarget <= 0 {
		return fmt.Errorf("POOL_MAX_PER_TARGET must be positive, got %d", c.Pool.MaxPerTarget)
	}
	if c.Pool.ConnectTimeout <= 0 || c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool timeouts must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("BREAKER_OPEN_TIMEOUT must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8440",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Session: SessionConfig{
			MaxSessions:    256,
			BufferMaxBytes: 4 * 1024 * 1024,
			BufferPolicy:   "drop_oldest",
			ReplayBytes:    64 * 1024,
			IdleTimeout:    30 * time.Minute,
			Term:           "xterm-256color",
			Cols:           80,
			Rows:           24,
		},
		Pool: PoolConfig{
			MaxPerTarget:      4,
			AcquireTimeout:    5 * time.Second,
			ConnectTimeout:    10 * time.Second,
			IdleTimeout:       5 * time.Minute,
			KeepaliveInterval: 30 * time.Second,
			DialRetries:       2,
			WaitPolicy:        "wait",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			MaxProbes:        1,
			Interval:         60 * time.Second,
		},
		SSH: SSHConfig{
			DefaultPort: 22,
		},
		WS: WSConfig{
			MaxMessageBytes: 1024 * 1024,
			SendQueue:       256,
			AbuseThreshold:  10,
			InputPerSecond:  500,
			InputBurst:      1000,
			WriteTimeout:    10 * time.Second,
			PongTimeout:     60 * time.Second,
		},
		Recording: RecordingConfig{
			Level: 3,
		},
		Webhook: WebhookConfig{
			Timeout:  5 * time.Second,
			RetryMax: 3,
			Queue:    64,
		},
		Janitor: JanitorConfig{
			PoolSweep:   "@every 30s",
			SessionReap: "@every 1m",
		},
	}
}
