package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all shell configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Assets    AssetsConfig    `yaml:"assets"`
	Health    HealthConfig    `yaml:"health"`
	Paths     PathsConfig     `yaml:"paths"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the local IPC HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"SHELL_PORT" yaml:"port"`
	Host string `envconfig:"SHELL_HOST" yaml:"host"`
}

// BackendConfig holds the supervised AI backend configuration.
type BackendConfig struct {
	Command       string        `envconfig:"BACKEND_CMD" yaml:"command"`
	Args          []string      `envconfig:"BACKEND_ARGS" yaml:"args"`
	PreferredPort int           `envconfig:"BACKEND_PORT" yaml:"preferred_port"`
	FixedPort     bool          `envconfig:"BACKEND_FIXED_PORT" yaml:"fixed_port"`
	ReadyTimeout  time.Duration `envconfig:"BACKEND_READY_TIMEOUT" yaml:"ready_timeout"`
	ProbeTimeout  time.Duration `envconfig:"BACKEND_PROBE_TIMEOUT" yaml:"probe_timeout"`
}

// AssetsConfig holds model staging configuration.
type AssetsConfig struct {
	ManifestPath string `envconfig:"MODELS_MANIFEST" yaml:"manifest"`
	SourceRoot   string `envconfig:"MODELS_SOURCE" yaml:"source_root"`
	DestRoot     string `envconfig:"MODELS_DEST" yaml:"dest_root"`
}

// HealthConfig holds backend health monitoring configuration.
type HealthConfig struct {
	Interval     time.Duration `envconfig:"HEALTH_INTERVAL" yaml:"interval"`
	ProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" yaml:"probe_timeout"`
}

// PathsConfig holds filesystem access configuration.
type PathsConfig struct {
	UIRoot       string   `envconfig:"UI_ROOT" yaml:"ui_root"`
	ProtocolRoot string   `envconfig:"PROTOCOL_ROOT" yaml:"protocol_root"`
	SettingsFile string   `envconfig:"SETTINGS_FILE" yaml:"settings_file"`
	ExtraRoots   []string `envconfig:"ALLOWED_ROOTS" yaml:"allowed_roots"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled"`
}

// Load loads configuration from the optional YAML config file, then
// overlays environment variables. Environment always wins over the file.
func Load() (*Config, error) {
	cfg := Default()

	if err := applyFile(cfg); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on failure.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "9180",
			Host: "127.0.0.1",
		},
		Backend: BackendConfig{
			Command:       "photoshell-backend",
			PreferredPort: 5812,
			FixedPort:     false,
			ReadyTimeout:  30 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Health: HealthConfig{
			Interval:     7500 * time.Millisecond,
			ProbeTimeout: 3 * time.Second,
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
	}
}
