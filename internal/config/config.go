// Package config loads the application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Plugins      PluginsConfig      `yaml:"plugins"`
	Deactivation DeactivationConfig `yaml:"deactivation"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// DatabaseConfig configures the PostgreSQL connection. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	RunMigrations   bool   `yaml:"runMigrations"`
	MigrationsTable string `yaml:"migrationsTable"`
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// PluginsConfig configures the plugin installation directory and the per-call
// deadline.
type PluginsConfig struct {
	InstallDir  string        `yaml:"installDir"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// DeactivationConfig configures the account deactivation policy.
type DeactivationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Delay           time.Duration `yaml:"delay"`
	UpdaterSchedule string        `yaml:"updaterSchedule"`
}

// RateLimitConfig configures the per-client request rate limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:  10,
			MaxIdleConns:  5,
			RunMigrations: true,
		},
		Plugins: PluginsConfig{
			CallTimeout: 30 * time.Second,
		},
		Deactivation: DeactivationConfig{
			Delay:           time.Hour,
			UpdaterSchedule: "@every 10m",
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from path, starting from the defaults. An
// empty path returns the defaults with environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NEUCORE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NEUCORE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NEUCORE_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("NEUCORE_PLUGINS_DIR"); v != "" {
		cfg.Plugins.InstallDir = v
	}
	if v := os.Getenv("NEUCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rateLimit.rps and rateLimit.burst must be positive")
	}
	if c.Plugins.CallTimeout <= 0 {
		return fmt.Errorf("plugins.callTimeout must be positive")
	}
	return nil
}
