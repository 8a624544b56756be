package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the ledger service.
// Environment variables are parsed with the TABWARDEN_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage: sqlite | postgres | memory. "auto" resolves to sqlite.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/tabwarden.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Auth: static maps bearer tokens to subject ids; dev accepts the local dev key for any subject.
	AuthMode   string            `envconfig:"AUTH_MODE" default:"dev"`
	AuthTokens map[string]string `envconfig:"AUTH_TOKENS"`

	// Read-side staleness for the connectivity view. Never mutates state.
	StaleAfter time.Duration `envconfig:"STALE_AFTER" default:"3m"`

	// Notify hook
	NotifyWebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL" default:""`
	NotifyBuffer     int           `envconfig:"NOTIFY_BUFFER" default:"256"`
	NotifyTimeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults derives DBDriver when set to "auto" and validates the result.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = "sqlite"
	}
	allowedDB := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("TABWARDEN_POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	if c.DBDriver == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("TABWARDEN_SQLITE_PATH is required when DB_DRIVER=sqlite")
	}

	switch c.AuthMode {
	case "dev":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=dev is not allowed in production")
		}
	case "static":
		if len(c.AuthTokens) == 0 {
			return fmt.Errorf("TABWARDEN_AUTH_TOKENS is required when AUTH_MODE=static")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE: %s", c.AuthMode)
	}
	if c.NotifyBuffer <= 0 {
		c.NotifyBuffer = 256
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: TABWARDEN_HTTP_PORT, TABWARDEN_DB_DRIVER
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("TABWARDEN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("auth_mode", cfg.AuthMode).
		Int("port", cfg.HTTPPort).
		Dur("stale_after", cfg.StaleAfter).
		Bool("notify_webhook", cfg.NotifyWebhookURL != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		DBDriver:                  "memory",
		AuthMode:                  "dev",
		StaleAfter:                3 * time.Minute,
		NotifyBuffer:              16,
		NotifyTimeout:             time.Second,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
		BootstrapTimeoutSeconds:   1,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
