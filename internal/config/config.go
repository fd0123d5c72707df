// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	Backend    BackendConfig
	Redis      RedisConfig
	SMTP       SMTPConfig
	OAuth      OAuthConfig
	Port       string        `env:"PORT" envDefault:"8080"`
	BaseURL    string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
	StoreDir   string        `env:"STORAGE_DIR" envDefault:"./data/storage"`
	SessionTTL time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
}

// BackendConfig describes the remote backend. BACKEND_URL is a Postgres DSN
// and BACKEND_ANON_KEY signs access tokens.
type BackendConfig struct {
	URL             string        `env:"BACKEND_URL"`
	AnonKey         string        `env:"BACKEND_ANON_KEY"`
	PoolSize        int           `env:"BACKEND_POOL_SIZE" envDefault:"10"`
	MaxRetries      int           `env:"BACKEND_MAX_RETRIES" envDefault:"3"`
	RetryDelay      time.Duration `env:"BACKEND_RETRY_DELAY" envDefault:"1s"`
	EnableCaching   bool          `env:"BACKEND_ENABLE_CACHING" envDefault:"true"`
	EnableAnalytics bool          `env:"BACKEND_ENABLE_ANALYTICS" envDefault:"true"`
	TokenTTL        time.Duration `env:"BACKEND_TOKEN_TTL" envDefault:"1h"`
}

// RedisConfig holds the asynq broker address.
type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
}

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Addr     string `env:"SMTP_ADDR" envDefault:"localhost:1025"`
	From     string `env:"SMTP_FROM" envDefault:"no-reply@queue.cx"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
}

// OAuthConfig holds the client credentials of each sign-in provider.
type OAuthConfig struct {
	Google  ProviderConfig `envPrefix:"GOOGLE_"`
	GitHub  ProviderConfig `envPrefix:"GITHUB_"`
	Discord ProviderConfig `envPrefix:"DISCORD_"`
}

type ProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Enabled reports whether both credentials are set.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Load reads configuration from environment variables. Missing backend
// settings are not an error; the dashboard then runs in demo mode.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// IsConfigured returns true if the remote backend is reachable in principle
func (c *Config) IsConfigured() bool {
	return c.Backend.URL != "" && c.Backend.AnonKey != ""
}

// HasRedis returns true if a task broker is configured
func (c *Config) HasRedis() bool {
	return c.Redis.Addr != ""
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the values that would otherwise fail deep inside a
// component.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("BACKEND_MAX_RETRIES must be at least 1, got %d", c.Backend.MaxRetries))
	}
	if c.Backend.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("BACKEND_RETRY_DELAY must not be negative, got %s", c.Backend.RetryDelay))
	}
	if c.Backend.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("BACKEND_POOL_SIZE must be at least 1, got %d", c.Backend.PoolSize))
	}
	if c.IsConfigured() && len(c.Backend.AnonKey) < 16 {
		errs = append(errs, errors.New("BACKEND_ANON_KEY must be at least 16 characters"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	return errors.Join(errs...)
}
