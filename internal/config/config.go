// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/console.db"`

	Auth      AuthConfig
	Gateway   GatewayConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Retention RetentionConfig
}

// AuthConfig configures bearer token verification.
// Exactly one of JWTSecret or JWTPublicKeyFile must be set.
type AuthConfig struct {
	JWTSecret        string `env:"AUTH_JWT_SECRET"`
	JWTPublicKeyFile string `env:"AUTH_JWT_PUBLIC_KEY_FILE"`
	Issuer           string `env:"AUTH_ISSUER"`
	Audience         string `env:"AUTH_AUDIENCE"`
	TokenUse         string `env:"AUTH_TOKEN_USE"`
}

// GatewayConfig configures the outbound API gateway.
type GatewayConfig struct {
	Timeout        time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"8s"`
	UserAgent      string        `env:"GATEWAY_USER_AGENT" envDefault:"commanddeck/1.0"`
	CatFactURL     string        `env:"CATFACT_URL" envDefault:"https://catfact.ninja"`
	ChuckNorrisURL string        `env:"CHUCKNORRIS_URL" envDefault:"https://api.chucknorris.io"`
	BoredURL       string        `env:"BORED_URL" envDefault:"https://www.boredapi.com"`
	GitHubURL      string        `env:"GITHUB_URL" envDefault:"https://api.github.com"`
	DictionaryURL  string        `env:"DICTIONARY_URL" envDefault:"https://api.dictionaryapi.dev"`
	OpenMeteoURL   string        `env:"OPENMETEO_URL" envDefault:"https://api.open-meteo.com"`
}

// SessionConfig controls the websocket command pipeline.
type SessionConfig struct {
	CommandTimeout      time.Duration `env:"COMMAND_TIMEOUT" envDefault:"10s"`
	DefaultWeatherCity  string        `env:"DEFAULT_WEATHER_CITY" envDefault:"berlin"`
	ProcessingStepDelay time.Duration `env:"PROCESSING_STEP_DELAY" envDefault:"200ms"`
	MailboxSize         int           `env:"SESSION_MAILBOX_SIZE" envDefault:"16"`
	WriteTimeout        time.Duration `env:"SESSION_WRITE_TIMEOUT" envDefault:"5s"`
}

// RateLimitConfig holds per-user token bucket settings.
type RateLimitConfig struct {
	CommandsPerSecond float64 `env:"COMMAND_RATE_PER_SEC" envDefault:"5"`
	CommandBurst      int     `env:"COMMAND_RATE_BURST" envDefault:"10"`
	HTTPPerSecond     float64 `env:"HTTP_RATE_PER_SEC" envDefault:"20"`
	HTTPBurst         int     `env:"HTTP_RATE_BURST" envDefault:"40"`
}

// RetentionConfig controls the chat history sweeper. A zero ChatRetention disables it.
type RetentionConfig struct {
	ChatRetention time.Duration `env:"CHAT_RETENTION" envDefault:"0s"`
	Interval      time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWTPublicKeyFile == "" {
		return errors.New("one of AUTH_JWT_SECRET or AUTH_JWT_PUBLIC_KEY_FILE must be set")
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWTPublicKeyFile != "" {
		return errors.New("AUTH_JWT_SECRET and AUTH_JWT_PUBLIC_KEY_FILE are mutually exclusive")
	}
	if c.Session.CommandTimeout <= 0 {
		return errors.New("COMMAND_TIMEOUT must be > 0")
	}
	if c.Session.MailboxSize <= 0 {
		return errors.New("SESSION_MAILBOX_SIZE must be > 0")
	}
	if c.Session.ProcessingStepDelay < 0 {
		return errors.New("PROCESSING_STEP_DELAY cannot be negative")
	}
	if strings.TrimSpace(c.Session.DefaultWeatherCity) == "" {
		return errors.New("DEFAULT_WEATHER_CITY cannot be empty")
	}
	if c.RateLimit.CommandsPerSecond <= 0 || c.RateLimit.CommandBurst <= 0 {
		return errors.New("COMMAND_RATE_PER_SEC and COMMAND_RATE_BURST must be > 0")
	}
	if c.RateLimit.HTTPPerSecond <= 0 || c.RateLimit.HTTPBurst <= 0 {
		return errors.New("HTTP_RATE_PER_SEC and HTTP_RATE_BURST must be > 0")
	}
	if c.Retention.ChatRetention > 0 && c.Retention.Interval <= 0 {
		return errors.New("RETENTION_INTERVAL must be > 0 when CHAT_RETENTION is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if appEnv := os.Getenv("APP_ENV"); appEnv != "" {
		return appEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
