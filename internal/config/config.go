package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port    int    `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// DatabaseURL and RedisURL are optional. Without a database the member
	// directory is disabled; without Redis sessions are kept in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionCookieTTL   time.Duration `env:"SESSION_COOKIE_TTL" envDefault:"720h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"1h"`
	CookieSecure       bool          `env:"COOKIE_SECURE" envDefault:"false"`

	IdentityAPIKey      string        `env:"IDENTITY_API_KEY"`
	IdentityBaseURL     string        `env:"IDENTITY_BASE_URL"`
	IdentityTokenURL    string        `env:"IDENTITY_TOKEN_URL"`
	IdentityHTTPTimeout time.Duration `env:"IDENTITY_HTTP_TIMEOUT" envDefault:"15s"`

	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	OAuthFlowTTL       time.Duration `env:"OAUTH_FLOW_TTL" envDefault:"10m"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"career"`
}

// Load reads configuration from environment variables and validates required fields.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// CallbackURL returns the redirect URI registered for provider.
func (c Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/oauth/" + provider + "/callback"
}

func (c Config) validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.IdentityAPIKey == "" {
		return fmt.Errorf("IDENTITY_API_KEY is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}
