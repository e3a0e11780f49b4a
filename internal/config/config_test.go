package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("IDENTITY_API_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SessionIdleTimeout != time.Hour {
		t.Errorf("SessionIdleTimeout = %v", cfg.SessionIdleTimeout)
	}
	if cfg.OAuthFlowTTL != 10*time.Minute {
		t.Errorf("OAuthFlowTTL = %v", cfg.OAuthFlowTTL)
	}
	if cfg.IdentityHTTPTimeout != 15*time.Second {
		t.Errorf("IdentityHTTPTimeout = %v", cfg.IdentityHTTPTimeout)
	}
	if cfg.GoogleEnabled() || cfg.GitHubEnabled() {
		t.Error("no interactive provider should be enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("IDENTITY_API_KEY", "key")
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://career.example/")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
	t.Setenv("OAUTH_FLOW_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if !cfg.GitHubEnabled() {
		t.Error("GitHub should be enabled")
	}
	if got := cfg.CallbackURL("github"); got != "https://career.example/auth/oauth/github/callback" {
		t.Errorf("CallbackURL = %q", got)
	}
	if cfg.OAuthFlowTTL != 2*time.Minute {
		t.Errorf("OAuthFlowTTL = %v", cfg.OAuthFlowTTL)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing secret", map[string]string{"IDENTITY_API_KEY": "key"}, "SESSION_SECRET is required"},
		{"short secret", map[string]string{"SESSION_SECRET": "short", "IDENTITY_API_KEY": "key"}, "at least 32 bytes"},
		{"missing api key", map[string]string{"SESSION_SECRET": testSecret}, "IDENTITY_API_KEY is required"},
		{"relative base url", map[string]string{"SESSION_SECRET": testSecret, "IDENTITY_API_KEY": "key", "BASE_URL": "/app"}, "BASE_URL"},
		{"bad port", map[string]string{"SESSION_SECRET": testSecret, "IDENTITY_API_KEY": "key", "PORT": "0"}, "PORT"},
		{"unparsable duration", map[string]string{"SESSION_SECRET": testSecret, "IDENTITY_API_KEY": "key", "OAUTH_FLOW_TTL": "soon"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"SESSION_SECRET", "IDENTITY_API_KEY", "BASE_URL", "PORT", "OAUTH_FLOW_TTL"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
