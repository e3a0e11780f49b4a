package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sumire/career/internal/domain"
)

func TestSessionCookiesRoundTrip(t *testing.T) {
	c := NewSessionCookies("secret", time.Hour)

	id, token, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := c.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != id {
		t.Fatalf("session id = %q, want %q", got, id)
	}
}

func TestSessionCookiesRejects(t *testing.T) {
	c := NewSessionCookies("secret", time.Hour)
	_, valid, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, _ := NewSessionCookies("other", time.Hour).Sign("0b6f1a9e-4a43-4d55-9a57-1a1f7e0a3d11")

	expired := NewSessionCookies("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Sign("0b6f1a9e-4a43-4d55-9a57-1a1f7e0a3d11")

	wrongType, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "0b6f1a9e-4a43-4d55-9a57-1a1f7e0a3d11",
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))

	notUUID, _ := c.Sign("not-a-uuid")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "nope"},
		{"other secret", other},
		{"expired", old},
		{"wrong type", wrongType},
		{"bad subject", notUUID},
		{"tampered", valid + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Validate(tt.token); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
