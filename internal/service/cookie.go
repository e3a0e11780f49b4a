package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sumire/career/internal/domain"
)

const cookieTokenType = "browser_session"

// SessionCookies issues and validates the signed browser-session token.
type SessionCookies struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionCookies creates a SessionCookies signing with secret.
func NewSessionCookies(secret string, ttl time.Duration) *SessionCookies {
	return &SessionCookies{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued tokens.
func (s *SessionCookies) TTL() time.Duration {
	return s.ttl
}

// Issue starts a new browser session and returns its ID and signed token.
func (s *SessionCookies) Issue() (sessionID, token string, err error) {
	sessionID = uuid.NewString()
	token, err = s.Sign(sessionID)
	return sessionID, token, err
}

// Sign returns a token for an existing session ID, extending its lifetime.
func (s *SessionCookies) Sign(sessionID string) (string, error) {
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sessionID,
		"type": cookieTokenType,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	})
	str, err := t.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return str, nil
}

// Validate checks token and returns the session ID it carries.
func (s *SessionCookies) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", errors.Join(domain.ErrUnauthorized, fmt.Errorf("parse session token: %w", err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", domain.ErrUnauthorized
	}
	if typ, _ := claims["type"].(string); typ != cookieTokenType {
		return "", domain.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if _, err := uuid.Parse(sub); err != nil {
		return "", domain.ErrUnauthorized
	}
	return sub, nil
}
