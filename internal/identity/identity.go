// Package identity defines the contract with the external identity provider.
//
// The provider owns credential verification, session issuance and token
// refresh. Callers learn about session changes only through OnSessionChange.
package identity

import (
	"context"
	"time"

	"github.com/sumire/career/internal/domain"
)

// Listener receives session reports from a Provider.
type Listener func(domain.SessionState)

// Provider is the consumed surface of the identity platform. One Provider
// instance represents one client session.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (domain.User, error)
	SignIn(ctx context.Context, email, password string) (domain.User, error)
	SignInInteractive(ctx context.Context, kind domain.ProviderKind) (domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error
	SignOut(ctx context.Context) error

	// OnSessionChange registers l. l is invoked with the current state once the
	// provider has resolved it, and on every later change.
	OnSessionChange(l Listener) (unsubscribe func())
}

// Credential is what an interactive consent flow yields for the provider.
type Credential struct {
	Kind        domain.ProviderKind
	IDToken     string
	AccessToken string
}

// Prompter runs the user-facing part of an interactive sign-in.
type Prompter interface {
	Prompt(ctx context.Context, kind domain.ProviderKind) (Credential, error)
}

// SessionRecord is the persisted form of a provider session.
type SessionRecord struct {
	UID          string              `json:"uid"`
	Email        string              `json:"email,omitempty"`
	DisplayName  string              `json:"display_name,omitempty"`
	PhotoURL     string              `json:"photo_url,omitempty"`
	Provider     domain.ProviderKind `json:"provider"`
	IDToken      string              `json:"id_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// User returns the user described by the record.
func (r SessionRecord) User() domain.User {
	return domain.User{
		UID:         r.UID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		PhotoURL:    r.PhotoURL,
		Provider:    r.Provider,
		IDToken:     r.IDToken,
	}
}

// SessionStore persists provider sessions by client key.
type SessionStore interface {
	Load(ctx context.Context, key string) (SessionRecord, bool, error)
	Save(ctx context.Context, key string, rec SessionRecord) error
	Delete(ctx context.Context, key string) error
}
