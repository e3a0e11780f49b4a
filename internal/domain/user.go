package domain

import "time"

// ProviderKind identifies how a user signed in.
type ProviderKind string

const (
	ProviderPassword ProviderKind = "password"
	ProviderGoogle   ProviderKind = "google"
	ProviderGitHub   ProviderKind = "github"
)

// Interactive reports whether the kind signs in through an external consent flow.
func (k ProviderKind) Interactive() bool {
	return k == ProviderGoogle || k == ProviderGitHub
}

// ParseProviderKind parses an interactive provider name from a URL segment.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(s) {
	case ProviderGoogle:
		return ProviderGoogle, true
	case ProviderGitHub:
		return ProviderGitHub, true
	}
	return "", false
}

// User is the signed-in identity as reported by the identity provider.
type User struct {
	UID         string       `json:"uid"`
	Email       string       `json:"email,omitempty"`
	DisplayName string       `json:"display_name"`
	PhotoURL    string       `json:"photo_url,omitempty"`
	Provider    ProviderKind `json:"provider"`
	// IDToken is opaque and owned by the provider.
	IDToken string `json:"-"`
}

// ProfileUpdate holds the mutable display fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.PhotoURL == nil
}

// Apply returns u with the update's fields applied.
func (u User) Apply(p ProfileUpdate) User {
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
	return u
}

// Profile is a user as recorded in the member directory.
type Profile struct {
	UID         string       `json:"uid" db:"uid"`
	Provider    ProviderKind `json:"provider" db:"provider"`
	Email       string       `json:"email" db:"email"`
	DisplayName string       `json:"display_name" db:"display_name"`
	PhotoURL    *string      `json:"photo_url,omitempty" db:"photo_url"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}
