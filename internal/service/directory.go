package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/session"
)

// ProfileStore defines the profile data access interface consumed by DirectoryService.
type ProfileStore interface {
	FindByUID(ctx context.Context, uid string) (*domain.Profile, error)
	Upsert(ctx context.Context, p domain.Profile) (*domain.Profile, error)
}

// DirectoryService keeps the member directory in step with signed-in users.
type DirectoryService struct {
	profiles ProfileStore
	timeout  time.Duration
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(profiles ProfileStore) *DirectoryService {
	return &DirectoryService{profiles: profiles, timeout: 5 * time.Second}
}

// Track records u in the directory.
func (s *DirectoryService) Track(ctx context.Context, u domain.User) (*domain.Profile, error) {
	if u.UID == "" {
		return nil, fmt.Errorf("%w: user without uid", domain.ErrInvalidInput)
	}
	p, err := s.profiles.Upsert(ctx, domain.Profile{
		UID:         u.UID,
		Provider:    u.Provider,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    strPtr(u.PhotoURL),
	})
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", u.UID, err)
	}
	return p, nil
}

// Member retrieves a directory entry by uid.
func (s *DirectoryService) Member(ctx context.Context, uid string) (*domain.Profile, error) {
	return s.profiles.FindByUID(ctx, uid)
}

// Observer returns a session observer that tracks every signed-in user.
// Failures are logged; they never affect the session.
func (s *DirectoryService) Observer() session.Observer {
	return func(state domain.SessionState) {
		u, ok := state.User()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Track(ctx, u); err != nil {
			slog.Error("directory sync failed", "uid", u.UID, "error", err)
		}
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
