package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/career/internal/domain"
)

// ProfileRepository handles member directory data access operations.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindByUID retrieves a profile by the identity provider's user ID.
func (r *ProfileRepository) FindByUID(ctx context.Context, uid string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.GetContext(ctx, &p,
		`SELECT uid, provider, email, display_name, photo_url, created_at, updated_at
		 FROM profiles WHERE uid = $1`, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find profile %s: %w", uid, err)
	}
	return &p, nil
}

// Upsert creates a profile or refreshes an existing one keyed by uid.
// Returns the stored profile.
func (r *ProfileRepository) Upsert(ctx context.Context, p domain.Profile) (*domain.Profile, error) {
	var result domain.Profile
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO profiles (uid, provider, email, display_name, photo_url)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (uid)
		 DO UPDATE SET provider = EXCLUDED.provider,
		               email = EXCLUDED.email,
		               display_name = EXCLUDED.display_name,
		               photo_url = EXCLUDED.photo_url,
		               updated_at = NOW()
		 RETURNING uid, provider, email, display_name, photo_url, created_at, updated_at`,
		p.UID, p.Provider, p.Email, p.DisplayName, p.PhotoURL,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return &result, nil
}
