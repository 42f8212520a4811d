package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, role, avatar_key, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.AvatarKey, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetAvatar replaces the user's avatar reference and returns the previous
// key, if any, so the caller can remove the orphaned object.
func (r *Repository) SetAvatar(ctx context.Context, id, storeKey string) (*string, error) {
	var previous *string
	err := r.db.QueryRow(ctx, `
		UPDATE users AS u
		SET avatar_key = $2, updated_at = NOW()
		FROM (SELECT avatar_key FROM users WHERE id = $1) AS old
		WHERE u.id = $1
		RETURNING old.avatar_key`, id, storeKey,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return previous, nil
}
