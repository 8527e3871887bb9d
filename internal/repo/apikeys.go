package repo

import (
	"context"
	"database/sql"
	"errors"

	"signoff/internal/domain"
)

func (r Repo) InsertAPIKey(ctx context.Context, userUID, keyHash, label, createdAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO api_keys (user_uid, key_hash, label, created_at) VALUES (?, ?, ?, ?)`,
		userUID, keyHash, label, createdAt)
	return err
}

// GetUserByAPIKeyHash resolves an api key hash to its owner.
func (r Repo) GetUserByAPIKeyHash(ctx context.Context, keyHash string) (domain.User, error) {
	var uid string
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_uid FROM api_keys WHERE key_hash = ?`, keyHash).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return r.GetUser(ctx, uid)
}
