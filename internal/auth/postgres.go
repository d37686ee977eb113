package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRefreshStore keeps refresh token hashes in the refresh_tokens table,
// one row per user.
type PostgresRefreshStore struct {
	db *sql.DB
}

// NewPostgresRefreshStore returns a RefreshStore backed by db.
func NewPostgresRefreshStore(db *sql.DB) *PostgresRefreshStore {
	return &PostgresRefreshStore{db: db}
}

func (r *PostgresRefreshStore) Upsert(ctx context.Context, uid, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_uid, token_hash, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_uid) DO UPDATE SET token_hash = EXCLUDED.token_hash, updated_at = EXCLUDED.updated_at`,
		uid, tokenHash, time.Now().UTC())
	return err
}

// Lookup returns ErrNoRefreshToken for a missing row and an error only for database failures.
func (r *PostgresRefreshStore) Lookup(ctx context.Context, uid string) (string, error) {
	var h string
	err := r.db.QueryRowContext(ctx, `SELECT token_hash FROM refresh_tokens WHERE user_uid = $1`, uid).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRefreshToken
	}
	if err != nil {
		return "", err
	}
	return h, nil
}

func (r *PostgresRefreshStore) Delete(ctx context.Context, uid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_uid = $1`, uid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRefreshToken
	}
	return nil
}
