package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Tyrowin/presencehub/internal/auth"
)

const uniqueViolation = "23505"

// PostgresStore keeps accounts in the users table.
type PostgresStore struct {
	db     *sql.DB
	hasher *Hasher
}

// NewPostgresStore returns a Store backed by db.
func NewPostgresStore(db *sql.DB, hasher *Hasher) *PostgresStore {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &PostgresStore{db: db, hasher: hasher}
}

func (r *PostgresStore) VerifyCredentials(ctx context.Context, name, password string) (auth.Identity, error) {
	var (
		id   auth.Identity
		hash string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, name, rights, password_hash FROM users WHERE name = $1`, name).
		Scan(&id.UID, &id.Name, &id.Rights, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Identity{}, err
	}
	if r.hasher.Compare(hash, password) != nil {
		return auth.Identity{}, ErrInvalidCredentials
	}
	return id, nil
}

func (r *PostgresStore) CreateUser(ctx context.Context, name, password string) (auth.Identity, error) {
	name, err := normalizeCredentials(name, password)
	if err != nil {
		return auth.Identity{}, err
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return auth.Identity{}, err
	}
	id := auth.Identity{Name: name, UID: uuid.NewString(), Rights: DefaultRights}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (uid, name, password_hash, rights) VALUES ($1, $2, $3, $4)`,
		id.UID, id.Name, hash, id.Rights)
	if isUniqueViolation(err) {
		return auth.Identity{}, ErrNameTaken
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

func (r *PostgresStore) UpdateUser(ctx context.Context, uid string, patch Patch) error {
	patch, err := validatePatch(patch)
	if err != nil {
		return err
	}

	var name, hash string
	err = r.db.QueryRowContext(ctx, `SELECT name, password_hash FROM users WHERE uid = $1`, uid).Scan(&name, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if r.hasher.Compare(hash, patch.OldPassword) != nil {
		return ErrWrongPassword
	}

	if patch.NewName != "" {
		name = patch.NewName
	}
	if patch.NewPassword != "" {
		if hash, err = r.hasher.Hash(patch.NewPassword); err != nil {
			return err
		}
	}
	_, err = r.db.ExecContext(ctx, `UPDATE users SET name = $1, password_hash = $2 WHERE uid = $3`, name, hash, uid)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
