package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRefreshStore(t *testing.T) (*PostgresRefreshStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRefreshStore(db), mock
}

func TestPostgresRefreshStoreUpsert(t *testing.T) {
	store, mock := newMockRefreshStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WithArgs("uid-1", "hash-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Upsert(context.Background(), "uid-1", "hash-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRefreshStoreLookup(t *testing.T) {
	store, mock := newMockRefreshStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT token_hash FROM refresh_tokens")).
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash"}).AddRow("hash-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT token_hash FROM refresh_tokens")).
		WithArgs("uid-2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT token_hash FROM refresh_tokens")).
		WithArgs("uid-3").
		WillReturnError(errors.New("connection reset"))

	h, err := store.Lookup(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", h)

	_, err = store.Lookup(context.Background(), "uid-2")
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = store.Lookup(context.Background(), "uid-3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRefreshToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRefreshStoreDelete(t *testing.T) {
	store, mock := newMockRefreshStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens")).
		WithArgs("uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens")).
		WithArgs("uid-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "uid-1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "uid-1"), ErrNoRefreshToken)
	require.NoError(t, mock.ExpectationsWereMet())
}
