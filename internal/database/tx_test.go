package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchBook(ctx context.Context) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE books SET updated_at = NOW() WHERE id = $1", 1)
		return err
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books").WillReturnError(ErrInsufficientStock)
	mock.ExpectRollback()

	err = WithTransaction(ctx, db, DefaultTxOptions(), touchBook(ctx))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryRetriesSerializationFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithRetry(ctx, db, DefaultTxOptions(), touchBook(ctx))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books").WillReturnError(ErrBookNotFound)
	mock.ExpectRollback()

	err = WithRetry(ctx, db, DefaultTxOptions(), touchBook(ctx))
	assert.True(t, errors.Is(err, ErrBookNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryGivesUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	opts := DefaultTxOptions()
	opts.MaxRetries = 1
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE books").WillReturnError(&pq.Error{Code: "40P01"})
		mock.ExpectRollback()
	}

	err = WithRetry(ctx, db, opts, touchBook(ctx))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (1) exceeded")
	assert.NoError(t, mock.ExpectationsWereMet())
}
