package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookColumnNames = []string{
	"id", "title", "description", "price", "discount_percentage", "stock_quantity", "sold_count",
	"external_product_id", "external_price_id", "external_price_amount", "sync_status", "sync_error",
	"created_at", "updated_at", "version",
}

func TestReserveStockReportsOffendingBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(bookColumnNames).
			AddRow(42, "Dune", "", "12.50", "0", 1, 9, nil, nil, nil, "pending", nil, now, now, 1))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = ReserveStock(context.Background(), tx, 42, 3)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	assert.True(t, errors.Is(err, database.ErrInsufficientStock))
	assert.Contains(t, err.Error(), `"Dune"`)
	assert.Contains(t, err.Error(), "requested 3, available 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStockUnknownBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM books WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(bookColumnNames))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = ReserveStock(context.Background(), tx, 7, 1)
	require.NoError(t, tx.Rollback())

	assert.ErrorIs(t, err, database.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStockUnknownBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET stock_quantity = stock_quantity + $1")).
		WithArgs(2, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	err = ReleaseStock(context.Background(), tx, 9, 2)
	require.NoError(t, tx.Rollback())

	assert.ErrorIs(t, err, database.ErrBookNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
