package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/shopspring/decimal"
)

const bookColumns = `id, title, description, price, discount_percentage, stock_quantity, sold_count,
	external_product_id, external_price_id, external_price_amount, sync_status, sync_error,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	book := &models.Book{}
	var (
		productID, priceID, syncError sql.NullString
		priceAmount                   sql.NullInt64
	)

	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Description,
		&book.Price,
		&book.DiscountPercentage,
		&book.StockQuantity,
		&book.SoldCount,
		&productID,
		&priceID,
		&priceAmount,
		&book.SyncStatus,
		&syncError,
		&book.CreatedAt,
		&book.UpdatedAt,
		&book.Version,
	)
	if err != nil {
		return nil, err
	}

	book.ExternalProductID = nullString(productID)
	book.ExternalPriceID = nullString(priceID)
	book.SyncError = nullString(syncError)
	if priceAmount.Valid {
		book.ExternalPriceAmount = &priceAmount.Int64
	}

	return book, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

type NewBook struct {
	Title              string
	Description        string
	Price              decimal.Decimal
	DiscountPercentage decimal.Decimal
	Stock              int
}

// CreateBook inserts a sellable book in the pending sync state.
func CreateBook(ctx context.Context, q database.Queryer, nb NewBook) (*models.Book, error) {
	query := `
		INSERT INTO books (title, description, price, discount_percentage, stock_quantity, sync_status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + bookColumns

	book, err := scanBook(q.QueryRowContext(ctx, query,
		nb.Title, nb.Description, nb.Price, nb.DiscountPercentage, nb.Stock, models.SyncStatusPending))
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	return book, nil
}

func GetBook(ctx context.Context, q database.Queryer, id int64) (*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	book, err := scanBook(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	return book, nil
}

// GetBooks loads the given books keyed by id. Missing ids are simply absent.
func GetBooks(ctx context.Context, q database.Queryer, ids []int64) (map[int64]*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = ANY($1)`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}
	defer rows.Close()

	books := make(map[int64]*models.Book, len(ids))
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books[book.ID] = book
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return books, nil
}

// UpdateBookPricing changes price and discount using the optimistic version check.
func UpdateBookPricing(ctx context.Context, q database.Queryer, id int64, price, discount decimal.Decimal, version int) (*models.Book, error) {
	query := `
		UPDATE books
		SET price = $1, discount_percentage = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING ` + bookColumns

	book, err := scanBook(q.QueryRowContext(ctx, query, price, discount, id, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update book pricing: %w", err)
	}

	return book, nil
}

func ListBookIDsBySyncStatus(ctx context.Context, q database.Queryer, status models.SyncStatus, limit int) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM books WHERE sync_status = $1 ORDER BY id LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("list books by sync status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan book id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// LockBookSync takes a transaction-scoped advisory lock keyed by the book id,
// so only one gateway sync of a book runs at a time. The book row itself is
// not locked and stays available to stock reservation.
func LockBookSync(ctx context.Context, tx *sql.Tx, bookID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bookID); err != nil {
		return fmt.Errorf("lock book sync: %w", err)
	}
	return nil
}

// MarkBookSynced records the mirrored product and price for a book.
func MarkBookSynced(ctx context.Context, q database.Queryer, id int64, productID, priceID string, amount int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books
		 SET external_product_id = $1,
		     external_price_id = $2,
		     external_price_amount = $3,
		     sync_status = $4,
		     sync_error = NULL,
		     updated_at = NOW()
		 WHERE id = $5`,
		productID, priceID, amount, models.SyncStatusSynced, id)
	if err != nil {
		return fmt.Errorf("mark book synced: %w", err)
	}

	return expectOneRow(result, database.ErrBookNotFound)
}

// MarkBookSyncFailed flags the book for the next resync sweep. Any product id
// already created is kept so the retry can reuse it.
func MarkBookSyncFailed(ctx context.Context, q database.Queryer, id int64, productID *string, reason string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books
		 SET external_product_id = COALESCE($1, external_product_id),
		     sync_status = $2,
		     sync_error = $3,
		     updated_at = NOW()
		 WHERE id = $4`,
		productID, models.SyncStatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("mark book sync failed: %w", err)
	}

	return expectOneRow(result, database.ErrBookNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
