package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/models"
)

// InsufficientStockError names the book that could not be reserved.
// It matches database.ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	BookID    int64
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (book %d): requested %d, available %d",
		e.Title, e.BookID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == database.ErrInsufficientStock
}

// ReserveStock locks the book row, checks availability and moves quantity
// from stock to sold_count inside the caller's transaction.
func ReserveStock(ctx context.Context, tx *sql.Tx, bookID int64, quantity int) (*models.Book, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reserve book %d: quantity must be positive", bookID)
	}

	book, err := scanBook(tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, bookID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reserve book %d: %w", bookID, database.ErrBookNotFound)
		}
		return nil, fmt.Errorf("lock book: %w", err)
	}

	if book.StockQuantity < quantity {
		return nil, &InsufficientStockError{
			BookID:    book.ID,
			Title:     book.Title,
			Requested: quantity,
			Available: book.StockQuantity,
		}
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE books
		 SET stock_quantity = stock_quantity - $1,
		     sold_count = sold_count + $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1
		 RETURNING stock_quantity, sold_count, updated_at`,
		quantity, bookID).Scan(&book.StockQuantity, &book.SoldCount, &book.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &InsufficientStockError{BookID: book.ID, Title: book.Title, Requested: quantity}
		}
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	return book, nil
}

// ReleaseStock returns quantity to stock after a cancellation. sold_count is
// left as is.
func ReleaseStock(ctx context.Context, tx *sql.Tx, bookID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE books
		 SET stock_quantity = stock_quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, bookID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	return expectOneRow(result, database.ErrBookNotFound)
}

// UnreserveStock fully undoes a reservation whose order never came into
// existence, restoring both stock and sold_count.
func UnreserveStock(ctx context.Context, tx *sql.Tx, bookID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE books
		 SET stock_quantity = stock_quantity + $1,
		     sold_count = GREATEST(sold_count - $1, 0),
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, bookID)
	if err != nil {
		return fmt.Errorf("unreserve stock: %w", err)
	}

	return expectOneRow(result, database.ErrBookNotFound)
}
