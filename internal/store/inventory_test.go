package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/store"
	"github.com/safar/go-bookstore/internal/testutil/pgtest"
	"github.com/shopspring/decimal"
)

func createBook(t *testing.T, db *sql.DB, title string, stock int) int64 {
	t.Helper()

	book, err := store.CreateBook(context.Background(), db, store.NewBook{
		Title: title,
		Price: decimal.NewFromInt(100),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("Create book: %v", err)
	}
	return book.ID
}

func TestConcurrentStockReservation(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	bookID := createBook(t, db, "Concurrency in Practice", 10)

	concurrency := 8
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			results <- database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				_, err := store.ReserveStock(ctx, tx, bookID, 2)
				return err
			})
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 5 {
		t.Errorf("Expected 5 successful reservations, got %d", successCount)
	}

	book, err := store.GetBook(ctx, db, bookID)
	if err != nil {
		t.Fatalf("Get book: %v", err)
	}
	if book.StockQuantity != 0 {
		t.Errorf("Expected stock 0, got %d", book.StockQuantity)
	}
	if book.SoldCount != 10 {
		t.Errorf("Expected sold count 10, got %d", book.SoldCount)
	}
}

func TestReserveThenReleaseRestoresStock(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	bookID := createBook(t, db, "Round Trip", 7)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		book, err := store.ReserveStock(ctx, tx, bookID, 4)
		if err != nil {
			return err
		}
		if book.StockQuantity != 3 {
			t.Errorf("Expected stock 3 after reservation, got %d", book.StockQuantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.ReleaseStock(ctx, tx, bookID, 4)
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	book, err := store.GetBook(ctx, db, bookID)
	if err != nil {
		t.Fatalf("Get book: %v", err)
	}
	if book.StockQuantity != 7 {
		t.Errorf("Expected stock back at 7, got %d", book.StockQuantity)
	}
	if book.SoldCount != 4 {
		t.Errorf("Expected sold count to keep the attempted sale (4), got %d", book.SoldCount)
	}
}

func TestReserveStockInsufficient(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	bookID := createBook(t, db, "Scarce Title", 5)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := store.ReserveStock(ctx, tx, bookID, 10)
		return err
	})

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got: %v", err)
	}
	if stockErr.BookID != bookID || stockErr.Available != 5 || stockErr.Requested != 10 {
		t.Errorf("Unexpected error details: %+v", stockErr)
	}

	book, err := store.GetBook(ctx, db, bookID)
	if err != nil {
		t.Fatalf("Get book: %v", err)
	}
	if book.StockQuantity != 5 {
		t.Errorf("Stock should remain unchanged at 5, got %d", book.StockQuantity)
	}
}

func TestUnreserveStockRestoresSoldCount(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	bookID := createBook(t, db, "Undo", 3)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := store.ReserveStock(ctx, tx, bookID, 2); err != nil {
			return err
		}
		return store.UnreserveStock(ctx, tx, bookID, 2)
	})
	if err != nil {
		t.Fatalf("Reserve and unreserve: %v", err)
	}

	book, err := store.GetBook(ctx, db, bookID)
	if err != nil {
		t.Fatalf("Get book: %v", err)
	}
	if book.StockQuantity != 3 || book.SoldCount != 0 {
		t.Errorf("Expected stock 3 / sold 0, got %d / %d", book.StockQuantity, book.SoldCount)
	}
}
