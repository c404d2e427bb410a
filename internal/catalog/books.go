package catalog

import (
	"context"
	"fmt"

	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/pricing"
	"github.com/safar/go-bookstore/internal/store"
	"github.com/shopspring/decimal"
)

// CreateBook stores a new sellable book and queues its gateway sync.
func (s *Syncer) CreateBook(ctx context.Context, nb store.NewBook) (*models.Book, error) {
	if _, err := pricing.UnitPrice(nb.Price, nb.DiscountPercentage); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	if nb.Stock < 0 {
		return nil, fmt.Errorf("create book: stock must not be negative")
	}

	book, err := store.CreateBook(ctx, s.db, nb)
	if err != nil {
		return nil, err
	}

	s.EnqueueBookSync(ctx, book.ID)
	return book, nil
}

// Reprice changes a book's price and discount and queues a sync when the
// effective unit price moved. version must match the stored row.
func (s *Syncer) Reprice(ctx context.Context, bookID int64, price, discount decimal.Decimal, version int) (*models.Book, error) {
	if _, err := pricing.UnitPrice(price, discount); err != nil {
		return nil, fmt.Errorf("reprice book: %w", err)
	}

	book, err := store.UpdateBookPricing(ctx, s.db, bookID, price, discount, version)
	if err != nil {
		return nil, err
	}

	if amount, err := mirroredAmount(book); err == nil {
		if book.ExternalPriceAmount == nil || *book.ExternalPriceAmount != amount {
			s.EnqueueBookSync(ctx, book.ID)
		}
	}

	return book, nil
}
