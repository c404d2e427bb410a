// Package catalog mirrors sellable books into the payment gateway's product
// catalog so checkout can reference stable price ids.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/jobs"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/pricing"
	"github.com/safar/go-bookstore/internal/store"
	"go.uber.org/zap"
)

const (
	KindSyncBook = "catalog.sync_book"
	KindResync   = "catalog.resync"

	sweepBatch = 500
)

type Config struct {
	Currency  string
	Retries   uint64
	RetryWait time.Duration
}

type Syncer struct {
	db        *sql.DB
	gateway   payment.Gateway
	scheduler *jobs.Scheduler
	log       *zap.Logger
	cfg       Config
}

func NewSyncer(db *sql.DB, gateway payment.Gateway, scheduler *jobs.Scheduler, log *zap.Logger, cfg Config) *Syncer {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	return &Syncer{
		db:        db,
		gateway:   gateway,
		scheduler: scheduler,
		log:       log.Named("catalog"),
		cfg:       cfg,
	}
}

type bookPayload struct {
	BookID int64 `json:"book_id"`
}

// SyncBook mirrors a book into the gateway: it creates the product on first
// sync and a new price whenever the effective unit price moved, deactivating
// the price it replaces. Syncs of the same book are serialized. Gateway
// failures are recorded on the book and logged; only database errors are
// returned.
func (s *Syncer) SyncBook(ctx context.Context, bookID int64) error {
	return database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := store.LockBookSync(ctx, tx, bookID); err != nil {
			return err
		}
		return s.sync(ctx, tx, bookID)
	})
}

func (s *Syncer) sync(ctx context.Context, q database.Queryer, bookID int64) error {
	book, err := store.GetBook(ctx, q, bookID)
	if err != nil {
		return err
	}

	amount, err := mirroredAmount(book)
	if err != nil {
		return s.markFailed(ctx, q, book, nil, err)
	}

	if book.SyncStatus == models.SyncStatusSynced && book.ExternalPriceAmount != nil && *book.ExternalPriceAmount == amount {
		return nil
	}

	var productID string
	if book.ExternalProductID != nil {
		productID = *book.ExternalProductID
	} else {
		productID, err = retry(ctx, s, "create product", func() (string, error) {
			return s.gateway.CreateProduct(ctx, payment.ProductRequest{
				Name:        book.Title,
				Description: book.Description,
				Metadata:    map[string]string{"book_id": strconv.FormatInt(book.ID, 10)},
			})
		})
		if err != nil {
			return s.markFailed(ctx, q, book, nil, err)
		}
	}

	priceID, err := retry(ctx, s, "create price", func() (string, error) {
		return s.gateway.CreatePrice(ctx, payment.PriceRequest{ProductID: productID, UnitAmount: amount, Currency: s.cfg.Currency})
	})
	if err != nil {
		return s.markFailed(ctx, q, book, &productID, err)
	}

	if old := book.ExternalPriceID; old != nil && *old != priceID {
		_, err := retry(ctx, s, "deactivate price", func() (struct{}, error) {
			return struct{}{}, s.gateway.DeactivatePrice(ctx, *old)
		})
		if err != nil {
			s.log.Warn("Failed to deactivate old price",
				zap.Int64("book_id", book.ID),
				zap.String("price_id", *old),
				zap.Error(err))
		}
	}

	if err := store.MarkBookSynced(ctx, q, book.ID, productID, priceID, amount); err != nil {
		return err
	}

	s.log.Info("Book synced",
		zap.Int64("book_id", book.ID),
		zap.String("product_id", productID),
		zap.String("price_id", priceID),
		zap.Int64("amount", amount))
	return nil
}

// Sweep queues a sync for every book that is not mirrored yet or whose last
// sync failed.
func (s *Syncer) Sweep(ctx context.Context) error {
	queued := 0
	for _, status := range []models.SyncStatus{models.SyncStatusFailed, models.SyncStatusPending} {
		ids, err := store.ListBookIDsBySyncStatus(ctx, s.db, status, sweepBatch)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.scheduler.Enqueue(ctx, s.db, syncJob(id)); err != nil {
				return err
			}
			queued++
		}
	}

	if queued > 0 {
		s.log.Info("Queued catalog resync", zap.Int("books", queued))
	}
	return nil
}

// EnqueueBookSync schedules SyncBook in the background. A book with a sync
// already pending is not queued twice. Errors are logged.
func (s *Syncer) EnqueueBookSync(ctx context.Context, bookID int64) {
	if _, err := s.scheduler.Enqueue(ctx, s.db, syncJob(bookID)); err != nil {
		s.log.Error("Failed to enqueue catalog sync", zap.Int64("book_id", bookID), zap.Error(err))
	}
}

func syncJob(bookID int64) jobs.NewJob {
	return jobs.NewJob{
		Kind:      KindSyncBook,
		Payload:   bookPayload{BookID: bookID},
		DedupeKey: fmt.Sprintf("book:%d", bookID),
	}
}

// Register wires the sync handlers and the periodic sweep into w.
func (s *Syncer) Register(w *jobs.Worker, resyncEvery time.Duration) {
	w.Register(KindSyncBook, jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		var p bookPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return s.SyncBook(ctx, p.BookID)
	}))
	w.Every(KindResync, resyncEvery, func(ctx context.Context, _ *jobs.Job) error {
		return s.Sweep(ctx)
	})
}

func (s *Syncer) markFailed(ctx context.Context, q database.Queryer, book *models.Book, productID *string, cause error) error {
	s.log.Warn("Book sync failed", zap.Int64("book_id", book.ID), zap.Error(cause))

	if err := store.MarkBookSyncFailed(ctx, q, book.ID, productID, cause.Error()); err != nil {
		if errors.Is(err, database.ErrBookNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func mirroredAmount(book *models.Book) (int64, error) {
	unit, err := pricing.UnitPrice(book.Price, book.DiscountPercentage)
	if err != nil {
		return 0, err
	}
	return pricing.ToMinorUnits(unit), nil
}

// retry runs op with exponential backoff, giving up early on errors the
// gateway marks as not retryable.
func retry[T any](ctx context.Context, s *Syncer, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryWait

	var out T
	err := backoff.RetryNotify(func() error {
		var err error
		out, err = op()
		if err != nil && !payment.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.Retries), ctx), func(err error, wait time.Duration) {
		s.log.Debug("Retrying gateway call", zap.String("op", what), zap.Duration("wait", wait), zap.Error(err))
	})

	return out, err
}
