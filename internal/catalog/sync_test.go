package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-bookstore/internal/jobs"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/payment/paymenttest"
	"github.com/safar/go-bookstore/internal/store"
	"github.com/safar/go-bookstore/internal/testutil/pgtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSyncer(t *testing.T) (*Syncer, *paymenttest.Gateway, *sql.DB) {
	t.Helper()

	db := pgtest.New(t)
	gw := paymenttest.New()
	s := NewSyncer(db, gw, jobs.NewScheduler(3), zap.NewNop(), Config{
		Currency:  "usd",
		Retries:   2,
		RetryWait: time.Millisecond,
	})
	return s, gw, db
}

func seedBook(t *testing.T, db *sql.DB, price, discount string) *models.Book {
	t.Helper()

	book, err := store.CreateBook(context.Background(), db, store.NewBook{
		Title:              "The Go Programming Language",
		Price:              decimal.RequireFromString(price),
		DiscountPercentage: decimal.RequireFromString(discount),
		Stock:              10,
	})
	require.NoError(t, err)
	return book
}

func TestSyncBook(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()
	book := seedBook(t, db, "19.99", "10")

	require.NoError(t, s.SyncBook(ctx, book.ID))

	synced, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, synced.SyncStatus)
	require.NotNil(t, synced.ExternalProductID)
	require.NotNil(t, synced.ExternalPriceID)
	assert.Equal(t, int64(1799), *synced.ExternalPriceAmount)
	assert.Nil(t, synced.SyncError)

	require.Len(t, gw.Prices, 1)
	assert.Equal(t, int64(1799), gw.Prices[0].UnitAmount)
	assert.Equal(t, "usd", gw.Prices[0].Currency)

	// Already mirrored at the current price: nothing to do.
	require.NoError(t, s.SyncBook(ctx, book.ID))
	assert.Equal(t, 1, gw.ProductCalls)
	assert.Equal(t, 1, gw.PriceCalls)
}

func TestSyncBookFailureIsRecorded(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()
	book := seedBook(t, db, "10.00", "0")

	gw.PriceErr = paymenttest.ErrUnavailable

	require.NoError(t, s.SyncBook(ctx, book.ID), "gateway failures are not returned")
	assert.Equal(t, 3, gw.PriceCalls, "one call plus two retries")

	failed, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, failed.SyncStatus)
	require.NotNil(t, failed.SyncError)
	assert.Contains(t, *failed.SyncError, "gateway unavailable")
	require.NotNil(t, failed.ExternalProductID, "created product is kept for the retry")

	// The retry reuses the product.
	gw.PriceErr = nil
	require.NoError(t, s.SyncBook(ctx, book.ID))
	assert.Equal(t, 1, gw.ProductCalls)

	synced, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, synced.SyncStatus)
}

func TestSyncBookPermanentErrorNotRetried(t *testing.T) {
	s, gw, db := newSyncer(t)
	book := seedBook(t, db, "10.00", "0")

	gw.ProductErr = &payment.GatewayError{Op: "create product", Err: errors.New("invalid name")}

	require.NoError(t, s.SyncBook(context.Background(), book.ID))
	assert.Equal(t, 1, gw.ProductCalls)
}

func TestSyncBookMovesRepricedBookToNewPrice(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()
	book := seedBook(t, db, "20.00", "0")
	require.NoError(t, s.SyncBook(ctx, book.ID))

	before, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	oldPrice := *before.ExternalPriceID

	_, err = store.UpdateBookPricing(ctx, db, book.ID, decimal.RequireFromString("20.00"), decimal.RequireFromString("25"), before.Version)
	require.NoError(t, err)

	require.NoError(t, s.SyncBook(ctx, book.ID))

	after, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, after.SyncStatus)
	assert.NotEqual(t, oldPrice, *after.ExternalPriceID)
	assert.Equal(t, int64(1500), *after.ExternalPriceAmount)
	assert.Equal(t, *before.ExternalProductID, *after.ExternalProductID)
	assert.Equal(t, 1, gw.ProductCalls)
	assert.Equal(t, []string{oldPrice}, gw.Deactivated)
}

func TestResyncAfterFailedRepriceDeactivatesOldPrice(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()
	book := seedBook(t, db, "20.00", "0")
	require.NoError(t, s.SyncBook(ctx, book.ID))

	before, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	oldPrice := *before.ExternalPriceID

	_, err = store.UpdateBookPricing(ctx, db, book.ID, decimal.RequireFromString("25.00"), decimal.Zero, before.Version)
	require.NoError(t, err)

	gw.PriceErr = paymenttest.ErrUnavailable
	require.NoError(t, s.SyncBook(ctx, book.ID))

	failed, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusFailed, failed.SyncStatus)
	assert.Equal(t, oldPrice, *failed.ExternalPriceID, "old price stays referenced until replaced")
	assert.Empty(t, gw.Deactivated)

	gw.PriceErr = nil
	require.NoError(t, s.Sweep(ctx))

	w := jobs.NewWorker(db, zap.NewNop(), jobs.WorkerConfig{})
	s.Register(w, time.Hour)
	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	after, err := store.GetBook(ctx, db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, after.SyncStatus)
	assert.Equal(t, int64(2500), *after.ExternalPriceAmount)
	assert.Equal(t, []string{oldPrice}, gw.Deactivated)
}

func TestConcurrentSyncsCreateOneProduct(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()
	book := seedBook(t, db, "9.00", "0")

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SyncBook(ctx, book.ID)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, gw.ProductCalls)
	assert.Equal(t, 1, gw.PriceCalls)
}

func TestSweepQueuesUnsyncedBooks(t *testing.T) {
	s, gw, db := newSyncer(t)
	ctx := context.Background()

	synced := seedBook(t, db, "5.00", "0")
	require.NoError(t, s.SyncBook(ctx, synced.ID))

	gw.PriceErr = paymenttest.ErrUnavailable
	failed := seedBook(t, db, "6.00", "0")
	require.NoError(t, s.SyncBook(ctx, failed.ID))
	gw.PriceErr = nil

	pending := seedBook(t, db, "7.00", "0")

	require.NoError(t, s.Sweep(ctx))
	require.NoError(t, s.Sweep(ctx), "sweeping twice must not duplicate jobs")

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE kind = $1 AND status = 'pending'`, KindSyncBook).Scan(&count))
	assert.Equal(t, 2, count)

	w := jobs.NewWorker(db, zap.NewNop(), jobs.WorkerConfig{})
	s.Register(w, time.Hour)
	for {
		ran, err := w.RunOnce(ctx)
		require.NoError(t, err)
		if !ran {
			break
		}
	}

	for _, id := range []int64{failed.ID, pending.ID} {
		book, err := store.GetBook(ctx, db, id)
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusSynced, book.SyncStatus, "book %d", id)
	}
}

func TestRepriceJoinsPendingSync(t *testing.T) {
	s, _, db := newSyncer(t)
	ctx := context.Background()

	book, err := s.CreateBook(ctx, store.NewBook{Title: "Dune", Price: decimal.RequireFromString("12.00"), Stock: 3})
	require.NoError(t, err)

	_, err = s.Reprice(ctx, book.ID, decimal.RequireFromString("14.00"), decimal.Zero, book.Version)
	require.NoError(t, err)

	var kinds []string
	rows, err := db.QueryContext(ctx, `SELECT kind FROM jobs ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		kinds = append(kinds, k)
	}
	assert.Equal(t, []string{KindSyncBook}, kinds, "reprice before the first sync ran reuses the pending job")

	_, err = s.Reprice(ctx, book.ID, decimal.RequireFromString("-1"), decimal.Zero, book.Version+1)
	assert.Error(t, err)
}
