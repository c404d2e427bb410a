package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/events"
	"github.com/safar/go-bookstore/internal/jobs"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/store"
	"go.uber.org/zap"
)

// CancelExpired cancels an order whose payment window ran out. It is a no-op
// for orders that were paid, cancelled or progressed in the meantime, so it
// may run any number of times.
func (m *Manager) CancelExpired(ctx context.Context, orderID int64) error {
	order, cancelled, err := m.cancelPending(ctx, orderID, 0)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	if cancelled {
		m.afterCancel(ctx, order, "payment window expired")
	}
	return nil
}

// CancelOrder cancels the user's own unpaid order.
func (m *Manager) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, cancelled, err := m.cancelPending(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, ErrOrderNotCancellable
	}
	m.afterCancel(ctx, order, "cancelled by customer")
	return order, nil
}

// SweepStalledSetup cancels orders that never received a checkout session
// within the grace period, e.g. because the process died between committing
// the order and storing the session.
func (m *Manager) SweepStalledSetup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.cfg.SetupGracePeriod)
	swept := 0

	for {
		var order *models.Order
		err := database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			var err error
			order, err = store.ClaimStalledSetupOrder(ctx, tx, cutoff)
			if err != nil {
				return err
			}
			return releaseAndCancel(ctx, tx, order)
		})
		if errors.Is(err, database.ErrOrderNotFound) {
			return swept, nil
		}
		if err != nil {
			return swept, err
		}

		swept++
		m.afterCancel(ctx, order, "checkout session never stored")
	}
}

// cancelPending locks the order and, if it is still awaiting payment, returns
// its stock and cancels it in the same transaction. userID of zero skips the
// ownership check.
func (m *Manager) cancelPending(ctx context.Context, orderID, userID int64) (*models.Order, bool, error) {
	var (
		order     *models.Order
		cancelled bool
	)

	err := database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cancelled = false

		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if userID != 0 && order.UserID != userID {
			return database.ErrOrderNotFound
		}
		if !order.Payable() {
			return nil
		}

		if err := releaseAndCancel(ctx, tx, order); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return order, cancelled, nil
}

func releaseAndCancel(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	for _, item := range order.Items {
		if err := store.ReleaseStock(ctx, tx, item.BookID, item.Quantity); err != nil {
			return err
		}
	}
	return store.UpdateOrderStatus(ctx, tx, order, models.OrderStatusCancelled, models.PaymentStatusFailed)
}

func (m *Manager) afterCancel(ctx context.Context, order *models.Order, reason string) {
	m.log.Info("Order cancelled", zap.Int64("order_id", order.ID), zap.String("reason", reason))

	if order.CheckoutSessionID != nil {
		m.expireSession(ctx, *order.CheckoutSessionID)
	}
	m.publish(ctx, events.TypeOrderUpdated, order)
}

// Register wires the cancellation job and the setup sweep into w.
func (m *Manager) Register(w *jobs.Worker, sweepEvery time.Duration) {
	w.Register(KindCancelUnpaid, jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		var p cancelPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return m.CancelExpired(ctx, p.OrderID)
	}))

	w.Every(KindSetupSweep, sweepEvery, func(ctx context.Context, _ *jobs.Job) error {
		n, err := m.SweepStalledSetup(ctx)
		if n > 0 {
			m.log.Warn("Cancelled orders stuck in payment setup", zap.Int("count", n))
		}
		return err
	})
}
