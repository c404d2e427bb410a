package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/events"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/store"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetOrder returns the user's order with items and the shipping address it
// was placed with, even if that address was deleted since.
func (m *Manager) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := m.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	address, err := store.ResolveAddress(ctx, m.db, order.ShippingAddressID)
	if err != nil {
		return nil, err
	}
	order.ShippingAddress = address

	return order, nil
}

func (m *Manager) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if _, err := store.DecodeCursor(cursor); err != nil {
		return nil, fmt.Errorf("%w: bad cursor", ErrInvalidRequest)
	}

	return store.ListOrdersCursor(ctx, m.db, userID, cursor, limit)
}

// UpdateStatus applies an admin status change. Cancelling through this path
// returns stock exactly like a customer cancellation.
func (m *Manager) UpdateStatus(ctx context.Context, orderID int64, statusName string) (*models.Order, error) {
	next, err := models.ParseOrderStatus(statusName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, statusName)
	}

	if next == models.OrderStatusCancelled {
		order, cancelled, err := m.cancelPending(ctx, orderID, 0)
		if err != nil {
			return nil, err
		}
		if !cancelled {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, next)
		}
		m.afterCancel(ctx, order, "cancelled by admin")
		return order, nil
	}

	var order *models.Order
	err = database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, next)
		}
		return store.UpdateOrderStatus(ctx, tx, order, next, order.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Order status updated", zap.Int64("order_id", order.ID), zap.Stringer("status", order.Status))
	m.publish(ctx, events.TypeOrderUpdated, order)
	return order, nil
}

func (m *Manager) ownedOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, m.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}
