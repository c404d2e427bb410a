package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/models"
)

const orderColumns = `id, user_id, order_number, status, payment_status, subtotal, tax_amount, shipping_cost,
	total_amount, payment_method, checkout_session_id, shipping_address_id, created_at, updated_at,
	paid_at, cancelled_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		sessionID           sql.NullString
		paidAt, cancelledAt sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&order.Subtotal,
		&order.TaxAmount,
		&order.ShippingCost,
		&order.TotalAmount,
		&order.PaymentMethod,
		&sessionID,
		&order.ShippingAddressID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&paidAt,
		&cancelledAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.CheckoutSessionID = nullString(sessionID)
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if cancelledAt.Valid {
		order.CancelledAt = &cancelledAt.Time
	}

	return order, nil
}

// InsertOrder persists the order and its items. order.Items must carry the
// price snapshot; IDs and timestamps are filled in place.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, payment_status, subtotal, tax_amount, shipping_cost,
		                     total_amount, payment_method, shipping_address_id, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.PaymentStatus, order.Subtotal, order.TaxAmount,
		order.ShippingCost, order.TotalAmount, order.PaymentMethod, order.ShippingAddressID,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, book_id, title, quantity, unit_price, total_price, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 RETURNING id, created_at`,
			order.ID, item.BookID, item.Title, item.Quantity, item.UnitPrice, item.TotalPrice,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

func GetOrder(ctx context.Context, q database.Queryer, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Items, err = GetOrderItems(ctx, q, id); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if order.Items, err = GetOrderItems(ctx, tx, id); err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrderIDBySession(ctx context.Context, q database.Queryer, sessionID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE checkout_session_id = $1`, sessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.ErrOrderNotFound
		}
		return 0, fmt.Errorf("find order by session: %w", err)
	}
	return id, nil
}

func GetOrderItems(ctx context.Context, q database.Queryer, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, book_id, title, quantity, unit_price, total_price, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.BookID,
			&item.Title,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ListOrdersCursor(ctx context.Context, q database.Queryer, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// SetCheckoutSession stores sessionID on a still-payable order, replacing
// previousID (nil when the order has no session yet). It reports false when
// the order moved on or another writer replaced the session first.
func SetCheckoutSession(ctx context.Context, q database.Queryer, orderID int64, previousID *string, sessionID string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET checkout_session_id = $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND status = $3
		   AND payment_status = $4
		   AND checkout_session_id IS NOT DISTINCT FROM $5`,
		sessionID, orderID, models.OrderStatusPending, models.PaymentStatusPending, previousID)
	if err != nil {
		return false, fmt.Errorf("set checkout session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// UpdateOrderStatus moves order to status/paymentStatus and refreshes the
// timestamps and version on the passed struct.
func UpdateOrderStatus(ctx context.Context, q database.Queryer, order *models.Order, status models.OrderStatus, paymentStatus models.PaymentStatus) error {
	var (
		paidAt      any
		cancelledAt any
		now         = time.Now().UTC()
	)
	if paymentStatus == models.PaymentStatusPaid {
		paidAt = now
	}
	if status == models.OrderStatusCancelled {
		cancelledAt = now
	}

	var paid, cancelled sql.NullTime
	err := q.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     payment_status = $2,
		     paid_at = COALESCE(paid_at, $3),
		     cancelled_at = COALESCE(cancelled_at, $4),
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $5
		 RETURNING updated_at, paid_at, cancelled_at, version`,
		status, paymentStatus, paidAt, cancelledAt, order.ID,
	).Scan(&order.UpdatedAt, &paid, &cancelled, &order.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrOrderNotFound
		}
		return fmt.Errorf("update order status: %w", err)
	}

	order.Status = status
	order.PaymentStatus = paymentStatus
	if paid.Valid {
		order.PaidAt = &paid.Time
	}
	if cancelled.Valid {
		order.CancelledAt = &cancelled.Time
	}

	return nil
}

// DeleteOrder removes an order that never became payable. Items cascade.
func DeleteOrder(ctx context.Context, tx *sql.Tx, id int64) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	return expectOneRow(result, database.ErrOrderNotFound)
}

// ClaimStalledSetupOrder locks the oldest pending order that never received a
// checkout session before cutoff, skipping rows other workers hold.
func ClaimStalledSetupOrder(ctx context.Context, tx *sql.Tx, cutoff time.Time) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1
		   AND payment_status = $2
		   AND checkout_session_id IS NULL
		   AND created_at < $3
		 ORDER BY created_at
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`,
		models.OrderStatusPending, models.PaymentStatusPending, cutoff))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("claim stalled order: %w", err)
	}

	if order.Items, err = GetOrderItems(ctx, tx, order.ID); err != nil {
		return nil, err
	}

	return order, nil
}
