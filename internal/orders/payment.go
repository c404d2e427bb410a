package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/events"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/pricing"
	"github.com/safar/go-bookstore/internal/store"
	"go.uber.org/zap"
)

// ResumePayment returns a usable checkout URL for a payable order. An open
// session is reused as is; otherwise a fresh session replaces it.
func (m *Manager) ResumePayment(ctx context.Context, userID, orderID int64) (*CheckoutResult, error) {
	order, err := m.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return m.resume(ctx, order)
}

func (m *Manager) currentCheckout(ctx context.Context, orderID int64) (*CheckoutResult, error) {
	order, err := store.GetOrder(ctx, m.db, orderID)
	if err != nil {
		return nil, err
	}
	return m.resume(ctx, order)
}

func (m *Manager) resume(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	log := m.log.With(zap.Int64("order_id", order.ID))

	for attempt := 0; attempt < 2; attempt++ {
		if !order.Payable() {
			return nil, ErrOrderNotPayable
		}

		if order.CheckoutSessionID != nil {
			current, err := m.gateway.GetCheckoutSession(ctx, *order.CheckoutSessionID)
			if err != nil {
				return nil, &GatewaySessionError{OrderID: order.ID, Err: err}
			}

			switch {
			case current.Status == payment.SessionOpen:
				return &CheckoutResult{Order: order, CheckoutURL: current.URL}, nil
			case current.Paid():
				// Paid before the confirmation reached us.
				if err := m.ConfirmPayment(ctx, current.ID); err != nil {
					return nil, err
				}
				return nil, ErrOrderNotPayable
			case current.Status == payment.SessionComplete:
				// Completed but unpaid: an asynchronous payment method is still
				// settling, and a second session could charge the customer twice.
				log.Info("Checkout session awaiting payment settlement", zap.String("session_id", current.ID))
				return nil, fmt.Errorf("%w: payment is still processing", ErrOrderNotPayable)
			}
		}

		books, err := store.GetBooks(ctx, m.db, bookIDs(order.Items))
		if err != nil {
			return nil, err
		}

		fresh, err := m.gateway.CreateCheckoutSession(ctx, m.checkoutRequest(order, books))
		if err != nil {
			return nil, &GatewaySessionError{OrderID: order.ID, Err: err}
		}

		stored, err := store.SetCheckoutSession(ctx, m.db, order.ID, order.CheckoutSessionID, fresh.ID)
		if err != nil {
			m.expireSession(ctx, fresh.ID)
			return nil, err
		}
		if stored {
			log.Info("Checkout session replaced", zap.String("session_id", fresh.ID))
			order.CheckoutSessionID = &fresh.ID
			return &CheckoutResult{Order: order, CheckoutURL: fresh.URL}, nil
		}

		// Lost a race with another writer. Re-read and decide again.
		m.expireSession(ctx, fresh.ID)
		if order, err = store.GetOrder(ctx, m.db, order.ID); err != nil {
			return nil, err
		}
	}

	return nil, &GatewaySessionError{OrderID: order.ID, Err: errors.New("checkout session changed concurrently")}
}

// ConfirmPayment marks the order owning sessionID as paid. Repeated or late
// confirmations are ignored.
func (m *Manager) ConfirmPayment(ctx context.Context, sessionID string) error {
	orderID, err := store.GetOrderIDBySession(ctx, m.db, sessionID)
	if err != nil {
		return err
	}

	log := m.log.With(zap.Int64("order_id", orderID), zap.String("session_id", sessionID))

	var (
		order     *models.Order
		confirmed bool
	)
	err = database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		confirmed = false

		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}
		if !order.Payable() {
			log.Warn("Payment received for an order that is no longer payable",
				zap.Stringer("status", order.Status),
				zap.String("payment_status", string(order.PaymentStatus)))
			return nil
		}

		if err := store.UpdateOrderStatus(ctx, tx, order, models.OrderStatusConfirmed, models.PaymentStatusPaid); err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}

	if confirmed {
		log.Info("Payment confirmed")
		m.publish(ctx, events.TypeOrderUpdated, order)
	}
	return nil
}

func (m *Manager) checkoutRequest(order *models.Order, books map[int64]*models.Book) payment.CheckoutRequest {
	return payment.CheckoutRequest{
		Currency:          m.cfg.Currency,
		LineItems:         lineItems(order, books),
		SuccessURL:        m.cfg.SuccessURL,
		CancelURL:         m.cfg.CancelURL,
		ClientReferenceID: order.OrderNumber,
		Metadata: map[string]string{
			"order_id":     strconv.FormatInt(order.ID, 10),
			"order_number": order.OrderNumber,
		},
	}
}

// lineItems references the mirrored gateway price for books whose mirror
// matches the snapshot unit price, and sends inline price data for the rest.
// Tax and shipping become their own lines when non-zero.
func lineItems(order *models.Order, books map[int64]*models.Book) []payment.LineItem {
	items := make([]payment.LineItem, 0, len(order.Items)+2)

	for _, item := range order.Items {
		unit := pricing.ToMinorUnits(item.UnitPrice)
		li := payment.LineItem{Quantity: int64(item.Quantity)}

		book := books[item.BookID]
		if priceID, ok := mirroredPrice(book, unit); ok {
			li.PriceID = priceID
		} else {
			li.Name = item.Title
			li.UnitAmount = unit
			if book != nil {
				li.Description = book.Description
			}
		}
		items = append(items, li)
	}

	if order.TaxAmount.IsPositive() {
		items = append(items, payment.LineItem{Name: "Tax", UnitAmount: pricing.ToMinorUnits(order.TaxAmount), Quantity: 1})
	}
	if order.ShippingCost.IsPositive() {
		items = append(items, payment.LineItem{Name: "Shipping", UnitAmount: pricing.ToMinorUnits(order.ShippingCost), Quantity: 1})
	}

	return items
}

func mirroredPrice(book *models.Book, unitAmount int64) (string, bool) {
	if book == nil || book.ExternalPriceAmount == nil || *book.ExternalPriceAmount != unitAmount {
		return "", false
	}
	return book.MirroredPriceID()
}

func bookIDs(items []models.OrderItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.BookID
	}
	return ids
}
