// Package orders turns carts into payable orders and resolves them through
// payment or cancellation.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-bookstore/internal/cart"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/events"
	"github.com/safar/go-bookstore/internal/jobs"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/pricing"
	"github.com/safar/go-bookstore/internal/store"
	"go.uber.org/zap"
)

const (
	KindCancelUnpaid = "orders.cancel_unpaid"
	KindSetupSweep   = "orders.setup_sweep"

	defaultPaymentMethod = "card"
)

type Config struct {
	Currency         string
	SuccessURL       string
	CancelURL        string
	PaymentWindow    time.Duration
	SetupGracePeriod time.Duration
	Pricing          pricing.Settings
}

type Manager struct {
	db        *sql.DB
	gateway   payment.Gateway
	scheduler *jobs.Scheduler
	cart      cart.Store
	publisher events.Publisher
	log       *zap.Logger
	cfg       Config
}

func NewManager(db *sql.DB, gateway payment.Gateway, scheduler *jobs.Scheduler, carts cart.Store,
	publisher events.Publisher, log *zap.Logger, cfg Config) *Manager {
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 30 * time.Minute
	}
	if cfg.SetupGracePeriod <= 0 {
		cfg.SetupGracePeriod = 10 * time.Minute
	}
	return &Manager{
		db:        db,
		gateway:   gateway,
		scheduler: scheduler,
		cart:      carts,
		publisher: publisher,
		log:       log.Named("orders"),
		cfg:       cfg,
	}
}

type ItemRequest struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

type CreateOrderRequest struct {
	UserID            int64         `json:"-"`
	ShippingAddressID int64         `json:"shipping_address_id"`
	PaymentMethod     string        `json:"payment_method"`
	Items             []ItemRequest `json:"items"`
}

type CheckoutResult struct {
	Order       *models.Order `json:"order"`
	CheckoutURL string        `json:"checkout_url"`
}

type cancelPayload struct {
	OrderID int64 `json:"order_id"`
}

// CreateOrder reserves stock, persists the order and opens a checkout session.
//
// The order is committed without a session first, the gateway is called
// outside any transaction, and the session id is stored in a second short
// write. A gateway failure removes the order and its reservations again, so
// callers never observe an order that cannot be paid.
func (m *Manager) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CheckoutResult, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPaymentMethod
	}

	var (
		order      *models.Order
		books      map[int64]*models.Book
		cancelJob  int64
		scheduleAt = time.Now().Add(m.cfg.PaymentWindow)
	)

	err = database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := store.GetActiveAddress(ctx, tx, req.UserID, req.ShippingAddressID); err != nil {
			return err
		}

		books = make(map[int64]*models.Book, len(items))
		lines := make([]pricing.Line, 0, len(items))
		for _, item := range items {
			book, err := store.ReserveStock(ctx, tx, item.BookID, item.Quantity)
			if err != nil {
				return err
			}
			books[book.ID] = book
			lines = append(lines, pricing.Line{
				BookID:             book.ID,
				Title:              book.Title,
				Price:              book.Price,
				DiscountPercentage: book.DiscountPercentage,
				Quantity:           item.Quantity,
			})
		}

		totals, err := pricing.Calculate(m.cfg.Pricing, lines)
		if err != nil {
			return fmt.Errorf("price order: %w", err)
		}

		order = newOrder(req, totals)
		if err := store.InsertOrder(ctx, tx, order); err != nil {
			return err
		}

		cancelJob, err = m.scheduler.Enqueue(ctx, tx, jobs.NewJob{
			Kind:      KindCancelUnpaid,
			Payload:   cancelPayload{OrderID: order.ID},
			RunAt:     scheduleAt,
			DedupeKey: orderKey(order.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log := m.log.With(zap.Int64("order_id", order.ID), zap.String("order_number", order.OrderNumber))

	session, err := m.gateway.CreateCheckoutSession(ctx, m.checkoutRequest(order, books))
	if err != nil {
		log.Warn("Checkout session creation failed, rolling back order", zap.Error(err))
		if cErr := m.compensate(ctx, order, cancelJob); cErr != nil {
			log.Error("Failed to roll back order after gateway error", zap.Error(cErr))
		}
		return nil, &GatewaySessionError{Err: err}
	}

	stored, err := store.SetCheckoutSession(ctx, m.db, order.ID, nil, session.ID)
	if err != nil {
		log.Error("Failed to store checkout session", zap.String("session_id", session.ID), zap.Error(err))
		m.expireSession(ctx, session.ID)
		if cErr := m.compensate(ctx, order, cancelJob); cErr != nil {
			log.Error("Failed to roll back order after storing session failed", zap.Error(cErr))
		}
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	if stored {
		order.CheckoutSessionID = &session.ID
	} else {
		// The order was resolved or given a session by someone else while the
		// gateway call was in flight. It still exists, so it is announced below.
		m.expireSession(ctx, session.ID)
	}

	if err := m.cart.Remove(ctx, req.UserID, cartLines(items)); err != nil {
		log.Warn("Failed to remove ordered items from cart", zap.Error(err))
	}

	m.publish(ctx, events.TypeOrderCreated, order)
	log.Info("Order created", zap.String("total", order.TotalAmount.StringFixed(2)))

	if !stored {
		return m.currentCheckout(ctx, order.ID)
	}
	return &CheckoutResult{Order: order, CheckoutURL: session.URL}, nil
}

// compensate undoes phase one of CreateOrder for an order that never got a
// session. It runs even if the request context was cancelled.
func (m *Manager) compensate(ctx context.Context, order *models.Order, cancelJob int64) error {
	ctx = context.WithoutCancel(ctx)

	return database.WithRetry(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.GetOrderForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !locked.Payable() || locked.CheckoutSessionID != nil {
			return nil
		}

		for _, item := range locked.Items {
			if err := store.UnreserveStock(ctx, tx, item.BookID, item.Quantity); err != nil {
				return err
			}
		}

		if err := m.scheduler.Delete(ctx, tx, cancelJob); err != nil && !errors.Is(err, database.ErrJobNotFound) {
			return err
		}

		return store.DeleteOrder(ctx, tx, order.ID)
	})
}

func newOrder(req CreateOrderRequest, totals *pricing.Totals) *models.Order {
	order := &models.Order{
		UserID:            req.UserID,
		OrderNumber:       newOrderNumber(time.Now()),
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		Subtotal:          totals.Subtotal,
		TaxAmount:         totals.TaxAmount,
		ShippingCost:      totals.ShippingCost,
		TotalAmount:       totals.TotalAmount,
		PaymentMethod:     req.PaymentMethod,
		ShippingAddressID: req.ShippingAddressID,
	}

	for _, line := range totals.Lines {
		order.Items = append(order.Items, models.OrderItem{
			BookID:     line.BookID,
			Title:      line.Title,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.Total,
		})
	}

	return order
}

// newOrderNumber returns ORD<YYYYMMDD><8 uppercase hex>.
func newOrderNumber(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "ORD" + now.UTC().Format("20060102") + strings.ToUpper(random)
}

// normalizeItems merges repeated books and sorts by book id so concurrent
// orders lock book rows in the same order.
func normalizeItems(items []ItemRequest) ([]ItemRequest, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidRequest)
	}

	merged := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for book %d must be positive", ErrInvalidRequest, item.BookID)
		}
		merged[item.BookID] += item.Quantity
	}

	out := make([]ItemRequest, 0, len(merged))
	for bookID, qty := range merged {
		out = append(out, ItemRequest{BookID: bookID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookID < out[j].BookID })

	return out, nil
}

func cartLines(items []ItemRequest) []cart.Line {
	lines := make([]cart.Line, len(items))
	for i, item := range items {
		lines[i] = cart.Line{BookID: item.BookID, Quantity: item.Quantity}
	}
	return lines
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func (m *Manager) publish(ctx context.Context, eventType string, order *models.Order) {
	if err := m.publisher.Publish(ctx, events.NewOrderEvent(eventType, order)); err != nil {
		m.log.Warn("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (m *Manager) expireSession(ctx context.Context, sessionID string) {
	if err := m.gateway.ExpireCheckoutSession(context.WithoutCancel(ctx), sessionID); err != nil {
		m.log.Warn("Failed to expire checkout session", zap.String("session_id", sessionID), zap.Error(err))
	}
}
