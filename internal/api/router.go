// Package api exposes the order flow over HTTP.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-bookstore/internal/logger"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/orders"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (*orders.CheckoutResult, error)
	ResumePayment(ctx context.Context, userID, orderID int64) (*orders.CheckoutResult, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ConfirmPayment(ctx context.Context, sessionID string) error
	UpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error)
}

type CatalogService interface {
	CreateBook(ctx context.Context, nb store.NewBook) (*models.Book, error)
	Reprice(ctx context.Context, bookID int64, price, discount decimal.Decimal, version int) (*models.Book, error)
}

type WebhookParser interface {
	Parse(payload []byte, signature string) (*payment.WebhookEvent, error)
}

type Handler struct {
	db       *sql.DB
	orders   OrderService
	catalog  CatalogService
	webhooks WebhookParser
	log      *zap.Logger
}

func NewHandler(db *sql.DB, orders OrderService, catalog CatalogService, webhooks WebhookParser, log *zap.Logger) *Handler {
	return &Handler{
		db:       db,
		orders:   orders,
		catalog:  catalog,
		webhooks: webhooks,
		log:      log,
	}
}

// Router mounts every route. Caller identity comes from the X-User-ID header
// set by the upstream auth gateway, which also guards /admin.
func (h *Handler) Router(requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.health)

	r.Post("/webhooks/stripe", h.stripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{orderID}", h.getOrder)
			r.Post("/{orderID}/pay", h.resumePayment)
			r.Post("/{orderID}/cancel", h.cancelOrder)
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Post("/", h.createAddress)
			r.Delete("/{addressID}", h.deleteAddress)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/users", h.createUser)
		r.Get("/users/{userID}", h.getUser)
		r.Post("/books", h.createBook)
		r.Patch("/books/{bookID}/price", h.repriceBook)
		r.Patch("/orders/{orderID}/status", h.updateOrderStatus)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
