// Package app assembles the services shared by the API and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-bookstore/internal/cart"
	"github.com/safar/go-bookstore/internal/catalog"
	"github.com/safar/go-bookstore/internal/config"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/events"
	"github.com/safar/go-bookstore/internal/jobs"
	"github.com/safar/go-bookstore/internal/orders"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/pricing"
	"go.uber.org/zap"
)

type App struct {
	DB        *sql.DB
	Orders    *orders.Manager
	Catalog   *catalog.Syncer
	Webhooks  *payment.WebhookVerifier
	Publisher events.Publisher

	redis *redis.Client
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg.Payment.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_API_KEY is required")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	rdb, err := cart.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	publisher, err := events.New(ctx, cfg.Events, log)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("create event publisher: %w", err)
	}

	gateway := payment.NewStripeGateway(cfg.Payment.StripeSecretKey, nil)
	scheduler := jobs.NewScheduler(cfg.Jobs.MaxAttempts)

	manager := orders.NewManager(db, gateway, scheduler, cart.NewRedisStore(rdb), publisher, log, orders.Config{
		Currency:         cfg.Payment.Currency,
		SuccessURL:       cfg.Payment.SuccessURL,
		CancelURL:        cfg.Payment.CancelURL,
		PaymentWindow:    cfg.Orders.PaymentWindow,
		SetupGracePeriod: cfg.Orders.SetupGracePeriod,
		Pricing: pricing.Settings{
			TaxRate:      cfg.Pricing.TaxRate,
			ShippingCost: cfg.Pricing.ShippingCost,
		},
	})

	syncer := catalog.NewSyncer(db, gateway, scheduler, log, catalog.Config{
		Currency:  cfg.Payment.Currency,
		Retries:   cfg.Jobs.SyncRetries,
		RetryWait: cfg.Jobs.SyncRetryWait,
	})

	return &App{
		DB:        db,
		Orders:    manager,
		Catalog:   syncer,
		Webhooks:  payment.NewWebhookVerifier(cfg.Payment.StripeWebhookKey),
		Publisher: publisher,
		redis:     rdb,
	}, nil
}

// Worker returns a job worker with every background handler registered.
func (a *App) Worker(cfg *config.Config, log *zap.Logger) *jobs.Worker {
	w := jobs.NewWorker(a.DB, log, jobs.WorkerConfig{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		LeaseTimeout: cfg.Jobs.LeaseTimeout,
	})
	a.Orders.Register(w, cfg.Orders.SetupSweepEvery)
	a.Catalog.Register(w, cfg.Jobs.ResyncEvery)
	return w
}

func (a *App) Close() error {
	return errors.Join(a.Publisher.Close(), a.redis.Close(), a.DB.Close())
}
