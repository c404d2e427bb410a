package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/safar/go-bookstore/internal/app"
	"github.com/safar/go-bookstore/internal/config"
	"github.com/safar/go-bookstore/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Env)
	if err != nil {
		log.Fatalf("Create logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to start services", zap.Error(err))
	}
	defer svc.Close()

	worker := svc.Worker(cfg, zlog)

	zlog.Info("Worker starting", zap.Int("workers", cfg.Jobs.Workers))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Error("Worker failed", zap.Error(err))
	}
}
