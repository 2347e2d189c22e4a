// Command product-processor consumes product events, creates products
// downstream and associates each with its supplier.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/downstream"
	"github.com/drblury/stockflow/internal/logging"
	"github.com/drblury/stockflow/internal/pipeline"
)

func main() {
	logger := logging.NewJSONLogger(slog.LevelInfo)
	if err := run(logger); err != nil {
		logger.Error("Product processor failed", err, nil)
		os.Exit(1)
	}
}

func run(logger logging.ServiceLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	svc, err := pipeline.NewService(ctx, cfg, logger, pipeline.Dependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	products := downstream.NewProductClient(cfg.ProductServiceURL, cfg.HTTPTimeout)
	suppliers := downstream.NewSupplierClient(cfg.SupplierServiceURL, cfg.HTTPTimeout)
	if err := svc.RegisterProductProcessor(products, suppliers); err != nil {
		return err
	}

	return svc.Start(ctx)
}
