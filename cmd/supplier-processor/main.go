// Command supplier-processor consumes supplier onboarding events from the
// intake queue, creates suppliers downstream and fans out product events.
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
		logger.Error("Supplier processor failed", err, nil)
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

	suppliers := downstream.NewSupplierClient(cfg.SupplierServiceURL, cfg.HTTPTimeout)
	if err := svc.RegisterSupplierProcessor(suppliers); err != nil {
		return err
	}

	return svc.Start(ctx)
}
