// Command publisher seeds the intake queue with the JSON event documents
// found in the configured events directory, then waits for shutdown so it
// can run as a long-lived container in demo deployments.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/logging"
	"github.com/drblury/stockflow/internal/pipeline"
	"github.com/drblury/stockflow/internal/transport"
)

func main() {
	logger := logging.NewJSONLogger(slog.LevelInfo)
	if err := run(logger); err != nil {
		logger.Error("Publisher failed", err, nil)
		os.Exit(1)
	}
}

func run(logger logging.ServiceLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info("Publisher starting", logging.LogFields{"config": cfg.String()})

	tr, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := transport.DeclareQueues(tr.Subscriber, cfg.IntakeQueue); err != nil {
		return err
	}

	seeder := pipeline.NewSeeder(cfg.EventsDir, cfg.IntakeQueue, tr.Publisher, nil, logger)
	published, err := seeder.PublishAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("Seed batch published", logging.LogFields{"count": published})

	// Stay up so the container keeps its place in the compose stack.
	<-ctx.Done()
	logger.Info("Publisher shutting down", nil)
	return nil
}
