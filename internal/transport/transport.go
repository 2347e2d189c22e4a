// Package transport builds the messaging backend for the pipeline: a
// durable-queue RabbitMQ transport for deployments and an in-memory Go
// channel transport for tests and local runs.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/config"
)

// Transport bundles the publisher/subscriber pair for one backend.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close releases both halves. Safe when publisher and subscriber share one
// underlying connection.
func (t Transport) Close() error {
	var firstErr error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs the transport selected by cfg.PubSubSystem. For
// RabbitMQ this blocks until the broker is reachable, retrying with capped
// exponential backoff, so a successful return doubles as the readiness
// signal.
func Build(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	switch strings.ToLower(cfg.PubSubSystem) {
	case config.SystemRabbitMQ:
		return buildRabbitMQ(ctx, cfg, logger)
	case config.SystemChannel:
		return buildChannel(logger)
	default:
		return Transport{}, fmt.Errorf("unsupported pubsub system %q", cfg.PubSubSystem)
	}
}

// DeclareQueues declares the given durable queues idempotently. Backends
// without explicit topology (the channel transport) skip this.
func DeclareQueues(sub message.Subscriber, queues ...string) error {
	initializer, ok := sub.(message.SubscribeInitializer)
	if !ok {
		return nil
	}
	for _, queue := range queues {
		if err := initializer.SubscribeInitialize(queue); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	return nil
}
