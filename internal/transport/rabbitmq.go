package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/cenkalti/backoff/v3"

	"github.com/drblury/stockflow/internal/config"
)

// ConnectionFactory allows overriding connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

func buildRabbitMQ(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	amqpConfig := amqp.NewDurableQueueConfig(cfg.RabbitMQURL)

	conn, err := connectWithBackoff(ctx, cfg, logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := amqp.NewPublisherWithConnection(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := amqp.NewSubscriberWithConnection(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// connectWithBackoff dials the broker until it is reachable or ctx is
// cancelled. The broker routinely starts after the consumers under
// container orchestration, so every failed attempt is logged and retried
// with capped exponential backoff rather than surfaced to the caller.
func connectWithBackoff(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	initial := cfg.ConnectInitialInterval
	if initial <= 0 {
		initial = config.DefaultConnectInitialInterval
	}
	maxInterval := cfg.ConnectMaxInterval
	if maxInterval <= 0 {
		maxInterval = config.DefaultConnectMaxInterval
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = maxInterval
	policy.MaxElapsedTime = 0 // keep trying until ctx is cancelled

	connConfig := amqp.ConnectionConfig{
		AmqpURI:   cfg.RabbitMQURL,
		Reconnect: amqp.DefaultReconnectConfig(),
	}

	var conn *amqp.ConnectionWrapper
	operation := func() error {
		var err error
		conn, err = ConnectionFactory(connConfig, logger)
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Info("Broker not ready, retrying", watermill.LogFields{
			"error":      err.Error(),
			"next_retry": next.String(),
		})
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}

	logger.Info("Connected to broker", nil)
	return conn, nil
}
