package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/downstream"
	"github.com/drblury/stockflow/internal/event"
	"github.com/drblury/stockflow/internal/logging"
)

// ProductProcessor consumes product events, creates the product downstream
// and associates it with its supplier.
type ProductProcessor struct {
	products       productCreator
	suppliers      associator
	publisher      message.Publisher
	associationDLQ string
	failures       failureRouter
	metrics        *Metrics
	logger         logging.ServiceLogger
}

type productCreator interface {
	Create(ctx context.Context, name, description string, quantity int64, price string) (string, error)
}

type associator interface {
	Associate(ctx context.Context, supplierID, productID string) error
}

// NewProductProcessor wires a product processor.
func NewProductProcessor(cfg *config.Config, products productCreator, suppliers associator, publisher message.Publisher, metrics *Metrics, logger logging.ServiceLogger) *ProductProcessor {
	return &ProductProcessor{
		products:       products,
		suppliers:      suppliers,
		publisher:      publisher,
		associationDLQ: cfg.AssociationDLQ,
		metrics:        metrics,
		logger:         logger.With(logging.LogFields{"processor": "product"}),
		failures: failureRouter{
			publisher:   publisher,
			sourceQueue: cfg.ProductQueue,
			dlq:         cfg.ProductDLQ,
			maxAttempts: cfg.RetryMaxAttempts,
			metrics:     metrics,
			logger:      logger,
		},
	}
}

// Handle processes one product event. Like the supplier processor it never
// returns an error: the message is acknowledged on every path.
//
// Association failure is deliberately softer than create failure: the
// product already exists, so the message is not re-queued (that would
// create a duplicate product) and not sent to the product DLQ. The
// verbatim body goes to the association DLQ so the orphaned product is
// discoverable, and the message is acknowledged.
func (p *ProductProcessor) Handle(msg *message.Message) error {
	defer func() {
		if r := recover(); r != nil {
			p.failures.quarantine(msg, fmt.Errorf("handler panic: %v", r), "panic")
			p.metrics.recordConsumed(p.failures.sourceQueue, "quarantined")
		}
	}()

	ctx := msg.Context()
	p.logger.Debug("Product event received", logging.LogFields{
		"message_id": msg.UUID,
		"payload":    string(msg.Payload),
	})

	record, err := event.DecodeProductEvent(msg.Payload)
	if err != nil {
		p.failures.dispose(msg, err, false, "validation")
		p.metrics.recordConsumed(p.failures.sourceQueue, "quarantined")
		return nil
	}

	productID, err := p.products.Create(ctx, record.Name, record.Description, record.Quantity, record.PriceString())
	if err != nil {
		outcome := "quarantined"
		if p.failures.dispose(msg, err, downstream.IsRetryable(err), "downstream") {
			outcome = "requeued"
		}
		p.metrics.recordConsumed(p.failures.sourceQueue, outcome)
		return nil
	}
	p.logger.Info("Product created", logging.LogFields{
		"message_id":  msg.UUID,
		"product_id":  productID,
		"supplier_id": record.SupplierID,
	})

	if err := p.suppliers.Associate(ctx, record.SupplierID, productID); err != nil {
		p.metrics.recordAssociationFailure()
		p.logger.Error("Failed to associate product with supplier, product left orphaned", err, logging.LogFields{
			"message_id":  msg.UUID,
			"product_id":  productID,
			"supplier_id": record.SupplierID,
		})
		if pubErr := p.publisher.Publish(p.associationDLQ, copyVerbatim(msg)); pubErr != nil {
			p.logger.Error("Failed to publish to association DLQ", pubErr, logging.LogFields{
				"message_id": msg.UUID,
				"dlq":        p.associationDLQ,
			})
		} else {
			p.metrics.recordQuarantined(p.associationDLQ, "association")
		}
		p.metrics.recordConsumed(p.failures.sourceQueue, "processed")
		return nil
	}

	p.metrics.recordConsumed(p.failures.sourceQueue, "processed")
	return nil
}
