package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/downstream"
	"github.com/drblury/stockflow/internal/event"
	"github.com/drblury/stockflow/internal/ids"
	"github.com/drblury/stockflow/internal/logging"
)

// SupplierProcessor consumes supplier onboarding events from the intake
// queue, creates the supplier downstream and fans out one product event
// per product in the envelope.
type SupplierProcessor struct {
	suppliers    supplierCreator
	publisher    message.Publisher
	productQueue string
	outbox       OutboxStore
	failures     failureRouter
	metrics      *Metrics
	logger       logging.ServiceLogger
}

// supplierCreator is the slice of the supplier service this processor
// needs.
type supplierCreator interface {
	Create(ctx context.Context, name, contact string) (string, error)
}

// NewSupplierProcessor wires a supplier processor. outbox may be nil, in
// which case fan-out publishes directly.
func NewSupplierProcessor(cfg *config.Config, suppliers supplierCreator, publisher message.Publisher, outbox OutboxStore, metrics *Metrics, logger logging.ServiceLogger) *SupplierProcessor {
	return &SupplierProcessor{
		suppliers:    suppliers,
		publisher:    publisher,
		productQueue: cfg.ProductQueue,
		outbox:       outbox,
		metrics:      metrics,
		logger:       logger.With(logging.LogFields{"processor": "supplier"}),
		failures: failureRouter{
			publisher:   publisher,
			sourceQueue: cfg.IntakeQueue,
			dlq:         cfg.SupplierDLQ,
			maxAttempts: cfg.RetryMaxAttempts,
			metrics:     metrics,
			logger:      logger,
		},
	}
}

// Handle processes one supplier event. It never returns an error: every
// path ends with the message acknowledged, and failures are routed to the
// DLQ or re-queued by the failure router.
func (p *SupplierProcessor) Handle(msg *message.Message) error {
	defer func() {
		if r := recover(); r != nil {
			p.failures.quarantine(msg, fmt.Errorf("handler panic: %v", r), "panic")
			p.metrics.recordConsumed(p.failures.sourceQueue, "quarantined")
		}
	}()

	ctx := msg.Context()
	p.logger.Debug("Supplier event received", logging.LogFields{
		"message_id": msg.UUID,
		"payload":    string(msg.Payload),
	})

	ev, err := event.DecodeSupplierEvent(msg.Payload)
	if err != nil {
		p.failures.dispose(msg, err, false, "validation")
		p.metrics.recordConsumed(p.failures.sourceQueue, "quarantined")
		return nil
	}

	supplierID, err := p.suppliers.Create(ctx, ev.Name, ev.Contact)
	if err != nil {
		outcome := "quarantined"
		if p.failures.dispose(msg, err, downstream.IsRetryable(err), "downstream") {
			outcome = "requeued"
		}
		p.metrics.recordConsumed(p.failures.sourceQueue, outcome)
		return nil
	}
	p.logger.Info("Supplier created", logging.LogFields{
		"message_id":  msg.UUID,
		"supplier_id": supplierID,
		"products":    len(ev.Products),
	})

	if err := p.fanOut(ctx, supplierID, ev); err != nil {
		// The supplier exists and some product events may already be
		// out; re-queueing would duplicate them, so the remainder is
		// quarantined for manual recovery.
		p.failures.quarantine(msg, err, "fanout")
		p.metrics.recordConsumed(p.failures.sourceQueue, "quarantined")
		return nil
	}

	p.metrics.recordConsumed(p.failures.sourceQueue, "processed")
	return nil
}

// fanOut derives one product event per product payload, byte-identical to
// its appearance in the supplier event. With an outbox, all pending
// publishes are recorded first and individually marked delivered, so an
// interrupted fan-out resumes from the store instead of dropping the
// remainder.
func (p *SupplierProcessor) fanOut(ctx context.Context, supplierID string, ev *event.SupplierEvent) error {
	entries := make([]OutboxEntry, 0, len(ev.Products))
	for _, product := range ev.Products {
		payload, err := event.ProductEvent{SupplierID: supplierID, Product: product}.Encode()
		if err != nil {
			return fmt.Errorf("encode product event: %w", err)
		}
		entries = append(entries, OutboxEntry{
			ID:      ids.NewMessageID(),
			Topic:   p.productQueue,
			Payload: payload,
		})
	}

	if p.outbox != nil {
		if err := p.outbox.Enqueue(ctx, entries); err != nil {
			return fmt.Errorf("outbox enqueue: %w", err)
		}
	}

	var publishErrs []error
	for _, entry := range entries {
		out := message.NewMessage(entry.ID, entry.Payload)
		out.Metadata.Set(MetadataContentType, contentTypeJSON)
		if err := p.publisher.Publish(entry.Topic, out); err != nil {
			if p.outbox == nil {
				return fmt.Errorf("publish product event: %w", err)
			}
			// Entry stays pending; the next outbox drain retries it.
			p.logger.Error("Fan-out publish failed, left pending in outbox", err, logging.LogFields{
				"entry_id": entry.ID,
			})
			publishErrs = append(publishErrs, err)
			continue
		}
		p.metrics.recordFanout(1)
		if p.outbox != nil {
			if err := p.outbox.MarkDelivered(ctx, entry.ID); err != nil {
				publishErrs = append(publishErrs, err)
			}
		}
	}

	if p.outbox != nil && len(publishErrs) > 0 {
		p.logger.Info("Fan-out partially delivered, remainder pending in outbox", logging.LogFields{
			"pending": len(publishErrs),
			"total":   len(entries),
		})
		// The message is still acknowledged; delivery resumes from the
		// outbox rather than through redelivery.
		return nil
	}
	return errors.Join(publishErrs...)
}
