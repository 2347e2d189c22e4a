package pipeline

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/logging"
)

// OutboxEntry is one pending fan-out publish: the target queue and the
// serialized event.
type OutboxEntry struct {
	ID      string
	Topic   string
	Payload []byte
}

// OutboxStore persists pending fan-out publishes alongside the effect that
// produced them, so a crash mid-fan-out resumes from the store instead of
// silently dropping the remainder. Implementations must keep entry order
// stable per Enqueue batch.
type OutboxStore interface {
	Enqueue(ctx context.Context, entries []OutboxEntry) error
	MarkDelivered(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]OutboxEntry, error)
}

// MemoryOutbox is an in-process OutboxStore. It covers resume-after-error
// within one process lifetime; durable stores are a deployment concern and
// plug in behind the same interface.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[string]OutboxEntry
	order   []string
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[string]OutboxEntry)}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, entries []OutboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range entries {
		if _, exists := o.entries[e.ID]; exists {
			continue
		}
		o.entries[e.ID] = e
		o.order = append(o.order, e.ID)
	}
	return nil
}

func (o *MemoryOutbox) MarkDelivered(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
	return nil
}

func (o *MemoryOutbox) Pending(_ context.Context) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pending := make([]OutboxEntry, 0, len(o.entries))
	for _, id := range o.order {
		if e, ok := o.entries[id]; ok {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// drainOutbox republishes every undelivered entry. Publish failures leave
// the entry pending for the next drain.
func drainOutbox(ctx context.Context, store OutboxStore, publisher message.Publisher, logger logging.ServiceLogger) error {
	pending, err := store.Pending(ctx)
	if err != nil {
		return err
	}
	for _, entry := range pending {
		msg := message.NewMessage(entry.ID, entry.Payload)
		msg.Metadata.Set(MetadataContentType, contentTypeJSON)
		if err := publisher.Publish(entry.Topic, msg); err != nil {
			logger.Error("Outbox drain publish failed, entry stays pending", err, logging.LogFields{
				"entry_id": entry.ID,
				"topic":    entry.Topic,
			})
			continue
		}
		if err := store.MarkDelivered(ctx, entry.ID); err != nil {
			return err
		}
		logger.Info("Outbox entry delivered", logging.LogFields{
			"entry_id": entry.ID,
			"topic":    entry.Topic,
		})
	}
	return nil
}
