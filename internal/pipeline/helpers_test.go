package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		PubSubSystem:       config.SystemChannel,
		IntakeQueue:        "initial-events",
		ProductQueue:       "product_queue",
		SupplierDLQ:        "supplier_dlq",
		ProductDLQ:         "product_dlq",
		AssociationDLQ:     "association_dlq",
		SupplierServiceURL: "http://localhost:8000/suppliers",
		ProductServiceURL:  "http://localhost:8000/products",
		RetryMaxAttempts:   1,
	}
}

func testLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.DiscardHandler))
}

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func subscribe(t *testing.T, ps *gochannel.GoChannel, topic string) <-chan *message.Message {
	t.Helper()
	msgs, err := ps.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	return msgs
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected a message, got none")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan *message.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("expected no message, got payload %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeSupplierService records create calls and answers with a fixed id or
// error.
type fakeSupplierService struct {
	id      string
	err     error
	calls   int
	names   []string
	panicOn bool
}

func (f *fakeSupplierService) Create(_ context.Context, name, contact string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	if f.panicOn {
		panic("supplier service client broke an invariant")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

// fakeProductService records create calls.
type fakeProductService struct {
	id        string
	err       error
	calls     int
	lastPrice string
	lastQty   int64
	lastName  string
}

func (f *fakeProductService) Create(_ context.Context, name, description string, quantity int64, price string) (string, error) {
	f.calls++
	f.lastName = name
	f.lastQty = quantity
	f.lastPrice = price
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

// fakeAssociator records association calls.
type fakeAssociator struct {
	err         error
	calls       int
	supplierIDs []string
	productIDs  []string
}

func (f *fakeAssociator) Associate(_ context.Context, supplierID, productID string) error {
	f.calls++
	f.supplierIDs = append(f.supplierIDs, supplierID)
	f.productIDs = append(f.productIDs, productID)
	return f.err
}

// panickyAssociator simulates a client bug surfacing as a panic.
type panickyAssociator struct{}

func (panickyAssociator) Associate(_ context.Context, _, _ string) error {
	panic("associator broke an invariant")
}

// failingPublisher delegates to an inner publisher but fails publishes to
// one topic until the failure budget runs out.
type failingPublisher struct {
	inner    message.Publisher
	topic    string
	failures int
}

func (p *failingPublisher) Publish(topic string, messages ...*message.Message) error {
	if topic == p.topic && p.failures > 0 {
		p.failures--
		return errors.New("transport unavailable")
	}
	return p.inner.Publish(topic, messages...)
}

func (p *failingPublisher) Close() error { return p.inner.Close() }
