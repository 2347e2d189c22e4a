package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stockflow/internal/transport"
)

func startService(t *testing.T, ps *gochannel.GoChannel, deps Dependencies, register func(*Service) error) *Service {
	t.Helper()

	deps.Transport = &transport.Transport{Publisher: ps, Subscriber: ps}

	svc, err := NewService(context.Background(), testConfig(), testLogger(), deps)
	require.NoError(t, err)
	require.NoError(t, register(svc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("router did not stop")
		}
		_ = svc.Close()
	})

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return svc
}

func TestServiceEndToEnd(t *testing.T) {
	suppliers := &fakeSupplierService{id: "sup-1"}
	products := &fakeProductService{id: "prod-1"}
	associations := &fakeAssociator{}

	svc := startService(t, newPubSub(t), Dependencies{Registerer: prometheus.NewRegistry()}, func(s *Service) error {
		if err := s.RegisterSupplierProcessor(suppliers); err != nil {
			return err
		}
		return s.RegisterProductProcessor(products, associations)
	})

	seeder := NewSeeder("testdata/seed", testConfig().IntakeQueue, svc.Publisher(), nil, testLogger())
	published, err := seeder.PublishAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)

	// One supplier event with two products flows through both
	// processors.
	require.Eventually(t, func() bool { return associations.calls == 2 },
		5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, suppliers.calls)
	assert.Equal(t, []string{"Acme Tools"}, suppliers.names)
	assert.Equal(t, 2, products.calls)
	assert.Equal(t, []string{"sup-1", "sup-1"}, associations.supplierIDs)
	assert.Equal(t, []string{"prod-1", "prod-1"}, associations.productIDs)
}

func TestServiceInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.IntakeQueue = ""

	_, err := NewService(context.Background(), cfg, testLogger(), Dependencies{})
	assert.Error(t, err)
}

func TestServiceCorrelationIDCarriedToDLQ(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "supplier_dlq")

	startService(t, ps, Dependencies{}, func(s *Service) error {
		return s.RegisterSupplierProcessor(&fakeSupplierService{id: "sup-1"})
	})

	body := []byte(`{"supplier":{"supplier_name":"Acme"}}`)
	require.NoError(t, ps.Publish("initial-events", message.NewMessage("m-1", body)))

	// The router injects a correlation ID before the handler runs; the
	// verbatim DLQ copy carries it along with the untouched body.
	quarantined := receive(t, dlq)
	assert.Equal(t, body, []byte(quarantined.Payload))
	assert.NotEmpty(t, quarantined.Metadata.Get(MetadataCorrelationID))
}

func TestServiceOutboxDrainedOnStart(t *testing.T) {
	ps := newPubSub(t)
	productQueue := subscribe(t, ps, "product_queue")

	outbox := NewMemoryOutbox()
	require.NoError(t, outbox.Enqueue(context.Background(), []OutboxEntry{
		{ID: "left-over", Topic: "product_queue", Payload: []byte(`{"supplier_id":"sup-1","product":{}}`)},
	}))

	startService(t, ps, Dependencies{Outbox: outbox}, func(s *Service) error {
		return s.RegisterSupplierProcessor(&fakeSupplierService{id: "sup-1"})
	})

	msg := receive(t, productQueue)
	assert.Equal(t, "left-over", msg.UUID)

	pending, err := outbox.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
