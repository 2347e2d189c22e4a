package pipeline

import (
	"net/http"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stockflow/internal/downstream"
)

const productEventJSON = `{"supplier_id":"sup-1","product":{"product_name":"Widget","product_description":"A widget","product_quantity":5,"product_price":9.99}}`

func TestProductProcessorValidEvent(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "product_dlq")
	assocDLQ := subscribe(t, ps, "association_dlq")

	products := &fakeProductService{id: "prod-1"}
	suppliers := &fakeAssociator{}
	p := NewProductProcessor(testConfig(), products, suppliers, ps, nil, testLogger())

	require.NoError(t, p.Handle(message.NewMessage("m-1", []byte(productEventJSON))))

	require.Equal(t, 1, products.calls)
	assert.Equal(t, "Widget", products.lastName)
	assert.Equal(t, int64(5), products.lastQty)
	assert.Equal(t, "9.99", products.lastPrice)

	require.Equal(t, 1, suppliers.calls)
	assert.Equal(t, []string{"sup-1"}, suppliers.supplierIDs)
	assert.Equal(t, []string{"prod-1"}, suppliers.productIDs)

	expectNone(t, dlq)
	expectNone(t, assocDLQ)
}

func TestProductProcessorWholePriceStaysUnpadded(t *testing.T) {
	ps := newPubSub(t)

	products := &fakeProductService{id: "prod-1"}
	p := NewProductProcessor(testConfig(), products, &fakeAssociator{}, ps, nil, testLogger())

	body := []byte(`{"supplier_id":"sup-1","product":{"product_name":"Bolt","product_description":"d","product_quantity":100,"product_price":3}}`)
	require.NoError(t, p.Handle(message.NewMessage("m-1", body)))

	assert.Equal(t, "3", products.lastPrice)
}

func TestProductProcessorStringQuantityGoesToDLQVerbatim(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "product_dlq")

	products := &fakeProductService{id: "prod-1"}
	p := NewProductProcessor(testConfig(), products, &fakeAssociator{}, ps, nil, testLogger())

	body := []byte(`{"supplier_id":"sup-1","product":{"product_name":"Widget","product_description":"d","product_quantity":"five","product_price":9.99}}`)
	require.NoError(t, p.Handle(message.NewMessage("m-1", body)))

	quarantined := receive(t, dlq)
	assert.Equal(t, body, []byte(quarantined.Payload))
	assert.Equal(t, "m-1", quarantined.UUID)
	assert.Zero(t, products.calls)
}

func TestProductProcessorMissingSupplierIDGoesToDLQ(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "product_dlq")

	products := &fakeProductService{id: "prod-1"}
	p := NewProductProcessor(testConfig(), products, &fakeAssociator{}, ps, nil, testLogger())

	body := []byte(`{"product":{"product_name":"Widget","product_description":"d","product_quantity":1,"product_price":1}}`)
	require.NoError(t, p.Handle(message.NewMessage("m-1", body)))

	assert.Equal(t, body, []byte(receive(t, dlq).Payload))
	assert.Zero(t, products.calls)
}

func TestProductProcessorCreateFailureGoesToDLQ(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "product_dlq")
	assocDLQ := subscribe(t, ps, "association_dlq")

	products := &fakeProductService{err: &downstream.StatusError{Op: "create product", StatusCode: http.StatusInternalServerError}}
	suppliers := &fakeAssociator{}
	p := NewProductProcessor(testConfig(), products, suppliers, ps, nil, testLogger())

	require.NoError(t, p.Handle(message.NewMessage("m-1", []byte(productEventJSON))))

	assert.Equal(t, productEventJSON, string(receive(t, dlq).Payload))
	assert.Zero(t, suppliers.calls, "no association without a created product")
	expectNone(t, assocDLQ)
}

func TestProductProcessorCreateFailureRequeuesWithBudget(t *testing.T) {
	ps := newPubSub(t)
	productQueue := subscribe(t, ps, "product_queue")
	dlq := subscribe(t, ps, "product_dlq")

	cfg := testConfig()
	cfg.RetryMaxAttempts = 2
	products := &fakeProductService{err: &downstream.StatusError{Op: "create product", StatusCode: http.StatusBadGateway}}
	p := NewProductProcessor(cfg, products, &fakeAssociator{}, ps, nil, testLogger())

	require.NoError(t, p.Handle(message.NewMessage("m-1", []byte(productEventJSON))))

	requeued := receive(t, productQueue)
	assert.Equal(t, productEventJSON, string(requeued.Payload))
	assert.Equal(t, "2", requeued.Metadata.Get(MetadataAttempt))
	expectNone(t, dlq)

	require.NoError(t, p.Handle(requeued))
	receive(t, dlq)
	expectNone(t, productQueue)
}

func TestProductProcessorAssociationFailureLeavesProductOrphaned(t *testing.T) {
	ps := newPubSub(t)
	productQueue := subscribe(t, ps, "product_queue")
	dlq := subscribe(t, ps, "product_dlq")
	assocDLQ := subscribe(t, ps, "association_dlq")

	products := &fakeProductService{id: "prod-1"}
	suppliers := &fakeAssociator{err: &downstream.StatusError{Op: "associate product", StatusCode: http.StatusInternalServerError}}
	p := NewProductProcessor(testConfig(), products, suppliers, ps, nil, testLogger())

	require.NoError(t, p.Handle(message.NewMessage("m-1", []byte(productEventJSON))))

	// The product was created, so the event is acknowledged: never
	// re-queued (that would duplicate the product) and never sent to
	// the product DLQ. The verbatim body lands in the association DLQ.
	assert.Equal(t, 1, products.calls)
	orphaned := receive(t, assocDLQ)
	assert.Equal(t, productEventJSON, string(orphaned.Payload))
	assert.Equal(t, "m-1", orphaned.UUID)
	expectNone(t, dlq)
	expectNone(t, productQueue)
}

func TestProductProcessorPanicIsQuarantined(t *testing.T) {
	ps := newPubSub(t)
	dlq := subscribe(t, ps, "product_dlq")

	products := &fakeProductService{id: "prod-1"}
	suppliers := &panickyAssociator{}
	p := NewProductProcessor(testConfig(), products, suppliers, ps, nil, testLogger())

	require.NoError(t, p.Handle(message.NewMessage("m-1", []byte(productEventJSON))))

	assert.Equal(t, productEventJSON, string(receive(t, dlq).Payload))
}
