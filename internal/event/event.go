// Package event defines the domain event envelopes carried on the queues
// and their structural validation. Validation is type-based only: presence
// and JSON type of required fields. Semantic constraints (non-empty names,
// non-negative quantities) are left to the downstream services.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/drblury/stockflow/internal/jsoncodec"
)

// ValidationError marks an event body the pipeline must quarantine. It is
// permanent: re-running the same body always yields the same verdict.
type ValidationError struct {
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid event: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func invalid(reason string, cause error) error {
	return &ValidationError{Reason: reason, Cause: cause}
}

// ProductPayload mirrors the product object embedded in supplier events and
// product events. Pointer fields distinguish absent keys from zero values;
// decoding enforces the JSON types (integer quantity, numeric price).
type ProductPayload struct {
	ProductName        *string  `json:"product_name"`
	ProductDescription *string  `json:"product_description"`
	ProductQuantity    *int64   `json:"product_quantity"`
	ProductPrice       *float64 `json:"product_price"`
}

// SupplierEvent is a validated supplier onboarding event. Products keep
// their original serialized form so fan-out republishes them byte-identical.
type SupplierEvent struct {
	Name     string
	Contact  string
	Products []json.RawMessage
}

type supplierEventWire struct {
	Supplier *supplierEnvelopeWire `json:"supplier"`
}

type supplierEnvelopeWire struct {
	SupplierName    *string            `json:"supplier_name"`
	SupplierContact *string            `json:"supplier_contact"`
	Products        *[]json.RawMessage `json:"products"`
}

// DecodeSupplierEvent parses and validates a supplier event body. The
// envelope must carry a supplier object with supplier_name,
// supplier_contact and an array-valued products field; every element must
// decode as a ProductPayload, otherwise the whole event is invalid.
func DecodeSupplierEvent(body []byte) (*SupplierEvent, error) {
	var wire supplierEventWire
	if err := jsoncodec.Unmarshal(body, &wire); err != nil {
		return nil, invalid("malformed supplier event", err)
	}
	if wire.Supplier == nil {
		return nil, invalid("missing supplier object", nil)
	}

	env := wire.Supplier
	if env.SupplierName == nil {
		return nil, invalid("missing supplier_name", nil)
	}
	if env.SupplierContact == nil {
		return nil, invalid("missing supplier_contact", nil)
	}
	if env.Products == nil {
		return nil, invalid("products must be a list", nil)
	}

	for i, raw := range *env.Products {
		var payload ProductPayload
		if err := jsoncodec.Unmarshal(raw, &payload); err != nil {
			return nil, invalid(fmt.Sprintf("malformed product payload at index %d", i), err)
		}
	}

	return &SupplierEvent{
		Name:     *env.SupplierName,
		Contact:  *env.SupplierContact,
		Products: *env.Products,
	}, nil
}

// ProductEvent is the fan-out message derived from a supplier event: one
// per product, addressed to the product queue. Product carries the payload
// exactly as it appeared in the supplier event.
type ProductEvent struct {
	SupplierID string          `json:"supplier_id"`
	Product    json.RawMessage `json:"product"`
}

// Encode serializes the event for publishing.
func (e ProductEvent) Encode() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// ProductRecord is a fully validated product event, flattened into the
// shape the Product service create call needs.
type ProductRecord struct {
	SupplierID  string
	Name        string
	Description string
	Quantity    int64
	Price       float64
}

// PriceString renders the price the way it travels to the Product service:
// as text, to avoid floating-point drift across the HTTP boundary.
func (r ProductRecord) PriceString() string {
	return strconv.FormatFloat(r.Price, 'f', -1, 64)
}

type productEventWire struct {
	SupplierID *string         `json:"supplier_id"`
	Product    *ProductPayload `json:"product"`
}

// DecodeProductEvent parses and validates a product event body. The
// envelope must carry supplier_id and a product object with product_name,
// product_description, an integer product_quantity and a numeric
// product_price.
func DecodeProductEvent(body []byte) (*ProductRecord, error) {
	var wire productEventWire
	if err := jsoncodec.Unmarshal(body, &wire); err != nil {
		return nil, invalid("malformed product event", err)
	}
	if wire.Product == nil {
		return nil, invalid("missing product object", nil)
	}
	if wire.SupplierID == nil {
		return nil, invalid("missing supplier_id", nil)
	}

	p := wire.Product
	if p.ProductName == nil {
		return nil, invalid("missing product_name", nil)
	}
	if p.ProductDescription == nil {
		return nil, invalid("missing product_description", nil)
	}
	if p.ProductQuantity == nil {
		return nil, invalid("missing or non-integer product_quantity", nil)
	}
	if p.ProductPrice == nil {
		return nil, invalid("missing or non-numeric product_price", nil)
	}

	return &ProductRecord{
		SupplierID:  *wire.SupplierID,
		Name:        *p.ProductName,
		Description: *p.ProductDescription,
		Quantity:    *p.ProductQuantity,
		Price:       *p.ProductPrice,
	}, nil
}
