// Package downstream holds the HTTP clients for the supplier and product
// services the pipeline feeds. Every call carries a deadline, and failures
// are classified as retryable (5xx, timeouts, transport errors) or
// permanent (any other rejection) so the processors can decide between
// re-queueing and quarantine.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/stockflow/internal/jsoncodec"
)

// StatusError reports a non-success response from a downstream service.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: downstream returned status %d", e.Op, e.StatusCode)
}

// Retryable reports whether the rejection is worth another attempt. Server
// errors are; client errors mean the request itself is bad.
func (e *StatusError) Retryable() bool { return e.StatusCode >= 500 }

// TransportError wraps a failure to complete the HTTP round trip at all
// (connection refused, timeout, cancelled context). Always retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable classifies a downstream call error.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

const defaultTimeout = 10 * time.Second

type client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func newClient(baseURL string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// postJSON issues a POST with an optional JSON body and decodes the reply
// into out when the status is one of accept.
func (c client) postJSON(ctx context.Context, op, url string, body any, out any, accept ...int) error {
	var reader io.Reader
	if body != nil {
		encoded, err := jsoncodec.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	accepted := false
	for _, code := range accept {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	if out != nil {
		if err := jsoncodec.Decode(resp.Body, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// SupplierClient talks to the supplier service (usually through the API
// gateway).
type SupplierClient struct {
	client
}

// NewSupplierClient builds a client for the supplier service base URL,
// e.g. http://kong:8000/suppliers.
func NewSupplierClient(baseURL string, timeout time.Duration) *SupplierClient {
	return &SupplierClient{client: newClient(baseURL, timeout)}
}

type supplierCreateRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type supplierCreateResponse struct {
	SupplierID string `json:"s_id"`
}

// Create registers a supplier and returns the generated supplier id.
// The service answers 200 or 201 with {"s_id": ...}.
func (c *SupplierClient) Create(ctx context.Context, name, contact string) (string, error) {
	var resp supplierCreateResponse
	err := c.postJSON(ctx, "create supplier", c.base,
		supplierCreateRequest{Name: name, Contact: contact}, &resp,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return resp.SupplierID, nil
}

// Associate links an existing product to a supplier. The body is empty;
// both ids travel in the path.
func (c *SupplierClient) Associate(ctx context.Context, supplierID, productID string) error {
	url := fmt.Sprintf("%s/%s/products/%s", c.base, supplierID, productID)
	return c.postJSON(ctx, "associate product", url, nil, nil, http.StatusOK)
}

// ProductClient talks to the product service.
type ProductClient struct {
	client
}

// NewProductClient builds a client for the product service base URL,
// e.g. http://kong:8000/products.
func NewProductClient(baseURL string, timeout time.Duration) *ProductClient {
	return &ProductClient{client: newClient(baseURL, timeout)}
}

type productCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	// Price travels as text to avoid floating-point drift on the wire.
	Price string `json:"price"`
}

type productCreateResponse struct {
	ProductID string `json:"p_id"`
}

// Create registers a product and returns the generated product id.
// The service answers 200 with {"p_id": ...}.
func (c *ProductClient) Create(ctx context.Context, name, description string, quantity int64, price string) (string, error) {
	var resp productCreateResponse
	err := c.postJSON(ctx, "create product", c.base,
		productCreateRequest{Name: name, Description: description, Quantity: quantity, Price: price}, &resp,
		http.StatusOK)
	if err != nil {
		return "", err
	}
	return resp.ProductID, nil
}
