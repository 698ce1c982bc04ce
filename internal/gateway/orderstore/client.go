// Package orderstore talks to the external system of record for orders. The
// billing engine never stores orders itself; it reads snapshots from here
// and writes applied modifications back.
package orderstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ordermod-billing/internal/domain"
)

// Order is the slice of the external order this engine cares about.
type Order struct {
	Ref             string                 `json:"ref"`
	CustomerEmail   string                 `json:"customerEmail"`
	Address         domain.AddressSnapshot `json:"address"`
	Package         domain.PackageSnapshot `json:"package"`
	ShippingBlocked bool                   `json:"shippingBlocked"`
}

// Client is the order-store surface the lifecycle service depends on.
type Client interface {
	GetOrder(ctx context.Context, ref string) (*Order, error)
	SetAddress(ctx context.Context, ref string, address domain.AddressSnapshot) error
	SetPackage(ctx context.Context, ref string, pkg domain.PackageSnapshot) error
	SetShippingBlocked(ctx context.Context, ref string, blocked bool) error
}

// HTTPClient implements Client against the order store's HTTP API.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetOrder(ctx context.Context, ref string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.orderURL(ref, ""), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("order store returned status %d for %s", res.StatusCode, ref)
	}

	var order Order
	if err := json.NewDecoder(res.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", ref, err)
	}
	return &order, nil
}

func (c *HTTPClient) SetAddress(ctx context.Context, ref string, address domain.AddressSnapshot) error {
	return c.put(ctx, c.orderURL(ref, "/address"), address)
}

func (c *HTTPClient) SetPackage(ctx context.Context, ref string, pkg domain.PackageSnapshot) error {
	return c.put(ctx, c.orderURL(ref, "/package"), pkg)
}

func (c *HTTPClient) SetShippingBlocked(ctx context.Context, ref string, blocked bool) error {
	return c.put(ctx, c.orderURL(ref, "/shipping-blocked"), struct {
		Blocked bool `json:"blocked"`
	}{blocked})
}

func (c *HTTPClient) put(ctx context.Context, target string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("order store returned status %d for %s", res.StatusCode, target)
	}
	return nil
}

func (c *HTTPClient) orderURL(ref, suffix string) string {
	return c.BaseURL + "/orders/" + url.PathEscape(ref) + suffix
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
