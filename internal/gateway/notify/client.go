// Package notify sends customer-facing emails through the external
// notification gateway. Template rendering happens on the gateway side;
// this client only supplies context.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ordermod-billing/internal/domain"
)

// Email carries everything the gateway needs to render and send an invoice
// or reminder message.
type Email struct {
	Recipient   string `json:"recipient"`
	OrderRef    string `json:"orderRef"`
	PaymentURL  string `json:"paymentUrl"`
	AmountCents int64  `json:"amountCents"`
}

// Client is the notification surface the lifecycle service depends on.
type Client interface {
	SendInvoiceEmail(ctx context.Context, email Email) error
	SendReminderEmail(ctx context.Context, email Email) error
}

// HTTPClient implements Client against the gateway's HTTP API.
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

func (c *HTTPClient) SendInvoiceEmail(ctx context.Context, email Email) error {
	return c.post(ctx, "/emails/invoice", email)
}

func (c *HTTPClient) SendReminderEmail(ctx context.Context, email Email) error {
	return c.post(ctx, "/emails/reminder", email)
}

func (c *HTTPClient) post(ctx context.Context, path string, email Email) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationGateway, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", domain.ErrNotificationGateway, path, res.StatusCode)
	}
	return nil
}
