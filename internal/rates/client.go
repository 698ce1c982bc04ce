package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ordermod-billing/internal/domain"
)

// Client fetches the raw, vendor-shaped rating payload for a shipment. The
// billing core never speaks the carrier's wire protocol; it hands the body
// to Normalize untouched.
type Client interface {
	Rates(ctx context.Context, address domain.AddressSnapshot, pkg domain.PackageSnapshot) (json.RawMessage, error)
}

// HTTPClient calls the carrier rating service over HTTP.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewHTTPClient builds an HTTPClient with a bounded request timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type rateRequest struct {
	Address domain.AddressSnapshot `json:"address"`
	Package domain.PackageSnapshot `json:"package"`
}

func (c *HTTPClient) Rates(ctx context.Context, address domain.AddressSnapshot, pkg domain.PackageSnapshot) (json.RawMessage, error) {
	body, err := json.Marshal(rateRequest{Address: address, Package: pkg})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rates", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: rating service returned status %d", domain.ErrRateUnavailable, res.StatusCode)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}
	return raw, nil
}
