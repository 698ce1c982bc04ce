// Package checkout talks to the external checkout gateway that hosts the
// payable session (invoice link) for a change request's additional cost.
package checkout

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

// Session is the handle to a payable object created at the gateway.
type Session struct {
	SessionID  string `json:"sessionId"`
	SessionRef string `json:"sessionRef"`
	PaymentURL string `json:"paymentUrl"`
}

// SessionStatus reports whether a session has settled.
type SessionStatus struct {
	Settled         bool   `json:"settled"`
	SettledOrderRef string `json:"settledOrderRef,omitempty"`
}

// Client is the gateway surface the lifecycle service depends on.
type Client interface {
	CreateSession(ctx context.Context, amountCents int64, orderRef string) (Session, error)
	GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error)
	CancelSession(ctx context.Context, sessionRef string) error
}

// HTTPClient implements Client against the gateway's HTTP API.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// statusRetries bounds the retry loop on the read-only status probe.
	// Write calls are never retried here; duplicate sessions are worse than
	// a surfaced error.
	statusRetries int
	retryDelay    time.Duration
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:       baseURL,
		Token:         token,
		HTTP:          &http.Client{Timeout: timeout},
		statusRetries: 2,
		retryDelay:    250 * time.Millisecond,
	}
}

type createSessionRequest struct {
	AmountCents int64  `json:"amountCents"`
	OrderRef    string `json:"orderRef"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, amountCents int64, orderRef string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/sessions", createSessionRequest{
		AmountCents: amountCents,
		OrderRef:    orderRef,
	}, &session)
	if err != nil {
		return Session{}, err
	}
	if session.SessionRef == "" || session.PaymentURL == "" {
		return Session{}, fmt.Errorf("%w: create session returned incomplete handle", domain.ErrCheckoutGateway)
	}
	return session, nil
}

func (c *HTTPClient) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	var status SessionStatus
	var err error
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionRef), nil, &status)
		if err == nil || attempt >= c.statusRetries {
			break
		}
		select {
		case <-ctx.Done():
			return SessionStatus{}, fmt.Errorf("%w: %v", domain.ErrCheckoutGateway, ctx.Err())
		case <-time.After(c.retryDelay << attempt):
		}
	}
	if err != nil {
		return SessionStatus{}, err
	}
	return status, nil
}

func (c *HTTPClient) CancelSession(ctx context.Context, sessionRef string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionRef)+"/cancel", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCheckoutGateway, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: session not found", domain.ErrCheckoutGateway)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned status %d", domain.ErrCheckoutGateway, method, path, res.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrCheckoutGateway, err)
		}
	}
	return nil
}
