package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ordermod-billing/internal/domain"
	svc "ordermod-billing/internal/service/changerequest"
	"ordermod-billing/internal/telemetry"
)

type stubLifecycle struct {
	cr    *domain.ChangeRequest
	prior *domain.ChangeRequest // state served by Get before a transition call
	list  []domain.ChangeRequest
	err   error
}

func (s *stubLifecycle) Open(_ context.Context, _ svc.OpenInput) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) SendInvoice(_ context.Context, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) Resend(_ context.Context, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) CheckPaymentStatus(_ context.Context, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) MarkPaid(_ context.Context, _, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) Cancel(_ context.Context, _, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) Apply(_ context.Context, _ string) (*domain.ChangeRequest, error) {
	return s.cr, s.err
}
func (s *stubLifecycle) Get(_ context.Context, _ string) (*domain.ChangeRequest, error) {
	if s.prior != nil {
		return s.prior, nil
	}
	return s.cr, s.err
}
func (s *stubLifecycle) List(_ context.Context, _ domain.Status, _ int) ([]domain.ChangeRequest, error) {
	return s.list, s.err
}
func (s *stubLifecycle) Stats(_ context.Context) (map[domain.Status]int, error) {
	return map[domain.Status]int{domain.StatusPending: 2}, s.err
}

func testRouter(stub *stubLifecycle) (*gin.Engine, *telemetry.Metrics) {
	gin.SetMode(gin.TestMode)
	metrics := telemetry.NewMetrics()
	return buildRouter(log.New(io.Discard, "", 0), nil, stub, metrics), metrics
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOpenChangeRequest(t *testing.T) {
	stub := &stubLifecycle{cr: &domain.ChangeRequest{ID: "cr-1", Kind: domain.KindAddress, Status: domain.StatusPending}}
	router, _ := testRouter(stub)

	rec := doRequest(router, http.MethodPost, "/change-requests", `{"orderRef":"ord-1","proposedAddress":{"name":"Jo"},"customerPaidCents":1500}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var got domain.ChangeRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "cr-1" {
		t.Fatalf("id = %q, want cr-1", got.ID)
	}
}

func TestOpenRejectsBadBody(t *testing.T) {
	router, _ := testRouter(&stubLifecycle{})
	rec := doRequest(router, http.MethodPost, "/change-requests", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"duplicate active", domain.ErrActiveRequestExists, http.StatusConflict},
		{"bad transition", domain.ErrInvalidStateTransition, http.StatusConflict},
		{"expired", domain.ErrExpiredRequest, http.StatusGone},
		{"no effective change", domain.ErrNoEffectiveChange, http.StatusUnprocessableEntity},
		{"bad input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"rating upstream", domain.ErrRateUnavailable, http.StatusBadGateway},
		{"checkout upstream", domain.ErrCheckoutGateway, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := testRouter(&stubLifecycle{err: tc.err})
			rec := doRequest(router, http.MethodPost, "/change-requests/cr-1/send-invoice", "")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTransitionCounterSkipsNoOps(t *testing.T) {
	// A payment-status probe on a still-unsettled invoice returns 200 but
	// moves nothing, so it must not count as a transition.
	invoiced := &domain.ChangeRequest{ID: "cr-1", Status: domain.StatusInvoiceSent}
	stub := &stubLifecycle{cr: invoiced, prior: invoiced}
	router, metrics := testRouter(stub)

	rec := doRequest(router, http.MethodGet, "/change-requests/cr-1/payment-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.Transitions.WithLabelValues("invoice_sent")); got != 0 {
		t.Fatalf("transitions after no-op probe = %v, want 0", got)
	}

	// The settling call counts exactly once.
	stub.cr = &domain.ChangeRequest{ID: "cr-1", Status: domain.StatusPaid}
	rec = doRequest(router, http.MethodGet, "/change-requests/cr-1/payment-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.Transitions.WithLabelValues("paid")); got != 1 {
		t.Fatalf("paid transitions = %v, want 1", got)
	}

	// Repeating mark-paid on an already-paid request is idempotent.
	stub.prior = stub.cr
	rec = doRequest(router, http.MethodPost, "/change-requests/cr-1/mark-paid", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.Transitions.WithLabelValues("paid")); got != 1 {
		t.Fatalf("paid transitions after repeat = %v, want 1", got)
	}
}

func TestGetChangeRequest(t *testing.T) {
	stub := &stubLifecycle{cr: &domain.ChangeRequest{ID: "cr-9", Status: domain.StatusPaid}}
	router, _ := testRouter(stub)

	rec := doRequest(router, http.MethodGet, "/change-requests/cr-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	router, _ := testRouter(&stubLifecycle{})
	rec := doRequest(router, http.MethodGet, "/change-requests?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAndStats(t *testing.T) {
	stub := &stubLifecycle{list: []domain.ChangeRequest{{ID: "a"}, {ID: "b"}}}
	router, _ := testRouter(stub)

	rec := doRequest(router, http.MethodGet, "/change-requests?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if body.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Total)
	}

	rec = doRequest(router, http.MethodGet, "/change-requests/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := testRouter(&stubLifecycle{})
	rec := doRequest(router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(&stubLifecycle{})
	rec := doRequest(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "billing_") {
		t.Fatal("expected billing metrics in exposition")
	}
}
