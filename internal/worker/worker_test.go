package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ordermod-billing/internal/domain"
	"ordermod-billing/internal/telemetry"
)

type stubLifecycle struct {
	open       []domain.ChangeRequest
	checkErrs  map[string]error
	settled    map[string]bool
	checked    []string
	candidates []domain.ChangeRequest
	expireErrs map[string]error
	expired    []string
	stats      map[domain.Status]int
}

func (s *stubLifecycle) List(_ context.Context, _ domain.Status, _ int) ([]domain.ChangeRequest, error) {
	return s.open, nil
}

func (s *stubLifecycle) CheckPaymentStatus(_ context.Context, id string) (*domain.ChangeRequest, error) {
	s.checked = append(s.checked, id)
	if err := s.checkErrs[id]; err != nil {
		return nil, err
	}
	cr := domain.ChangeRequest{ID: id, Status: domain.StatusInvoiceSent}
	if s.settled[id] {
		cr.Status = domain.StatusPaid
	}
	return &cr, nil
}

func (s *stubLifecycle) ExpiryCandidates(_ context.Context, _ int) ([]domain.ChangeRequest, error) {
	return s.candidates, nil
}

func (s *stubLifecycle) Expire(_ context.Context, id string) (*domain.ChangeRequest, error) {
	if err := s.expireErrs[id]; err != nil {
		return nil, err
	}
	s.expired = append(s.expired, id)
	return &domain.ChangeRequest{ID: id, Status: domain.StatusExpired}, nil
}

func (s *stubLifecycle) Stats(_ context.Context) (map[domain.Status]int, error) {
	return s.stats, nil
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPollerChecksWholeBatchDespiteErrors(t *testing.T) {
	svc := &stubLifecycle{
		open: []domain.ChangeRequest{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		checkErrs: map[string]error{
			"b": domain.ErrCheckoutGateway,
		},
		settled: map[string]bool{"c": true},
	}
	metrics := telemetry.NewMetrics()
	p := NewPoller(svc, 1, 50, metrics, discard())

	p.sweep(context.Background())

	if len(svc.checked) != 3 {
		t.Fatalf("checked %d requests, want 3", len(svc.checked))
	}
	if got := testutil.ToFloat64(metrics.Transitions.WithLabelValues("paid")); got != 1 {
		t.Fatalf("paid transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.GatewayErrors.WithLabelValues("checkout")); got != 1 {
		t.Fatalf("gateway errors = %v, want 1", got)
	}
}

func TestSweeperSkipsRacedCandidates(t *testing.T) {
	svc := &stubLifecycle{
		candidates: []domain.ChangeRequest{{ID: "x"}, {ID: "y"}, {ID: "z"}},
		expireErrs: map[string]error{
			// y got paid between listing and expiry.
			"y": domain.ErrInvalidStateTransition,
			// z hit a real storage error.
			"z": errors.New("connection reset"),
		},
	}
	metrics := telemetry.NewMetrics()
	s := NewSweeper(svc, 1, 50, metrics, discard())

	s.sweep(context.Background())

	if len(svc.expired) != 1 || svc.expired[0] != "x" {
		t.Fatalf("expired = %v, want [x]", svc.expired)
	}
	if got := testutil.ToFloat64(metrics.ExpiredRequests); got != 1 {
		t.Fatalf("expired counter = %v, want 1", got)
	}
}

func TestSweepRefreshesStatusGauge(t *testing.T) {
	svc := &stubLifecycle{
		stats: map[domain.Status]int{
			domain.StatusPending:     2,
			domain.StatusInvoiceSent: 1,
		},
	}
	metrics := telemetry.NewMetrics()
	s := NewSweeper(svc, 1, 50, metrics, discard())

	s.sweep(context.Background())

	if got := testutil.ToFloat64(metrics.ActiveRequests.WithLabelValues("pending")); got != 2 {
		t.Fatalf("pending gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveRequests.WithLabelValues("invoice_sent")); got != 1 {
		t.Fatalf("invoice_sent gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveRequests.WithLabelValues("paid")); got != 0 {
		t.Fatalf("paid gauge = %v, want 0", got)
	}

	// A count that drops to zero is reset on the next pass.
	svc.stats = map[domain.Status]int{domain.StatusPaid: 2}
	s.sweep(context.Background())
	if got := testutil.ToFloat64(metrics.ActiveRequests.WithLabelValues("pending")); got != 0 {
		t.Fatalf("pending gauge after drain = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveRequests.WithLabelValues("paid")); got != 2 {
		t.Fatalf("paid gauge = %v, want 2", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc := &stubLifecycle{}
	metrics := telemetry.NewMetrics()
	p := NewPoller(svc, 1, 50, metrics, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
