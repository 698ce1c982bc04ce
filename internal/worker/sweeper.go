package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"ordermod-billing/internal/domain"
	"ordermod-billing/internal/telemetry"
)

type expirer interface {
	ExpiryCandidates(ctx context.Context, limit int) ([]domain.ChangeRequest, error)
	Expire(ctx context.Context, id string) (*domain.ChangeRequest, error)
	Stats(ctx context.Context) (map[domain.Status]int, error)
}

// Sweeper expires invoices whose payment deadline has passed. The storage
// layer re-checks both status and deadline atomically, so a request that
// settles between candidate listing and expiry keeps its payment; the
// sweeper just skips it.
type Sweeper struct {
	svc      expirer
	interval time.Duration
	batch    int
	metrics  *telemetry.Metrics
	logger   *log.Logger
}

func NewSweeper(svc expirer, interval time.Duration, batch int, metrics *telemetry.Metrics, logger *log.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, batch: batch, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then on
// every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	candidates, err := s.svc.ExpiryCandidates(ctx, s.batch)
	if err != nil {
		s.logger.Printf("list expiry candidates: %v", err)
		return
	}

	for _, cr := range candidates {
		if _, err := s.svc.Expire(ctx, cr.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrNotFound) {
				// Lost the race to a payment or a cancel.
				continue
			}
			s.logger.Printf("expire request %s: %v", cr.ID, err)
			continue
		}
		s.logger.Printf("request %s expired (order %s)", cr.ID, cr.OrderRef)
		s.metrics.ExpiredRequests.Inc()
		s.metrics.Transitions.WithLabelValues(string(domain.StatusExpired)).Inc()
	}
	s.refreshGauge(ctx)
	s.metrics.SweeperRuns.Inc()
}

// refreshGauge republishes per-status request counts after every sweep.
// Setting every status, absent ones included, resets counts that dropped
// to zero since the last pass.
func (s *Sweeper) refreshGauge(ctx context.Context) {
	counts, err := s.svc.Stats(ctx)
	if err != nil {
		s.logger.Printf("refresh request stats: %v", err)
		return
	}
	for _, st := range []domain.Status{
		domain.StatusPending,
		domain.StatusInvoiceSent,
		domain.StatusPaid,
		domain.StatusApplied,
		domain.StatusCancelled,
		domain.StatusExpired,
	} {
		s.metrics.ActiveRequests.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
