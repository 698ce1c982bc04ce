// Package worker runs the background loops that advance change requests
// without operator involvement: the payment poller and the expiry sweeper.
package worker

import (
	"context"
	"log"
	"time"

	"ordermod-billing/internal/domain"
	"ordermod-billing/internal/telemetry"
)

type paymentChecker interface {
	List(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error)
	CheckPaymentStatus(ctx context.Context, id string) (*domain.ChangeRequest, error)
}

// Poller periodically asks the checkout gateway whether open invoices have
// settled. Every probe goes through the lifecycle service, so a settled
// session transitions the request exactly once even if an operator checks
// concurrently.
type Poller struct {
	svc      paymentChecker
	interval time.Duration
	batch    int
	metrics  *telemetry.Metrics
	logger   *log.Logger
}

func NewPoller(svc paymentChecker, interval time.Duration, batch int, metrics *telemetry.Metrics, logger *log.Logger) *Poller {
	return &Poller{svc: svc, interval: interval, batch: batch, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then on
// every tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	requests, err := p.svc.List(ctx, domain.StatusInvoiceSent, p.batch)
	if err != nil {
		p.logger.Printf("list open invoices: %v", err)
		return
	}

	for _, cr := range requests {
		updated, err := p.svc.CheckPaymentStatus(ctx, cr.ID)
		if err != nil {
			// One unreachable gateway call must not starve the rest of the
			// batch.
			p.logger.Printf("check payment for request %s: %v", cr.ID, err)
			p.metrics.GatewayErrors.WithLabelValues("checkout").Inc()
			continue
		}
		if updated.Status == domain.StatusPaid {
			p.logger.Printf("request %s settled (order %s)", cr.ID, cr.OrderRef)
			p.metrics.Transitions.WithLabelValues(string(domain.StatusPaid)).Inc()
		}
	}
	p.metrics.PollerRuns.Inc()
}
