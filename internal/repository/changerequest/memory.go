package changerequest

import (
	"context"
	"sort"
	"sync"
	"time"

	"ordermod-billing/internal/domain"
)

// memoryRepo is an in-memory Repository with the same transition semantics
// as the Postgres one. Used in tests and for running the API without a
// database.
type memoryRepo struct {
	mu       sync.Mutex
	requests map[string]*domain.ChangeRequest
}

// NewMemory returns an empty in-memory Repository.
func NewMemory() Repository {
	return &memoryRepo{requests: make(map[string]*domain.ChangeRequest)}
}

func clone(cr *domain.ChangeRequest) *domain.ChangeRequest {
	cp := *cr
	if cr.OriginalAddress != nil {
		a := *cr.OriginalAddress
		cp.OriginalAddress = &a
	}
	if cr.ProposedAddress != nil {
		a := *cr.ProposedAddress
		cp.ProposedAddress = &a
	}
	if cr.OriginalPackage != nil {
		p := *cr.OriginalPackage
		cp.OriginalPackage = &p
	}
	if cr.ProposedPackage != nil {
		p := *cr.ProposedPackage
		cp.ProposedPackage = &p
	}
	if cr.Costs.OriginalRateCents != nil {
		v := *cr.Costs.OriginalRateCents
		cp.Costs.OriginalRateCents = &v
	}
	if cr.Reminders.LastSentAt != nil {
		t := *cr.Reminders.LastSentAt
		cp.Reminders.LastSentAt = &t
	}
	for _, ts := range []struct {
		src *time.Time
		dst **time.Time
	}{
		{cr.InvoiceSentAt, &cp.InvoiceSentAt},
		{cr.PaidAt, &cp.PaidAt},
		{cr.AppliedAt, &cp.AppliedAt},
		{cr.CancelledAt, &cp.CancelledAt},
		{cr.ExpiresAt, &cp.ExpiresAt},
	} {
		if ts.src != nil {
			t := *ts.src
			*ts.dst = &t
		}
	}
	return &cp
}

func (r *memoryRepo) Create(_ context.Context, cr domain.ChangeRequest) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.requests {
		if existing.OrderRef == cr.OrderRef && existing.Active() {
			return nil, domain.ErrActiveRequestExists
		}
	}

	cr.Status = domain.StatusPending
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	r.requests[cr.ID] = clone(&cr)
	return clone(&cr), nil
}

func (r *memoryRepo) Insert(_ context.Context, cr domain.ChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cr.Active() {
		for _, existing := range r.requests {
			if existing.OrderRef == cr.OrderRef && existing.Active() {
				return domain.ErrActiveRequestExists
			}
		}
	}
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	r.requests[cr.ID] = clone(&cr)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cr, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(cr), nil
}

func (r *memoryRepo) GetActiveByOrder(_ context.Context, orderRef string) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cr := range r.requests {
		if cr.OrderRef == orderRef && cr.Active() {
			return clone(cr), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) ListByStatus(_ context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ChangeRequest
	for _, cr := range r.requests {
		if status != "" && cr.Status != status {
			continue
		}
		out = append(out, *clone(cr))
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListExpiredCandidates(_ context.Context, now time.Time, limit int) ([]domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ChangeRequest
	for _, cr := range r.requests {
		if cr.Status == domain.StatusInvoiceSent && cr.ExpiresAt != nil && !cr.ExpiresAt.After(now) {
			out = append(out, *clone(cr))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// transition applies mutate under the lock when the current status passes
// allowed; mirrors the single-statement CAS of the Postgres repo.
func (r *memoryRepo) transition(id string, allowed func(*domain.ChangeRequest) bool, mutate func(*domain.ChangeRequest)) (*domain.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cr, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !allowed(cr) {
		return nil, domain.ErrInvalidStateTransition
	}
	mutate(cr)
	return clone(cr), nil
}

func (r *memoryRepo) MarkInvoiceSent(_ context.Context, id string, checkout domain.Checkout, sentAt, expiresAt time.Time) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool { return cr.Status == domain.StatusPending },
		func(cr *domain.ChangeRequest) {
			cr.Status = domain.StatusInvoiceSent
			cr.Checkout = checkout
			sent, expires := sentAt, expiresAt
			cr.InvoiceSentAt = &sent
			cr.ExpiresAt = &expires
		})
}

func (r *memoryRepo) RecordReminder(_ context.Context, id string, sentAt time.Time) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool { return cr.Status == domain.StatusInvoiceSent },
		func(cr *domain.ChangeRequest) {
			cr.Reminders.Count++
			sent := sentAt
			cr.Reminders.LastSentAt = &sent
		})
}

func (r *memoryRepo) MarkPaid(_ context.Context, id, settledOrderRef string, paidAt time.Time, note string) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool { return cr.Status == domain.StatusInvoiceSent },
		func(cr *domain.ChangeRequest) {
			cr.Status = domain.StatusPaid
			paid := paidAt
			cr.PaidAt = &paid
			if settledOrderRef != "" {
				cr.Checkout.SettledOrderRef = settledOrderRef
			}
			appendNote(cr, note)
		})
}

func (r *memoryRepo) MarkApplied(_ context.Context, id string, appliedAt time.Time) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool { return cr.Status == domain.StatusPaid },
		func(cr *domain.ChangeRequest) {
			cr.Status = domain.StatusApplied
			applied := appliedAt
			cr.AppliedAt = &applied
		})
}

func (r *memoryRepo) MarkCancelled(_ context.Context, id, reason string, cancelledAt time.Time) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool {
			return cr.Status == domain.StatusPending || cr.Status == domain.StatusInvoiceSent
		},
		func(cr *domain.ChangeRequest) {
			cr.Status = domain.StatusCancelled
			cancelled := cancelledAt
			cr.CancelledAt = &cancelled
			appendNote(cr, reason)
		})
}

func (r *memoryRepo) MarkExpired(_ context.Context, id string, now time.Time) (*domain.ChangeRequest, error) {
	return r.transition(id,
		func(cr *domain.ChangeRequest) bool {
			return cr.Status == domain.StatusInvoiceSent && cr.ExpiresAt != nil && !cr.ExpiresAt.After(now)
		},
		func(cr *domain.ChangeRequest) {
			cr.Status = domain.StatusExpired
		})
}

func (r *memoryRepo) Stats(_ context.Context) (map[domain.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[domain.Status]int)
	for _, cr := range r.requests {
		stats[cr.Status]++
	}
	return stats, nil
}

func appendNote(cr *domain.ChangeRequest, note string) {
	if note == "" {
		return
	}
	if cr.Notes == "" {
		cr.Notes = note
		return
	}
	cr.Notes += "\n" + note
}

func sortNewestFirst(list []domain.ChangeRequest) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
