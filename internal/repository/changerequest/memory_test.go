package changerequest

import (
	"context"
	"errors"
	"testing"
	"time"

	"ordermod-billing/internal/domain"
)

func pendingRequest(id, orderRef string) domain.ChangeRequest {
	return domain.ChangeRequest{
		ID:       id,
		OrderRef: orderRef,
		Kind:     domain.KindAddress,
		OriginalAddress: &domain.AddressSnapshot{
			Name: "Jo Doe", Street1: "1 Old St", City: "Austin", State: "TX", Zip: "73301", Country: "US",
		},
		ProposedAddress: &domain.AddressSnapshot{
			Name: "Jo Doe", Street1: "9 New St", City: "Austin", State: "TX", Zip: "73301", Country: "US",
		},
		Costs: domain.Costs{
			CustomerPaidCents:   2000,
			NewRateCents:        2500,
			AdditionalCostCents: 500,
		},
		Status: domain.StatusPending,
	}
}

func TestMemoryUniqueActivePerOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	if _, err := repo.Create(ctx, pendingRequest("cr-1", "order-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := repo.Create(ctx, pendingRequest("cr-2", "order-1"))
	if !errors.Is(err, domain.ErrActiveRequestExists) {
		t.Fatalf("expected ErrActiveRequestExists, got %v", err)
	}

	// A second order is unaffected.
	if _, err := repo.Create(ctx, pendingRequest("cr-3", "order-2")); err != nil {
		t.Fatalf("create for other order: %v", err)
	}
}

func TestMemoryCreateAllowedAfterTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	if _, err := repo.Create(ctx, pendingRequest("cr-1", "order-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkCancelled(ctx, "cr-1", "changed mind", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := repo.Create(ctx, pendingRequest("cr-2", "order-1")); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestMemoryTransitionCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	now := time.Now().UTC()

	if _, err := repo.Create(ctx, pendingRequest("cr-1", "order-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Paid before invoice is illegal.
	if _, err := repo.MarkPaid(ctx, "cr-1", "", now, ""); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	checkout := domain.Checkout{SessionRef: "sess-1", PaymentURL: "https://pay.example/sess-1"}
	cr, err := repo.MarkInvoiceSent(ctx, "cr-1", checkout, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark invoice sent: %v", err)
	}
	if cr.Status != domain.StatusInvoiceSent || cr.Checkout.SessionRef != "sess-1" {
		t.Fatalf("unexpected request %+v", cr)
	}

	// Second invoice send loses the CAS.
	if _, err := repo.MarkInvoiceSent(ctx, "cr-1", checkout, now, now.Add(time.Hour)); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	cr, err = repo.MarkPaid(ctx, "cr-1", "settled-99", now, "")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if cr.Checkout.SettledOrderRef != "settled-99" || cr.PaidAt == nil {
		t.Fatalf("unexpected request %+v", cr)
	}

	cr, err = repo.MarkApplied(ctx, "cr-1", now)
	if err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	if cr.Status != domain.StatusApplied {
		t.Fatalf("expected applied, got %s", cr.Status)
	}
}

func TestMemoryExpiryGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	now := time.Now().UTC()

	if _, err := repo.Create(ctx, pendingRequest("cr-1", "order-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkInvoiceSent(ctx, "cr-1", domain.Checkout{SessionRef: "s"}, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("mark invoice sent: %v", err)
	}

	// Deadline not reached yet.
	if _, err := repo.MarkExpired(ctx, "cr-1", now.Add(30*time.Minute)); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition before deadline, got %v", err)
	}

	// A request paid before the sweep must stay paid.
	if _, err := repo.MarkPaid(ctx, "cr-1", "", now, ""); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if _, err := repo.MarkExpired(ctx, "cr-1", now.Add(2*time.Hour)); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition for paid request, got %v", err)
	}

	cr, err := repo.GetByID(ctx, "cr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cr.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %s", cr.Status)
	}
}

func TestMemoryReminderCounter(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	now := time.Now().UTC()

	if _, err := repo.Create(ctx, pendingRequest("cr-1", "order-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkInvoiceSent(ctx, "cr-1", domain.Checkout{SessionRef: "s"}, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("mark invoice sent: %v", err)
	}

	cr, err := repo.RecordReminder(ctx, "cr-1", now)
	if err != nil {
		t.Fatalf("record reminder: %v", err)
	}
	if cr.Reminders.Count != 1 || cr.Reminders.LastSentAt == nil {
		t.Fatalf("unexpected reminders %+v", cr.Reminders)
	}

	cr, err = repo.RecordReminder(ctx, "cr-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("record reminder: %v", err)
	}
	if cr.Reminders.Count != 2 {
		t.Fatalf("expected count 2, got %d", cr.Reminders.Count)
	}
}

func TestMemoryListAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	now := time.Now().UTC()

	a := pendingRequest("cr-a", "order-a")
	a.CreatedAt = now.Add(-2 * time.Hour)
	b := pendingRequest("cr-b", "order-b")
	b.CreatedAt = now.Add(-1 * time.Hour)
	for _, cr := range []domain.ChangeRequest{a, b} {
		if _, err := repo.Create(ctx, cr); err != nil {
			t.Fatalf("create %s: %v", cr.ID, err)
		}
	}
	if _, err := repo.MarkCancelled(ctx, "cr-a", "", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pending, err := repo.ListByStatus(ctx, domain.StatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "cr-b" {
		t.Fatalf("unexpected pending list %+v", pending)
	}

	all, err := repo.ListByStatus(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "cr-b" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[domain.StatusPending] != 1 || stats[domain.StatusCancelled] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
