package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ordermod-billing/internal/domain"
)

type requestSeed struct {
	ID       string
	OrderRef string
	Kind     domain.Kind
	Status   domain.Status

	OriginalAddress *domain.AddressSnapshot
	ProposedAddress *domain.AddressSnapshot
	OriginalPackage *domain.PackageSnapshot
	ProposedPackage *domain.PackageSnapshot

	CustomerPaidCents   int64
	OriginalRateCents   *int64
	NewRateCents        int64
	AdditionalCostCents int64

	SessionRef string
	PaymentURL string
	ExpiresIn  time.Duration
}

// Apply inserts demo change requests for manual testing. It is idempotent
// via ON CONFLICT DO NOTHING, so re-running it never duplicates rows or
// resets lifecycle progress made against earlier seeds.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	origRate := int64(1450)

	austin := domain.AddressSnapshot{Name: "Dana Reyes", Street1: "600 Congress Ave", City: "Austin", State: "TX", Zip: "78701", Country: "US"}
	dallas := austin
	dallas.Street1 = "1401 Elm St"
	dallas.City = "Dallas"
	dallas.Zip = "75202"

	smallBox := domain.PackageSnapshot{WeightOz: 16, LengthIn: 10, WidthIn: 8, HeightIn: 4}
	bigBox := domain.PackageSnapshot{WeightOz: 48, LengthIn: 14, WidthIn: 12, HeightIn: 8}

	seeds := []requestSeed{
		{
			ID:       "seed-cr-pending",
			OrderRef: "seed-ord-1001",
			Kind:     domain.KindAddress,
			Status:   domain.StatusPending,

			OriginalAddress: &austin,
			ProposedAddress: &dallas,

			CustomerPaidCents:   1500,
			OriginalRateCents:   &origRate,
			NewRateCents:        1780,
			AdditionalCostCents: 330,
		},
		{
			ID:       "seed-cr-invoiced",
			OrderRef: "seed-ord-1002",
			Kind:     domain.KindPackage,
			Status:   domain.StatusInvoiceSent,

			OriginalPackage: &smallBox,
			ProposedPackage: &bigBox,

			CustomerPaidCents:   1500,
			NewRateCents:        2450,
			AdditionalCostCents: 950,

			SessionRef: "seed-session-1002",
			PaymentURL: "https://checkout.example/pay/seed-session-1002",
			ExpiresIn:  72 * time.Hour,
		},
	}

	for _, s := range seeds {
		if err := insertRequest(ctx, pool, s); err != nil {
			return fmt.Errorf("insert seed request %s: %w", s.ID, err)
		}
	}
	return nil
}

func insertRequest(ctx context.Context, pool *pgxpool.Pool, s requestSeed) error {
	const q = `
INSERT INTO change_requests (
    id, order_ref, kind, status,
    original_address, proposed_address, original_package, proposed_package,
    customer_paid_cents, original_rate_cents, new_rate_cents, additional_cost_cents,
    checkout_session_ref, payment_url, invoice_sent_at, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO NOTHING
`
	origAddr, err := snapshotJSON(s.OriginalAddress)
	if err != nil {
		return err
	}
	propAddr, err := snapshotJSON(s.ProposedAddress)
	if err != nil {
		return err
	}
	origPkg, err := snapshotJSON(s.OriginalPackage)
	if err != nil {
		return err
	}
	propPkg, err := snapshotJSON(s.ProposedPackage)
	if err != nil {
		return err
	}

	var invoiceSentAt, expiresAt *time.Time
	if s.Status == domain.StatusInvoiceSent {
		now := time.Now().UTC()
		deadline := now.Add(s.ExpiresIn)
		invoiceSentAt = &now
		expiresAt = &deadline
	}

	_, err = pool.Exec(ctx, q,
		s.ID, s.OrderRef, string(s.Kind), string(s.Status),
		origAddr, propAddr, origPkg, propPkg,
		s.CustomerPaidCents, s.OriginalRateCents, s.NewRateCents, s.AdditionalCostCents,
		s.SessionRef, s.PaymentURL, invoiceSentAt, expiresAt,
	)
	return err
}

func snapshotJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
