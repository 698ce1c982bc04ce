package changerequest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ordermod-billing/internal/domain"
)

const requestColumns = `
id, order_ref, kind,
original_address, proposed_address, original_package, proposed_package,
customer_paid_cents, original_rate_cents, new_rate_cents, additional_cost_cents,
status, checkout_session_id, checkout_session_ref, payment_url, settled_order_ref,
reminder_count, reminder_last_sent_at,
created_at, invoice_sent_at, paid_at, applied_at, cancelled_at, expires_at,
notes`

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Create(ctx context.Context, cr domain.ChangeRequest) (*domain.ChangeRequest, error) {
	const q = `
INSERT INTO change_requests (
    id, order_ref, kind,
    original_address, proposed_address, original_package, proposed_package,
    customer_paid_cents, original_rate_cents, new_rate_cents, additional_cost_cents,
    status, notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12)
RETURNING ` + requestColumns

	origAddr, propAddr, origPkg, propPkg, err := snapshotJSON(cr)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, q,
		cr.ID,
		cr.OrderRef,
		string(cr.Kind),
		origAddr,
		propAddr,
		origPkg,
		propPkg,
		cr.Costs.CustomerPaidCents,
		cr.Costs.OriginalRateCents,
		cr.Costs.NewRateCents,
		cr.Costs.AdditionalCostCents,
		cr.Notes,
	)
	stored, err := scanRequest(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrActiveRequestExists
		}
		return nil, err
	}
	return stored, nil
}

func (r *postgresRepo) Insert(ctx context.Context, cr domain.ChangeRequest) error {
	const q = `
INSERT INTO change_requests (
    id, order_ref, kind,
    original_address, proposed_address, original_package, proposed_package,
    customer_paid_cents, original_rate_cents, new_rate_cents, additional_cost_cents,
    status, checkout_session_id, checkout_session_ref, payment_url, settled_order_ref,
    reminder_count, reminder_last_sent_at,
    created_at, invoice_sent_at, paid_at, applied_at, cancelled_at, expires_at,
    notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
          $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	origAddr, propAddr, origPkg, propPkg, err := snapshotJSON(cr)
	if err != nil {
		return err
	}

	createdAt := cr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx, q,
		cr.ID,
		cr.OrderRef,
		string(cr.Kind),
		origAddr,
		propAddr,
		origPkg,
		propPkg,
		cr.Costs.CustomerPaidCents,
		cr.Costs.OriginalRateCents,
		cr.Costs.NewRateCents,
		cr.Costs.AdditionalCostCents,
		string(cr.Status),
		cr.Checkout.SessionID,
		cr.Checkout.SessionRef,
		cr.Checkout.PaymentURL,
		cr.Checkout.SettledOrderRef,
		cr.Reminders.Count,
		cr.Reminders.LastSentAt,
		createdAt,
		cr.InvoiceSentAt,
		cr.PaidAt,
		cr.AppliedAt,
		cr.CancelledAt,
		cr.ExpiresAt,
		cr.Notes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrActiveRequestExists
		}
		return err
	}
	return nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM change_requests WHERE id = $1`
	cr, err := scanRequest(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return cr, nil
}

func (r *postgresRepo) GetActiveByOrder(ctx context.Context, orderRef string) (*domain.ChangeRequest, error) {
	q := `SELECT ` + requestColumns + `
FROM change_requests
WHERE order_ref = $1 AND status NOT IN ('applied', 'cancelled', 'expired')
LIMIT 1`
	cr, err := scanRequest(r.pool.QueryRow(ctx, q, orderRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return cr, nil
}

func (r *postgresRepo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error) {
	q := `SELECT ` + requestColumns + `
FROM change_requests
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *postgresRepo) ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]domain.ChangeRequest, error) {
	q := `SELECT ` + requestColumns + `
FROM change_requests
WHERE status = 'invoice_sent' AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *postgresRepo) MarkInvoiceSent(ctx context.Context, id string, checkout domain.Checkout, sentAt, expiresAt time.Time) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET status = 'invoice_sent',
    checkout_session_id = $2,
    checkout_session_ref = $3,
    payment_url = $4,
    invoice_sent_at = $5,
    expires_at = $6
WHERE id = $1 AND status = 'pending'
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, checkout.SessionID, checkout.SessionRef, checkout.PaymentURL, sentAt, expiresAt)
}

func (r *postgresRepo) RecordReminder(ctx context.Context, id string, sentAt time.Time) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET reminder_count = reminder_count + 1,
    reminder_last_sent_at = $2
WHERE id = $1 AND status = 'invoice_sent'
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, sentAt)
}

func (r *postgresRepo) MarkPaid(ctx context.Context, id, settledOrderRef string, paidAt time.Time, note string) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET status = 'paid',
    paid_at = $2,
    settled_order_ref = CASE WHEN $3 = '' THEN settled_order_ref ELSE $3 END,
    notes = CASE WHEN $4 = '' THEN notes
                 WHEN notes = '' THEN $4
                 ELSE notes || E'\n' || $4 END
WHERE id = $1 AND status = 'invoice_sent'
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, paidAt, settledOrderRef, note)
}

func (r *postgresRepo) MarkApplied(ctx context.Context, id string, appliedAt time.Time) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET status = 'applied',
    applied_at = $2
WHERE id = $1 AND status = 'paid'
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, appliedAt)
}

func (r *postgresRepo) MarkCancelled(ctx context.Context, id, reason string, cancelledAt time.Time) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET status = 'cancelled',
    cancelled_at = $2,
    notes = CASE WHEN $3 = '' THEN notes
                 WHEN notes = '' THEN $3
                 ELSE notes || E'\n' || $3 END
WHERE id = $1 AND status IN ('pending', 'invoice_sent')
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, cancelledAt, reason)
}

func (r *postgresRepo) MarkExpired(ctx context.Context, id string, now time.Time) (*domain.ChangeRequest, error) {
	q := `
UPDATE change_requests
SET status = 'expired'
WHERE id = $1 AND status = 'invoice_sent' AND expires_at IS NOT NULL AND expires_at <= $2
RETURNING ` + requestColumns
	return r.casUpdate(ctx, id, q, now)
}

func (r *postgresRepo) Stats(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM change_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[domain.Status(status)] = count
	}
	return stats, rows.Err()
}

// casUpdate runs a guarded transition statement. Zero rows means either the
// row is gone or another transition raced ahead; re-reading distinguishes
// the two.
func (r *postgresRepo) casUpdate(ctx context.Context, id, q string, args ...any) (*domain.ChangeRequest, error) {
	all := append([]any{id}, args...)
	cr, err := scanRequest(r.pool.QueryRow(ctx, q, all...))
	if err == nil {
		return cr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrInvalidStateTransition
}

func snapshotJSON(cr domain.ChangeRequest) (origAddr, propAddr, origPkg, propPkg []byte, err error) {
	if cr.OriginalAddress != nil {
		if origAddr, err = json.Marshal(cr.OriginalAddress); err != nil {
			return
		}
	}
	if cr.ProposedAddress != nil {
		if propAddr, err = json.Marshal(cr.ProposedAddress); err != nil {
			return
		}
	}
	if cr.OriginalPackage != nil {
		if origPkg, err = json.Marshal(cr.OriginalPackage); err != nil {
			return
		}
	}
	if cr.ProposedPackage != nil {
		if propPkg, err = json.Marshal(cr.ProposedPackage); err != nil {
			return
		}
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.ChangeRequest, error) {
	var (
		cr                                     domain.ChangeRequest
		kind, status                           string
		origAddr, propAddr, origPkg, propPkg   []byte
		reminderLastSentAt                     *time.Time
		invoiceSentAt, paidAt, appliedAt       *time.Time
		cancelledAt, expiresAt                 *time.Time
	)

	err := row.Scan(
		&cr.ID,
		&cr.OrderRef,
		&kind,
		&origAddr,
		&propAddr,
		&origPkg,
		&propPkg,
		&cr.Costs.CustomerPaidCents,
		&cr.Costs.OriginalRateCents,
		&cr.Costs.NewRateCents,
		&cr.Costs.AdditionalCostCents,
		&status,
		&cr.Checkout.SessionID,
		&cr.Checkout.SessionRef,
		&cr.Checkout.PaymentURL,
		&cr.Checkout.SettledOrderRef,
		&cr.Reminders.Count,
		&reminderLastSentAt,
		&cr.CreatedAt,
		&invoiceSentAt,
		&paidAt,
		&appliedAt,
		&cancelledAt,
		&expiresAt,
		&cr.Notes,
	)
	if err != nil {
		return nil, err
	}

	cr.Kind = domain.Kind(kind)
	cr.Status = domain.Status(status)
	cr.Reminders.LastSentAt = reminderLastSentAt
	cr.InvoiceSentAt = invoiceSentAt
	cr.PaidAt = paidAt
	cr.AppliedAt = appliedAt
	cr.CancelledAt = cancelledAt
	cr.ExpiresAt = expiresAt

	if err := unmarshalSnapshot(origAddr, &cr.OriginalAddress); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(propAddr, &cr.ProposedAddress); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(origPkg, &cr.OriginalPackage); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(propPkg, &cr.ProposedPackage); err != nil {
		return nil, err
	}
	return &cr, nil
}

func unmarshalSnapshot[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func collectRequests(rows pgx.Rows) ([]domain.ChangeRequest, error) {
	var out []domain.ChangeRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}
