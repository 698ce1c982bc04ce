package changerequest

import (
	"context"
	"time"

	"ordermod-billing/internal/domain"
)

// Repository is durable keyed storage for change requests. Every Mark*
// method is a compare-and-swap on the persisted status: it transitions the
// row only when the expected source status still holds, so concurrent
// callers resolve to exactly one effective transition. Losers receive
// domain.ErrInvalidStateTransition and must re-read.
type Repository interface {
	// Create persists a new pending request. Fails with
	// domain.ErrActiveRequestExists when the order already has an active one.
	Create(ctx context.Context, cr domain.ChangeRequest) (*domain.ChangeRequest, error)

	// Insert writes a fully-populated row as-is. Used by backfill tooling;
	// the lifecycle service never calls it.
	Insert(ctx context.Context, cr domain.ChangeRequest) error

	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)
	GetActiveByOrder(ctx context.Context, orderRef string) (*domain.ChangeRequest, error)

	// ListByStatus returns newest-first requests, all statuses when status
	// is empty.
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error)

	// ListExpiredCandidates returns invoice_sent requests whose expiry
	// deadline has passed.
	ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]domain.ChangeRequest, error)

	// MarkInvoiceSent moves pending → invoice_sent, recording the checkout
	// session handle and the expiry deadline.
	MarkInvoiceSent(ctx context.Context, id string, checkout domain.Checkout, sentAt, expiresAt time.Time) (*domain.ChangeRequest, error)

	// RecordReminder bumps the reminder counter on an invoice_sent request.
	RecordReminder(ctx context.Context, id string, sentAt time.Time) (*domain.ChangeRequest, error)

	// MarkPaid moves invoice_sent → paid. settledOrderRef may be empty for
	// manual overrides; a non-empty note is appended to the audit trail.
	MarkPaid(ctx context.Context, id, settledOrderRef string, paidAt time.Time, note string) (*domain.ChangeRequest, error)

	// MarkApplied moves paid → applied.
	MarkApplied(ctx context.Context, id string, appliedAt time.Time) (*domain.ChangeRequest, error)

	// MarkCancelled moves pending or invoice_sent → cancelled.
	MarkCancelled(ctx context.Context, id, reason string, cancelledAt time.Time) (*domain.ChangeRequest, error)

	// MarkExpired moves invoice_sent → expired, but only when the persisted
	// expires_at is already past now. The deadline check rides in the same
	// statement as the status check so a request paid a moment earlier can
	// never be expired.
	MarkExpired(ctx context.Context, id string, now time.Time) (*domain.ChangeRequest, error)

	// Stats counts requests per status.
	Stats(ctx context.Context) (map[domain.Status]int, error)
}
