// Package changerequest implements the modification lifecycle: pricing a
// proposed change, invoicing the customer for the difference, tracking
// payment and finally applying the change to the order. It is the only
// component that moves a change request between statuses.
package changerequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ordermod-billing/internal/domain"
	"ordermod-billing/internal/gateway/checkout"
	"ordermod-billing/internal/gateway/notify"
	"ordermod-billing/internal/gateway/orderstore"
	"ordermod-billing/internal/reconcile"
)

type requestRepo interface {
	Create(ctx context.Context, cr domain.ChangeRequest) (*domain.ChangeRequest, error)
	GetByID(ctx context.Context, id string) (*domain.ChangeRequest, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error)
	ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]domain.ChangeRequest, error)
	MarkInvoiceSent(ctx context.Context, id string, co domain.Checkout, sentAt, expiresAt time.Time) (*domain.ChangeRequest, error)
	RecordReminder(ctx context.Context, id string, sentAt time.Time) (*domain.ChangeRequest, error)
	MarkPaid(ctx context.Context, id, settledOrderRef string, paidAt time.Time, note string) (*domain.ChangeRequest, error)
	MarkApplied(ctx context.Context, id string, appliedAt time.Time) (*domain.ChangeRequest, error)
	MarkCancelled(ctx context.Context, id, reason string, cancelledAt time.Time) (*domain.ChangeRequest, error)
	MarkExpired(ctx context.Context, id string, now time.Time) (*domain.ChangeRequest, error)
	Stats(ctx context.Context) (map[domain.Status]int, error)
}

type checkoutGateway interface {
	CreateSession(ctx context.Context, amountCents int64, orderRef string) (checkout.Session, error)
	GetSessionStatus(ctx context.Context, sessionRef string) (checkout.SessionStatus, error)
	CancelSession(ctx context.Context, sessionRef string) error
}

type notifyGateway interface {
	SendInvoiceEmail(ctx context.Context, email notify.Email) error
	SendReminderEmail(ctx context.Context, email notify.Email) error
}

type orderStore interface {
	GetOrder(ctx context.Context, ref string) (*orderstore.Order, error)
	SetAddress(ctx context.Context, ref string, address domain.AddressSnapshot) error
	SetPackage(ctx context.Context, ref string, pkg domain.PackageSnapshot) error
	SetShippingBlocked(ctx context.Context, ref string, blocked bool) error
}

type rater interface {
	Quote(ctx context.Context, address domain.AddressSnapshot, pkg domain.PackageSnapshot) (domain.RateQuote, error)
}

// Service drives the change request lifecycle. All transitions go through
// the repository's compare-and-swap updates; gateway calls happen outside
// any storage lock, so a raced external side effect (an extra email, an
// orphaned checkout session) is possible but harmless, while the persisted
// state always moves exactly once.
type Service struct {
	repo       requestRepo
	checkout   checkoutGateway
	notify     notifyGateway
	orders     orderStore
	rater      rater
	invoiceTTL time.Duration
	logger     *log.Logger
	now        func() time.Time
}

func New(repo requestRepo, checkoutGW checkoutGateway, notifyGW notifyGateway, orders orderStore, rater rater, invoiceTTL time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		repo:       repo,
		checkout:   checkoutGW,
		notify:     notifyGW,
		orders:     orders,
		rater:      rater,
		invoiceTTL: invoiceTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// OpenInput describes a proposed modification. NewRateCents may be left nil
// to have the service price the proposal through the carrier rating client.
type OpenInput struct {
	OrderRef          string                  `json:"orderRef"`
	ProposedAddress   *domain.AddressSnapshot `json:"proposedAddress,omitempty"`
	ProposedPackage   *domain.PackageSnapshot `json:"proposedPackage,omitempty"`
	CustomerPaidCents int64                   `json:"customerPaidCents"`
	OriginalRateCents *int64                  `json:"originalRateCents,omitempty"`
	NewRateCents      *int64                  `json:"newRateCents,omitempty"`
}

// Open prices a proposed modification and persists it as a pending change
// request. Fails with domain.ErrActiveRequestExists when the order already
// has an active one.
func (s *Service) Open(ctx context.Context, in OpenInput) (*domain.ChangeRequest, error) {
	if strings.TrimSpace(in.OrderRef) == "" {
		return nil, fmt.Errorf("%w: orderRef required", domain.ErrInvalidInput)
	}
	if in.CustomerPaidCents < 0 {
		return nil, fmt.Errorf("%w: customerPaidCents must not be negative", domain.ErrInvalidInput)
	}
	if in.ProposedAddress == nil && in.ProposedPackage == nil {
		return nil, fmt.Errorf("%w: a proposed address or package is required", domain.ErrInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, in.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", in.OrderRef, err)
	}

	origAddr := order.Address
	origPkg := order.Package
	kind, err := domain.DeriveKind(&origAddr, in.ProposedAddress, &origPkg, in.ProposedPackage)
	if err != nil {
		return nil, err
	}

	newRate, err := s.resolveNewRate(ctx, in, order)
	if err != nil {
		return nil, err
	}

	costs, err := reconcile.Reconcile(in.CustomerPaidCents, in.OriginalRateCents, newRate)
	if err != nil {
		return nil, err
	}

	cr := domain.ChangeRequest{
		ID:       uuid.NewString(),
		OrderRef: in.OrderRef,
		Kind:     kind,
		Costs: domain.Costs{
			CustomerPaidCents:   in.CustomerPaidCents,
			OriginalRateCents:   in.OriginalRateCents,
			NewRateCents:        newRate,
			AdditionalCostCents: costs.AdditionalCostCents,
		},
		Status: domain.StatusPending,
	}
	if kind == domain.KindAddress || kind == domain.KindBoth {
		cr.OriginalAddress = &origAddr
		cr.ProposedAddress = in.ProposedAddress
	}
	if kind == domain.KindPackage || kind == domain.KindBoth {
		cr.OriginalPackage = &origPkg
		cr.ProposedPackage = in.ProposedPackage
	}
	if costs.AdditionalCostCents < 0 {
		cr.Notes = "additional cost is negative; flagged for manual review"
	}

	return s.repo.Create(ctx, cr)
}

func (s *Service) resolveNewRate(ctx context.Context, in OpenInput, order *orderstore.Order) (int64, error) {
	if in.NewRateCents != nil {
		return *in.NewRateCents, nil
	}
	if s.rater == nil {
		return 0, errors.New("newRateCents required when no rating client is configured")
	}

	address := order.Address
	if in.ProposedAddress != nil {
		address = *in.ProposedAddress
	}
	pkg := order.Package
	if in.ProposedPackage != nil {
		pkg = *in.ProposedPackage
	}

	quote, err := s.rater.Quote(ctx, address, pkg)
	if err != nil {
		return 0, err
	}
	return quote.AmountCents, nil
}

// SendInvoice creates a checkout session for the additional cost, emails
// the payment link and moves the request to invoice_sent. On any gateway
// failure the persisted state stays pending.
func (s *Service) SendInvoice(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != domain.StatusPending {
		return nil, s.transitionError(cr)
	}
	if cr.Costs.AdditionalCostCents <= 0 {
		return nil, fmt.Errorf("%w: additional cost is not positive; resolve manually instead of invoicing", domain.ErrInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, cr.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", cr.OrderRef, err)
	}

	session, err := s.checkout.CreateSession(ctx, cr.Costs.AdditionalCostCents, cr.OrderRef)
	if err != nil {
		return nil, err
	}

	email := notify.Email{
		Recipient:   order.CustomerEmail,
		OrderRef:    cr.OrderRef,
		PaymentURL:  session.PaymentURL,
		AmountCents: cr.Costs.AdditionalCostCents,
	}
	if err := s.notify.SendInvoiceEmail(ctx, email); err != nil {
		// The request stays pending; drop the unused session so a retry
		// does not leave payable links behind.
		if cancelErr := s.checkout.CancelSession(ctx, session.SessionRef); cancelErr != nil {
			s.logger.Printf("cancel orphaned session %s: %v", session.SessionRef, cancelErr)
		}
		return nil, err
	}

	now := s.now().UTC()
	updated, err := s.repo.MarkInvoiceSent(ctx, id, domain.Checkout{
		SessionID:  session.SessionID,
		SessionRef: session.SessionRef,
		PaymentURL: session.PaymentURL,
	}, now, now.Add(s.invoiceTTL))
	if err != nil {
		return nil, err
	}

	// The order must not ship while money is owed on it.
	if err := s.orders.SetShippingBlocked(ctx, cr.OrderRef, true); err != nil {
		s.logger.Printf("block shipping for order %s: %v", cr.OrderRef, err)
	}
	return updated, nil
}

// Resend re-sends the existing payment link and bumps the reminder counter.
// No new checkout session is created.
func (s *Service) Resend(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != domain.StatusInvoiceSent {
		return nil, s.transitionError(cr)
	}

	order, err := s.orders.GetOrder(ctx, cr.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", cr.OrderRef, err)
	}

	email := notify.Email{
		Recipient:   order.CustomerEmail,
		OrderRef:    cr.OrderRef,
		PaymentURL:  cr.Checkout.PaymentURL,
		AmountCents: cr.Costs.AdditionalCostCents,
	}
	if err := s.notify.SendReminderEmail(ctx, email); err != nil {
		return nil, err
	}

	updated, err := s.repo.RecordReminder(ctx, id, s.now().UTC())
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		// Settled or expired while the email was in flight; surface the
		// fresh state instead of an error.
		return s.repo.GetByID(ctx, id)
	}
	return updated, err
}

// CheckPaymentStatus probes the checkout gateway and transitions to paid if
// the session settled. Safe to call arbitrarily often: paid and terminal
// requests return unchanged without touching the gateway.
func (s *Service) CheckPaymentStatus(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != domain.StatusInvoiceSent {
		return cr, nil
	}

	status, err := s.checkout.GetSessionStatus(ctx, cr.Checkout.SessionRef)
	if err != nil {
		return nil, err
	}
	if !status.Settled {
		return cr, nil
	}

	updated, err := s.repo.MarkPaid(ctx, id, status.SettledOrderRef, s.now().UTC(), "")
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		// Another caller recorded the payment first.
		return s.repo.GetByID(ctx, id)
	}
	return updated, err
}

// MarkPaid is the manual override for out-of-band payment. Calling it on an
// already-paid request is a no-op returning the current state.
func (s *Service) MarkPaid(ctx context.Context, id, method string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status == domain.StatusPaid || cr.Status == domain.StatusApplied {
		return cr, nil
	}
	if cr.Status != domain.StatusInvoiceSent {
		return nil, s.transitionError(cr)
	}

	if strings.TrimSpace(method) == "" {
		method = "manual"
	}
	note := "marked paid via " + method

	updated, err := s.repo.MarkPaid(ctx, id, "", s.now().UTC(), note)
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		current, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.StatusPaid || current.Status == domain.StatusApplied {
			return current, nil
		}
		return nil, s.transitionError(current)
	}
	return updated, err
}

// Cancel abandons a pending or invoiced request. The upstream checkout
// session is cancelled best-effort; a gateway failure there is logged, not
// fatal.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != domain.StatusPending && cr.Status != domain.StatusInvoiceSent {
		return nil, s.transitionError(cr)
	}

	if cr.Checkout.SessionRef != "" {
		if err := s.checkout.CancelSession(ctx, cr.Checkout.SessionRef); err != nil {
			s.logger.Printf("cancel session %s at gateway: %v", cr.Checkout.SessionRef, err)
		}
	}

	note := strings.TrimSpace(reason)
	if note != "" {
		note = "cancelled: " + note
	}
	updated, err := s.repo.MarkCancelled(ctx, id, note, s.now().UTC())
	if err != nil {
		return nil, err
	}

	// Shipping was only ever blocked once an invoice went out.
	if cr.Status == domain.StatusInvoiceSent {
		if err := s.orders.SetShippingBlocked(ctx, cr.OrderRef, false); err != nil {
			s.logger.Printf("unblock shipping for order %s: %v", cr.OrderRef, err)
		}
	}
	return updated, nil
}

// Expire moves an overdue invoice_sent request to expired. The deadline and
// status are re-checked atomically in storage, so a request that got paid a
// moment before the sweep keeps its payment.
func (s *Service) Expire(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	updated, err := s.repo.MarkExpired(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.orders.SetShippingBlocked(ctx, updated.OrderRef, false); err != nil {
		s.logger.Printf("unblock shipping for order %s: %v", updated.OrderRef, err)
	}
	return updated, nil
}

// Apply writes the proposed snapshots back to the order, releases it for
// shipping and closes the request. Only legal from paid; calling it again
// on an applied request returns the prior result.
func (s *Service) Apply(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status == domain.StatusApplied {
		return cr, nil
	}
	if cr.Status != domain.StatusPaid {
		return nil, s.transitionError(cr)
	}

	// External writes first; a failure leaves the request paid and the call
	// retryable.
	if cr.ProposedAddress != nil {
		if err := s.orders.SetAddress(ctx, cr.OrderRef, *cr.ProposedAddress); err != nil {
			return nil, fmt.Errorf("apply address to order %s: %w", cr.OrderRef, err)
		}
	}
	if cr.ProposedPackage != nil {
		if err := s.orders.SetPackage(ctx, cr.OrderRef, *cr.ProposedPackage); err != nil {
			return nil, fmt.Errorf("apply package to order %s: %w", cr.OrderRef, err)
		}
	}
	if err := s.orders.SetShippingBlocked(ctx, cr.OrderRef, false); err != nil {
		return nil, fmt.Errorf("release order %s for shipping: %w", cr.OrderRef, err)
	}

	updated, err := s.repo.MarkApplied(ctx, id, s.now().UTC())
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		current, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.StatusApplied {
			return current, nil
		}
		return nil, s.transitionError(current)
	}
	return updated, err
}

// Get returns a single change request.
func (s *Service) Get(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns requests filtered by status, newest first.
func (s *Service) List(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// ExpiryCandidates lists invoice_sent requests past their deadline; used by
// the sweeper.
func (s *Service) ExpiryCandidates(ctx context.Context, limit int) ([]domain.ChangeRequest, error) {
	return s.repo.ListExpiredCandidates(ctx, s.now().UTC(), limit)
}

// Stats counts requests per status.
func (s *Service) Stats(ctx context.Context) (map[domain.Status]int, error) {
	return s.repo.Stats(ctx)
}

// transitionError maps an illegal source state to the right sentinel:
// expired requests get their own error so callers can tell "too late" from
// "wrong order of operations".
func (s *Service) transitionError(cr *domain.ChangeRequest) error {
	if cr.Status == domain.StatusExpired {
		return domain.ErrExpiredRequest
	}
	return domain.ErrInvalidStateTransition
}
