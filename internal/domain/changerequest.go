package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a change request. Transitions happen only
// through the lifecycle service; pending → invoice_sent → paid → applied is
// the success path, cancelled and expired are terminal failure paths.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInvoiceSent Status = "invoice_sent"
	StatusPaid        Status = "paid"
	StatusApplied     Status = "applied"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// Terminal reports whether the status is an end state retained for audit.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusCancelled || s == StatusExpired
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInvoiceSent, StatusPaid, StatusApplied, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ActiveStatuses lists every non-terminal status.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusInvoiceSent, StatusPaid}
}

// Kind says which parts of the order the request changes. It is derived from
// which snapshots differ, never chosen by the caller.
type Kind string

const (
	KindAddress Kind = "address"
	KindPackage Kind = "package"
	KindBoth    Kind = "both"
)

// ErrNoEffectiveChange is returned by DeriveKind when the proposed snapshots
// match the originals (or none were proposed at all).
var ErrNoEffectiveChange = errors.New("proposed change matches current order")

// DeriveKind computes the request kind from which proposed snapshots differ
// from their originals.
func DeriveKind(origAddr, propAddr *AddressSnapshot, origPkg, propPkg *PackageSnapshot) (Kind, error) {
	addrChanged := propAddr != nil && (origAddr == nil || *propAddr != *origAddr)
	pkgChanged := propPkg != nil && (origPkg == nil || *propPkg != *origPkg)

	switch {
	case addrChanged && pkgChanged:
		return KindBoth, nil
	case addrChanged:
		return KindAddress, nil
	case pkgChanged:
		return KindPackage, nil
	}
	return "", ErrNoEffectiveChange
}

// RateQuote is a canonical carrier quote. Ephemeral, produced per rating
// call, never persisted on its own.
type RateQuote struct {
	ServiceCode string `json:"serviceCode"`
	ServiceName string `json:"serviceName,omitempty"`
	AmountCents int64  `json:"amountCents"`
}

// Costs carries the money picture of a change request. All amounts are
// integer cents; AdditionalCostCents is recomputed from the other fields,
// never hand-edited.
type Costs struct {
	CustomerPaidCents   int64  `json:"customerPaidCents"`
	OriginalRateCents   *int64 `json:"originalRateCents,omitempty"`
	NewRateCents        int64  `json:"newRateCents"`
	AdditionalCostCents int64  `json:"additionalCostCents"`
}

// Checkout is the handle to the external checkout gateway's payable object,
// set once invoicing begins.
type Checkout struct {
	SessionID       string `json:"sessionId,omitempty"`
	SessionRef      string `json:"sessionRef,omitempty"`
	PaymentURL      string `json:"paymentUrl,omitempty"`
	SettledOrderRef string `json:"settledOrderRef,omitempty"`
}

// Reminders tracks how often the customer was nudged about an open invoice.
type Reminders struct {
	Count      int        `json:"count"`
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
}

// ChangeRequest is one modification attempt against an order. At most one
// non-terminal request exists per order; terminal rows are kept forever for
// audit and reporting.
type ChangeRequest struct {
	ID       string `json:"id"`
	OrderRef string `json:"orderRef"`
	Kind     Kind   `json:"kind"`

	OriginalAddress *AddressSnapshot `json:"originalAddress,omitempty"`
	ProposedAddress *AddressSnapshot `json:"proposedAddress,omitempty"`
	OriginalPackage *PackageSnapshot `json:"originalPackage,omitempty"`
	ProposedPackage *PackageSnapshot `json:"proposedPackage,omitempty"`

	Costs     Costs     `json:"costs"`
	Status    Status    `json:"status"`
	Checkout  Checkout  `json:"checkout"`
	Reminders Reminders `json:"reminders"`

	CreatedAt     time.Time  `json:"createdAt"`
	InvoiceSentAt *time.Time `json:"invoiceSentAt,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	AppliedAt     *time.Time `json:"appliedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Active reports whether the request still blocks new modification attempts
// for its order.
func (c *ChangeRequest) Active() bool {
	return !c.Status.Terminal()
}
