// Package reconcile holds the cost arithmetic for order modifications.
// All amounts are integer cents; nothing here touches floating point.
package reconcile

import (
	"ordermod-billing/internal/domain"
)

// Result is the outcome of reconciling a re-quote against what the customer
// already paid.
type Result struct {
	// AdditionalCostCents is the amount to collect from the customer. It may
	// be negative (the customer effectively overpaid relative to the new
	// cost); callers flag negative results for manual review instead of
	// invoicing a negative charge.
	AdditionalCostCents int64

	// OriginalMarginCents is the margin booked at original sale time
	// (customerPaid - originalRate), nil when the original carrier cost is
	// unknown. Informational only: no charge is ever derived from it.
	OriginalMarginCents *int64
}

// Reconcile computes what the customer owes after a modification.
// The baseline is the previously-known carrier cost when available,
// otherwise the amount the customer paid.
func Reconcile(customerPaidCents int64, originalRateCents *int64, newRateCents int64) (Result, error) {
	baseline := customerPaidCents
	if originalRateCents != nil {
		baseline = *originalRateCents
	}

	additional, err := subtract(newRateCents, baseline)
	if err != nil {
		return Result{}, err
	}

	res := Result{AdditionalCostCents: additional}
	if originalRateCents != nil {
		margin, err := subtract(customerPaidCents, *originalRateCents)
		if err != nil {
			return Result{}, err
		}
		res.OriginalMarginCents = &margin
	}
	return res, nil
}

func subtract(a, b int64) (int64, error) {
	diff := a - b
	// Overflow flips the sign of the true result.
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, domain.ErrAmountOverflow
	}
	return diff, nil
}
