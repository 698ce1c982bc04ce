package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrActiveRequestExists indicates an order already has a non-terminal
	// change request; at most one may exist per order.
	ErrActiveRequestExists = errors.New("active change request already exists for order")

	// ErrInvalidStateTransition indicates a lifecycle operation was attempted
	// from a status it is not legal in.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrRateUnavailable indicates no usable quote could be extracted from a
	// carrier rating response.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrMalformedRate indicates a quote was found but carried no readable amount.
	ErrMalformedRate = errors.New("malformed rate")

	// ErrCheckoutGateway wraps failures talking to the checkout gateway.
	ErrCheckoutGateway = errors.New("checkout gateway error")

	// ErrNotificationGateway wraps failures talking to the notification gateway.
	ErrNotificationGateway = errors.New("notification gateway error")

	// ErrExpiredRequest indicates the change request already reached its
	// terminal expired state and cannot be acted on.
	ErrExpiredRequest = errors.New("change request expired")

	// ErrAmountOverflow indicates money arithmetic would leave the int64 cent range.
	ErrAmountOverflow = errors.New("amount overflow")

	// ErrInvalidInput indicates the caller supplied an unusable request.
	ErrInvalidInput = errors.New("invalid input")
)
