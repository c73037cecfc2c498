package currency

import "errors"

var (
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrInvalidRate       = errors.New("invalid rate")
	ErrIncompleteTable   = errors.New("incomplete rate table")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSourceUnavailable = errors.New("rate source unavailable")
	ErrEngineClosed      = errors.New("currency engine closed")

	// ErrAmountMismatch means a gateway-verified amount differs from the
	// converted cart total by more than PaymentTolerance
	ErrAmountMismatch   = errors.New("payment amount mismatch")
	ErrCurrencyMismatch = errors.New("payment currency mismatch")
)
