package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentTolerance is the largest absolute difference, in display units,
// accepted between a verified payment and the converted cart total
var PaymentTolerance = decimal.RequireFromString("0.01")

// VerifyPaymentAmount checks a gateway-verified amount against the cart total
// converted at the given display currency's rate
func VerifyPaymentAmount(verified Money, cartTotalInBase decimal.Decimal, display Currency) error {
	if verified.Currency != display.Code {
		return fmt.Errorf("%w: paid in %s, expected %s", ErrCurrencyMismatch, verified.Currency, display.Code)
	}

	expected := Convert(cartTotalInBase, display.Rate)
	if verified.Amount.Sub(expected).Abs().GreaterThan(PaymentTolerance) {
		return fmt.Errorf("%w: paid %s, expected %s", ErrAmountMismatch, verified.Amount, expected.StringFixed(int32(display.DecimalPlaces)))
	}
	return nil
}

// VerifyPayment checks verified against the engine's current display currency
func (e *Engine) VerifyPayment(verified Money, cartTotalInBase decimal.Decimal) error {
	return VerifyPaymentAmount(verified, cartTotalInBase, e.Current())
}
