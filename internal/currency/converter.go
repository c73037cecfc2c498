package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Convert multiplies a base amount by rate
func Convert(amountInBase, rate decimal.Decimal) decimal.Decimal {
	return amountInBase.Mul(rate)
}

// Round rounds half away from zero to places decimal places
func Round(amount decimal.Decimal, places int) decimal.Decimal {
	if places < 0 {
		places = 0
	}
	return amount.Round(int32(places))
}

// Format renders amount with the currency symbol and English digit grouping,
// e.g. "₦1,000" or "$1.20". The amount is already in the display currency.
func Format(amount decimal.Decimal, c Currency) string {
	rounded := Round(amount, c.DecimalPlaces)

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}

	p := message.NewPrinter(language.English)
	digits := p.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(c.DecimalPlaces)))
	return sign + c.Symbol + digits
}

// ParseAmount is the inverse of Format: it strips the symbol and grouping
func ParseAmount(formatted string, c Currency) (decimal.Decimal, error) {
	clean := strings.TrimSpace(formatted)

	negative := strings.HasPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, c.Symbol)
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.TrimSpace(clean)

	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, formatted)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// ToSmallestUnit converts an amount to minor units (kobo, cents)
func ToSmallestUnit(amount decimal.Decimal, decimalPlaces int) int64 {
	return Round(amount, decimalPlaces).Shift(int32(decimalPlaces)).IntPart()
}
