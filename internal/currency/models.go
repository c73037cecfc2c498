package currency

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Code is an ISO 4217 currency code supported by the storefront
type Code string

// Supported currencies. Every stored price is denominated in BaseCode.
const (
	CodeNGN Code = "NGN"
	CodeUSD Code = "USD"
	CodeEUR Code = "EUR"
	CodeGBP Code = "GBP"

	BaseCode = CodeNGN
)

// Currency is a display currency together with its rate from BaseCode
type Currency struct {
	Code          Code            `json:"code"`
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	DecimalPlaces int             `json:"decimal_places"`
	Rate          decimal.Decimal `json:"rate"`
}

// Money is an amount in a given currency
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Code            `json:"currency"`
}

var catalog = []Currency{
	{Code: CodeNGN, Symbol: "₦", Name: "Nigerian Naira", DecimalPlaces: 0},
	{Code: CodeUSD, Symbol: "$", Name: "US Dollar", DecimalPlaces: 2},
	{Code: CodeEUR, Symbol: "€", Name: "Euro", DecimalPlaces: 2},
	{Code: CodeGBP, Symbol: "£", Name: "British Pound", DecimalPlaces: 2},
}

// Approximate rates used only when no live table is available
var fallbackRates = map[Code]decimal.Decimal{
	CodeNGN: decimal.NewFromInt(1),
	CodeUSD: decimal.RequireFromString("0.0012"),
	CodeEUR: decimal.RequireFromString("0.0011"),
	CodeGBP: decimal.RequireFromString("0.00095"),
}

// Codes returns the supported codes, base first
func Codes() []Code {
	codes := make([]Code, len(catalog))
	for i, c := range catalog {
		codes[i] = c.Code
	}
	return codes
}

// Catalog returns the supported currencies without rates
func Catalog() []Currency {
	out := make([]Currency, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns catalog metadata for code
func Lookup(code Code) (Currency, bool) {
	for _, c := range catalog {
		if c.Code == code {
			return c, true
		}
	}
	return Currency{}, false
}

// ParseCode normalizes s and reports whether it is a supported code
func ParseCode(s string) (Code, bool) {
	code := Code(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := Lookup(code)
	return code, ok
}

// FallbackRate returns the hardcoded rate for code
func FallbackRate(code Code) decimal.Decimal {
	return fallbackRates[code]
}

// RateTable is a complete set of rates from BaseCode. Tables are values:
// they are replaced wholesale, never edited in place.
type RateTable struct {
	Rates      map[Code]decimal.Decimal `json:"rates"`
	FetchedAt  time.Time                `json:"fetchedAt"`
	IsFallback bool                     `json:"isFallback"`
}

// NewRateTable builds a validated table. Missing non-base rates are filled
// from the fallback constants and the base rate is forced to 1.
func NewRateTable(rates map[Code]decimal.Decimal, fetchedAt time.Time, isFallback bool) (RateTable, error) {
	table := RateTable{
		Rates:      make(map[Code]decimal.Decimal, len(catalog)),
		FetchedAt:  fetchedAt,
		IsFallback: isFallback,
	}
	for _, c := range catalog {
		if rate, ok := rates[c.Code]; ok {
			table.Rates[c.Code] = rate
		} else {
			table.Rates[c.Code] = fallbackRates[c.Code]
		}
	}
	table.Rates[BaseCode] = decimal.NewFromInt(1)

	if err := table.Validate(); err != nil {
		return RateTable{}, err
	}
	return table, nil
}

// FallbackTable returns the hardcoded table flagged as fallback
func FallbackTable(now time.Time) RateTable {
	table := RateTable{
		Rates:      make(map[Code]decimal.Decimal, len(fallbackRates)),
		FetchedAt:  now,
		IsFallback: true,
	}
	for code, rate := range fallbackRates {
		table.Rates[code] = rate
	}
	return table
}

// Validate checks that every supported code has a positive rate and that
// the base rate is exactly 1
func (t RateTable) Validate() error {
	for _, c := range catalog {
		rate, ok := t.Rates[c.Code]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrIncompleteTable, c.Code)
		}
		if !rate.IsPositive() {
			return fmt.Errorf("%w: %s rate %s", ErrInvalidRate, c.Code, rate)
		}
	}
	if !t.Rates[BaseCode].Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: base rate must be 1, got %s", ErrInvalidRate, t.Rates[BaseCode])
	}
	return nil
}

// Rate returns the rate for code, zero if absent
func (t RateTable) Rate(code Code) decimal.Decimal {
	return t.Rates[code]
}

// Merge returns a new table with delta applied over t
func (t RateTable) Merge(delta map[Code]decimal.Decimal, fetchedAt time.Time) (RateTable, error) {
	rates := make(map[Code]decimal.Decimal, len(t.Rates))
	for code, rate := range t.Rates {
		rates[code] = rate
	}
	for code, rate := range delta {
		if _, ok := Lookup(code); !ok {
			return RateTable{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		rates[code] = rate
	}
	return NewRateTable(rates, fetchedAt, false)
}

// Currencies returns the catalog with rates from t attached
func (t RateTable) Currencies() []Currency {
	out := Catalog()
	for i := range out {
		out[i].Rate = t.Rates[out[i].Code]
	}
	return out
}

// Float64Rates renders the table for JSON consumers that expect numbers
func (t RateTable) Float64Rates() map[string]float64 {
	out := make(map[string]float64, len(t.Rates))
	for code, rate := range t.Rates {
		out[string(code)] = rate.InexactFloat64()
	}
	return out
}

// Equal reports whether both tables carry identical rates and flags
func (t RateTable) Equal(other RateTable) bool {
	if len(t.Rates) != len(other.Rates) || t.IsFallback != other.IsFallback || !t.FetchedAt.Equal(other.FetchedAt) {
		return false
	}
	for code, rate := range t.Rates {
		if o, ok := other.Rates[code]; !ok || !o.Equal(rate) {
			return false
		}
	}
	return true
}

// String renders rates in catalog order, e.g. "NGN=1 USD=0.0012 ..."
func (t RateTable) String() string {
	parts := make([]string, 0, len(catalog))
	for _, c := range catalog {
		if rate, ok := t.Rates[c.Code]; ok {
			parts = append(parts, string(c.Code)+"="+rate.String())
		}
	}
	return strings.Join(parts, " ")
}

// RatesResponse is the JSON envelope served at /api/exchange-rates
type RatesResponse struct {
	Success     bool               `json:"success"`
	Rates       map[string]float64 `json:"rates"`
	Cached      bool               `json:"cached"`
	Fallback    bool               `json:"fallback,omitempty"`
	LastUpdated string             `json:"lastUpdated"`
	Error       string             `json:"error,omitempty"`
}

// NewRatesResponse renders t into the wire envelope
func NewRatesResponse(t RateTable, cached bool, errMsg string) RatesResponse {
	return RatesResponse{
		Success:     true,
		Rates:       t.Float64Rates(),
		Cached:      cached,
		Fallback:    t.IsFallback,
		LastUpdated: t.FetchedAt.UTC().Format(time.RFC3339),
		Error:       errMsg,
	}
}

// ToTable validates the envelope into a RateTable. All supported codes
// must be present; unknown codes are ignored.
func (r RatesResponse) ToTable() (RateTable, error) {
	if !r.Success {
		return RateTable{}, fmt.Errorf("%w: response not successful", ErrSourceUnavailable)
	}

	rates := make(map[Code]decimal.Decimal, len(catalog))
	for _, c := range catalog {
		value, ok := r.Rates[string(c.Code)]
		if !ok {
			return RateTable{}, fmt.Errorf("%w: missing %s", ErrIncompleteTable, c.Code)
		}
		rates[c.Code] = decimal.NewFromFloat(value)
	}

	fetchedAt, err := time.Parse(time.RFC3339, r.LastUpdated)
	if err != nil {
		return RateTable{}, fmt.Errorf("%w: lastUpdated %q", ErrInvalidRate, r.LastUpdated)
	}

	if !rates[BaseCode].Equal(decimal.NewFromInt(1)) {
		return RateTable{}, fmt.Errorf("%w: base rate must be 1, got %s", ErrInvalidRate, rates[BaseCode])
	}
	return NewRateTable(rates, fetchedAt, r.Fallback)
}
