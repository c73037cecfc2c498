package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPaymentAmount(t *testing.T) {
	usd := withRate(CodeUSD, "0.0012")
	cartTotal := d("25000") // $30.00

	tests := []struct {
		name     string
		verified Money
		wantErr  error
	}{
		{"exact", Money{Amount: d("30"), Currency: CodeUSD}, nil},
		{"within tolerance", Money{Amount: d("30.01"), Currency: CodeUSD}, nil},
		{"below within tolerance", Money{Amount: d("29.99"), Currency: CodeUSD}, nil},
		{"over tolerance", Money{Amount: d("30.02"), Currency: CodeUSD}, ErrAmountMismatch},
		{"tampered", Money{Amount: d("3"), Currency: CodeUSD}, ErrAmountMismatch},
		{"wrong currency", Money{Amount: d("30"), Currency: CodeEUR}, ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPaymentAmount(tt.verified, cartTotal, usd)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
