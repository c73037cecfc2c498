package exchangerates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/config"
	"github.com/richxcame/storefront/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(url string) config.ExchangeRatesConfig {
	return config.ExchangeRatesConfig{
		APIURL:                  url,
		TimeoutSeconds:          1,
		FreshnessMinutes:        60,
		BreakerFailureThreshold: 3,
		BreakerTimeoutSeconds:   60,
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type provider struct {
	hits   atomic.Int32
	status int
	body   string
	delay  time.Duration
}

func (p *provider) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		if p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(p.status)
		_, _ = w.Write([]byte(p.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSource(t *testing.T, p *provider, opts ...SourceOption) *HTTPSource {
	srv := p.start(t)
	opts = append([]SourceOption{
		WithSourceLogger(zap.NewNop()),
		WithSourceNow(func() time.Time { return t0 }),
	}, opts...)
	return NewHTTPSource(testConfig(srv.URL), opts...)
}

func assertRates(t *testing.T, table currency.RateTable, ngn, usd, eur, gbp string) {
	t.Helper()
	assert.True(t, d(ngn).Equal(table.Rate(currency.CodeNGN)), "NGN %s", table.Rate(currency.CodeNGN))
	assert.True(t, d(usd).Equal(table.Rate(currency.CodeUSD)), "USD %s", table.Rate(currency.CodeUSD))
	assert.True(t, d(eur).Equal(table.Rate(currency.CodeEUR)), "EUR %s", table.Rate(currency.CodeEUR))
	assert.True(t, d(gbp).Equal(table.Rate(currency.CodeGBP)), "GBP %s", table.Rate(currency.CodeGBP))
}

func TestHTTPSource_LiveRates(t *testing.T) {
	p := &provider{status: http.StatusOK, body: `{"base":"NGN","rates":{"USD":0.0013,"EUR":0.0012,"GBP":0.0009,"JPY":0.19}}`}
	s := newTestSource(t, p)

	res := s.Fetch(context.Background())

	require.True(t, res.OK(), "%v", res.Err)
	assertRates(t, *res.Table, "1", "0.0013", "0.0012", "0.0009")
	assert.False(t, res.Table.IsFallback)
	assert.Equal(t, t0, res.Table.FetchedAt)
}

func TestHTTPSource_MissingRateUsesConstant(t *testing.T) {
	p := &provider{status: http.StatusOK, body: `{"rates":{"USD":0.0013,"EUR":"oops","GBP":-2}}`}
	s := newTestSource(t, p)

	res := s.Fetch(context.Background())

	require.True(t, res.OK(), "%v", res.Err)
	assertRates(t, *res.Table, "1", "0.0013", "0.0011", "0.00095")
	assert.False(t, res.Table.IsFallback)
}

func TestHTTPSource_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `bad gateway`},
		{"rate limited", http.StatusTooManyRequests, `{}`},
		{"not json", http.StatusOK, `<html>`},
		{"no rates object", http.StatusOK, `{"result":"error"}`},
		{"rates not an object", http.StatusOK, `{"rates":[1,2,3]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSource(t, &provider{status: tt.status, body: tt.body})

			res := s.Fetch(context.Background())

			assert.False(t, res.OK())
			assert.Nil(t, res.Table)
			assert.ErrorIs(t, res.Err, ErrSourceUnavailable)
		})
	}
}

func TestHTTPSource_Timeout(t *testing.T) {
	p := &provider{status: http.StatusOK, body: `{"rates":{}}`, delay: time.Second}
	s := newTestSource(t, p, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := s.Fetch(context.Background())

	assert.ErrorIs(t, res.Err, ErrSourceUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHTTPSource_BreakerStopsHammering(t *testing.T) {
	p := &provider{status: http.StatusServiceUnavailable, body: `down`}
	srv := p.start(t)
	cfg := testConfig(srv.URL)
	breaker := resilience.NewCircuitBreaker(resilience.SettingsForExchangeRates("exchange-rates-test", cfg), nil)
	s := NewHTTPSource(cfg, WithSourceLogger(zap.NewNop()), WithBreaker(breaker))

	for i := 0; i < 10; i++ {
		res := s.Fetch(context.Background())
		assert.ErrorIs(t, res.Err, ErrSourceUnavailable)
	}

	assert.Equal(t, int32(cfg.BreakerFailureThreshold), p.hits.Load())
	res := s.Fetch(context.Background())
	assert.ErrorIs(t, res.Err, resilience.ErrCircuitOpen)
}
