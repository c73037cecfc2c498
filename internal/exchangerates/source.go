package exchangerates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/config"
	"github.com/richxcame/storefront/pkg/httpclient"
	"github.com/richxcame/storefront/pkg/logger"
	"github.com/richxcame/storefront/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrSourceUnavailable wraps every provider failure: transport, status,
// timeout, open breaker or unusable body
var ErrSourceUnavailable = currency.ErrSourceUnavailable

var errMalformedBody = errors.New("malformed rates body")

// FetchResult is the outcome of one provider call. Exactly one of Table
// and Err is set.
type FetchResult struct {
	Table *currency.RateTable
	Err   error
}

// OK reports whether the fetch produced a table
func (r FetchResult) OK() bool {
	return r.Err == nil && r.Table != nil
}

// Source is the upstream rate provider
type Source interface {
	Fetch(ctx context.Context) FetchResult
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) FetchResult

// Fetch calls f
func (f SourceFunc) Fetch(ctx context.Context) FetchResult {
	return f(ctx)
}

// HTTPSource calls a JSON rate provider of the form {"rates":{"USD":0.0012,...}}
// quoted against the base currency
type HTTPSource struct {
	client  *httpclient.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// SourceOption configures an HTTPSource
type SourceOption func(*HTTPSource)

// WithSourceNow overrides the clock used to stamp fetched tables
func WithSourceNow(now func() time.Time) SourceOption {
	return func(s *HTTPSource) {
		s.now = now
	}
}

// WithSourceLogger overrides the logger
func WithSourceLogger(l *zap.Logger) SourceOption {
	return func(s *HTTPSource) {
		s.logger = l
	}
}

// WithTimeout overrides the per-call timeout taken from config
func WithTimeout(d time.Duration) SourceOption {
	return func(s *HTTPSource) {
		s.timeout = d
	}
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(b *resilience.CircuitBreaker) SourceOption {
	return func(s *HTTPSource) {
		s.breaker = b
	}
}

// NewHTTPSource creates a provider client from config. Each call is bounded
// by cfg.Timeout() and guarded by a circuit breaker.
func NewHTTPSource(cfg config.ExchangeRatesConfig, opts ...SourceOption) *HTTPSource {
	s := &HTTPSource{
		client:  httpclient.NewClient(cfg.APIURL, cfg.Timeout()),
		timeout: cfg.Timeout(),
		now:     time.Now,
		logger:  logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(
			resilience.SettingsForExchangeRates("exchange-rates", cfg),
			resilience.GracefulDegradation("exchange-rates"),
		)
	}
	return s
}

// Fetch performs one provider call
func (s *HTTPSource) Fetch(ctx context.Context) FetchResult {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		body, err := s.client.Get(ctx, "", nil)
		if err != nil {
			return nil, err
		}
		return s.parse(body)
	})
	if err != nil {
		return FetchResult{Err: fmt.Errorf("%w: %w", ErrSourceUnavailable, err)}
	}

	table := result.(currency.RateTable)
	return FetchResult{Table: &table}
}

// parse validates the provider body. A body without a rates object is
// rejected; an individual rate that is missing or unusable falls back to
// its constant.
func (s *HTTPSource) parse(body []byte) (currency.RateTable, error) {
	if !gjson.ValidBytes(body) {
		return currency.RateTable{}, fmt.Errorf("%w: invalid JSON", errMalformedBody)
	}
	rates := gjson.GetBytes(body, "rates")
	if !rates.IsObject() {
		return currency.RateTable{}, fmt.Errorf("%w: no rates object", errMalformedBody)
	}

	parsed := make(map[currency.Code]decimal.Decimal)
	for _, code := range currency.Codes() {
		if code == currency.BaseCode {
			continue
		}
		value := rates.Get(string(code))
		rate, ok := parseRate(value)
		if !ok {
			s.logger.Warn("rate missing from provider, using fallback",
				zap.String("code", string(code)),
				zap.String("raw", value.Raw),
			)
			continue
		}
		parsed[code] = rate
	}

	return currency.NewRateTable(parsed, s.now(), false)
}

func parseRate(value gjson.Result) (decimal.Decimal, bool) {
	if value.Type != gjson.Number {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(value.Raw)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}
