package exchangerates

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/richxcame/storefront/internal/cachemanager"
	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultFreshnessWindow is how long a fetched table is served before a refetch
const DefaultFreshnessWindow = time.Hour

const (
	refreshKey  = "refresh"
	snapshotKey = "exchange-rates:last-live"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("invalid rates format")
	ErrClosed       = errors.New("rate cache closed")
)

// State of the cache slot
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStale
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateStale:
		return "STALE"
	default:
		return "EMPTY"
	}
}

// Status describes how a GetRates result was produced. Err is advisory: the
// returned table is always usable.
type Status struct {
	Cached   bool
	Fallback bool
	Err      error
}

type outcome struct {
	table  currency.RateTable
	status Status
}

// RateCache is the process-wide rate slot. It serves a fresh table from
// memory and lets at most one provider call run at a time; concurrent
// callers share its result.
type RateCache struct {
	source      Source
	window      time.Duration
	adminKey    string
	now         func() time.Time
	logger      *zap.Logger
	snapshots   *cachemanager.Manager
	snapshotTTL time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	table  *currency.RateTable
	closed bool
}

// Option configures a RateCache
type Option func(*RateCache)

// WithFreshnessWindow overrides DefaultFreshnessWindow
func WithFreshnessWindow(d time.Duration) Option {
	return func(c *RateCache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithAdminKey sets the secret required by SetManualRates. With no key
// configured every override is rejected.
func WithAdminKey(key string) Option {
	return func(c *RateCache) {
		c.adminKey = key
	}
}

// WithNow overrides the clock
func WithNow(now func() time.Time) Option {
	return func(c *RateCache) {
		c.now = now
	}
}

// WithLogger overrides the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *RateCache) {
		c.logger = l
	}
}

// WithSnapshots persists every live table so a restarted process can
// Restore it instead of starting empty
func WithSnapshots(m *cachemanager.Manager, ttl time.Duration) Option {
	return func(c *RateCache) {
		c.snapshots = m
		c.snapshotTTL = ttl
	}
}

// NewRateCache creates an empty cache in front of source
func NewRateCache(source Source, opts ...Option) *RateCache {
	c := &RateCache{
		source: source,
		window: DefaultFreshnessWindow,
		now:    time.Now,
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.snapshotTTL <= 0 {
		c.snapshotTTL = 24 * time.Hour
	}
	return c
}

// GetRates returns the best table available: the fresh slot, a newly
// fetched table, the stale slot, or the fallback constants, in that order.
// It never fails.
func (c *RateCache) GetRates(ctx context.Context) (currency.RateTable, Status) {
	if table, ok := c.fresh(); ok {
		ratesRequestsTotal.WithLabelValues(resultHit).Inc()
		return table, Status{Cached: true}
	}

	// the flight outlives any one caller so a cancelled request cannot fail the others
	flightCtx := context.WithoutCancel(ctx)
	res, _, _ := c.group.Do(refreshKey, func() (interface{}, error) {
		return c.refresh(flightCtx), nil
	})
	out := res.(outcome)
	return out.table, out.status
}

func (c *RateCache) refresh(ctx context.Context) outcome {
	if table, ok := c.fresh(); ok {
		ratesRequestsTotal.WithLabelValues(resultHit).Inc()
		return outcome{table: table, status: Status{Cached: true}}
	}
	if c.isClosed() {
		return c.fallback(ErrClosed)
	}

	started := c.now()
	timer := time.Now()
	result := c.source.Fetch(ctx)
	ratesFetchDuration.Observe(time.Since(timer).Seconds())

	err := result.Err
	if err == nil && result.Table == nil {
		err = fmt.Errorf("%w: empty result", ErrSourceUnavailable)
	}
	if err == nil {
		if verr := result.Table.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, verr)
		}
	}

	if err != nil {
		log := c.log(ctx)
		c.mu.RLock()
		slot := c.table
		c.mu.RUnlock()

		if slot != nil {
			log.Warn("rate provider failed, serving stale rates", zap.Error(err), zap.Time("fetched_at", slot.FetchedAt))
			ratesRequestsTotal.WithLabelValues(resultStale).Inc()
			return outcome{table: *slot, status: Status{Cached: true, Err: err}}
		}
		log.Warn("rate provider failed, serving fallback rates", zap.Error(err))
		return c.fallback(err)
	}

	table := *result.Table
	table.IsFallback = false

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return outcome{table: table}
	}
	// a manual override that landed while we were fetching wins
	if c.table != nil && c.table.FetchedAt.After(started) {
		current := *c.table
		c.mu.Unlock()
		ratesRequestsTotal.WithLabelValues(resultHit).Inc()
		return outcome{table: current, status: Status{Cached: true}}
	}
	c.table = &table
	c.mu.Unlock()

	ratesRequestsTotal.WithLabelValues(resultMiss).Inc()
	c.logger.Info("exchange rates refreshed", zap.Stringer("rates", table))
	c.persist(ctx, table)
	return outcome{table: table}
}

func (c *RateCache) log(ctx context.Context) *zap.Logger {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		return c.logger.With(zap.String("correlation_id", id))
	}
	return c.logger
}

func (c *RateCache) fallback(err error) outcome {
	ratesRequestsTotal.WithLabelValues(resultFallback).Inc()
	return outcome{
		table:  currency.FallbackTable(c.now()),
		status: Status{Fallback: true, Err: err},
	}
}

func (c *RateCache) fresh() (currency.RateTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.table == nil || c.closed {
		return currency.RateTable{}, false
	}
	if c.now().Sub(c.table.FetchedAt) >= c.window {
		return currency.RateTable{}, false
	}
	return *c.table, true
}

func (c *RateCache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// State reports whether the slot is empty, fresh or stale
func (c *RateCache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.table == nil:
		return StateEmpty
	case c.now().Sub(c.table.FetchedAt) < c.window:
		return StateFresh
	default:
		return StateStale
	}
}

// SetManualRates merges an administrator's rates into the slot and restarts
// the freshness window. rates may be partial but every value must be a
// positive finite number for a supported code, and the base rate, if given,
// must be 1.
func (c *RateCache) SetManualRates(ctx context.Context, rates map[string]float64, adminKey string) (currency.RateTable, error) {
	if !c.authorized(adminKey) {
		manualOverridesTotal.WithLabelValues(overrideUnauthorized).Inc()
		c.log(ctx).Warn("rejected manual rate override: bad admin key")
		return currency.RateTable{}, ErrUnauthorized
	}

	delta, err := parseManualRates(rates)
	if err != nil {
		manualOverridesTotal.WithLabelValues(overrideInvalid).Inc()
		return currency.RateTable{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return currency.RateTable{}, ErrClosed
	}
	now := c.now()
	current := currency.FallbackTable(now)
	if c.table != nil {
		current = *c.table
	}
	merged, err := current.Merge(delta, now)
	if err != nil {
		c.mu.Unlock()
		manualOverridesTotal.WithLabelValues(overrideInvalid).Inc()
		return currency.RateTable{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.table = &merged
	c.mu.Unlock()

	manualOverridesTotal.WithLabelValues(overrideApplied).Inc()
	c.log(ctx).Info("manual exchange rates applied", zap.Stringer("rates", merged))
	c.persist(ctx, merged)
	return merged, nil
}

func (c *RateCache) authorized(key string) bool {
	if c.adminKey == "" || key == "" {
		return false
	}
	want := sha256.Sum256([]byte(c.adminKey))
	got := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func parseManualRates(rates map[string]float64) (map[currency.Code]decimal.Decimal, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: no rates", ErrValidation)
	}

	delta := make(map[currency.Code]decimal.Decimal, len(rates))
	for raw, value := range rates {
		code, ok := currency.ParseCode(raw)
		if !ok {
			return nil, fmt.Errorf("%w: unknown currency %q", ErrValidation, raw)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
			return nil, fmt.Errorf("%w: %s rate %v", ErrValidation, code, value)
		}
		rate := decimal.NewFromFloat(value)
		if code == currency.BaseCode && !rate.Equal(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: base rate must be 1", ErrValidation)
		}
		delta[code] = rate
	}
	return delta, nil
}

func (c *RateCache) persist(ctx context.Context, table currency.RateTable) {
	if c.snapshots == nil {
		return
	}
	cachemanager.Set(ctx, c.snapshots, snapshotKey, table, c.snapshotTTL)
}

// Restore loads the last persisted live table into an empty slot. It
// reports whether a table was loaded.
func (c *RateCache) Restore(ctx context.Context) bool {
	if c.snapshots == nil {
		return false
	}
	table, ok := cachemanager.Get[currency.RateTable](ctx, c.snapshots, snapshotKey)
	if !ok {
		return false
	}
	if err := table.Validate(); err != nil || table.IsFallback {
		c.logger.Warn("ignoring persisted rate table", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.table != nil {
		return false
	}
	c.table = &table
	c.logger.Info("restored persisted exchange rates", zap.Time("fetched_at", table.FetchedAt))
	return true
}

// Close drops the slot. Later GetRates calls serve the fallback table
// without calling the provider and overrides are refused.
func (c *RateCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.table = nil
}
