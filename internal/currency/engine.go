package currency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richxcame/storefront/internal/cachemanager"
	"github.com/richxcame/storefront/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultRefreshInterval matches the server-side freshness window
	DefaultRefreshInterval = time.Hour

	// RatesCacheKey is the cache entry the engine mirrors its table into
	RatesCacheKey = "exchange-rates"
)

// Snapshot is an immutable view of engine state for display consumers
type Snapshot struct {
	Current     Currency   `json:"current"`
	Currencies  []Currency `json:"currencies"`
	LastUpdated time.Time  `json:"lastUpdated"`
	IsFallback  bool       `json:"isFallback"`
	Degraded    bool       `json:"degraded"`
}

// Engine owns the display currency and the current rate table. Reads are
// pure against the table in effect; refreshes swap the whole table.
type Engine struct {
	source   RatesSource
	prefs    PreferenceStore
	cache    *cachemanager.Manager
	logger   *zap.Logger
	interval time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	table       RateTable
	current     Code
	lastUpdated time.Time
	degraded    bool
	started     bool
	closed      bool
	subscribers []chan Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRefreshInterval sets how often rates are refreshed after Initialize
func WithRefreshInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithCacheTTL sets how long a mirrored table is considered fresh
func WithCacheTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.cacheTTL = d
	}
}

// WithEngineLogger overrides the logger
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEngineNow overrides the clock
func WithEngineNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine showing BaseCode at fallback rates until
// Initialize runs. cache may be nil.
func NewEngine(source RatesSource, prefs PreferenceStore, cache *cachemanager.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		source:   source,
		prefs:    prefs,
		cache:    cache,
		logger:   logger.Get(),
		interval: DefaultRefreshInterval,
		now:      time.Now,
		current:  BaseCode,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheTTL == 0 {
		e.cacheTTL = e.interval
	}
	e.table = FallbackTable(e.now())
	e.lastUpdated = e.table.FetchedAt
	return e
}

// Initialize restores the saved display currency, seeds rates from the
// cache, refreshes once and starts the periodic refresh. Calling it again
// is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	code := e.loadPreference(ctx)
	seeded, ok := e.seedFromCache(ctx)

	e.mu.Lock()
	e.current = code
	if ok {
		e.table = seeded
		e.lastUpdated = seeded.FetchedAt
	}
	e.notifyLocked()
	e.mu.Unlock()

	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("initial rate refresh failed, serving cached rates", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return ErrEngineClosed
	}
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.refreshLoop(loopCtx)
	return nil
}

func (e *Engine) loadPreference(ctx context.Context) Code {
	if e.prefs == nil {
		return BaseCode
	}
	code, err := e.prefs.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoPreference) {
			e.logger.Warn("ignoring saved currency preference", zap.Error(err))
		}
		return BaseCode
	}
	if _, ok := Lookup(code); !ok {
		return BaseCode
	}
	return code
}

// seedFromCache returns the mirrored table even if expired; any live table
// beats the fallback until the first refresh lands
func (e *Engine) seedFromCache(ctx context.Context) (RateTable, bool) {
	if e.cache == nil {
		return RateTable{}, false
	}
	table, ok := cachemanager.GetStale[RateTable](ctx, e.cache, RatesCacheKey)
	if !ok {
		return RateTable{}, false
	}
	if err := table.Validate(); err != nil {
		e.logger.Warn("discarding cached rate table", zap.Error(err))
		return RateTable{}, false
	}
	return table, true
}

func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrEngineClosed) {
				e.logger.Warn("scheduled rate refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh fetches a new table and swaps it in. On failure the current table
// and LastUpdated are kept and the engine is marked degraded. A result that
// arrives after Close is discarded.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	table, err := e.source.FetchRates(ctx)
	if err == nil {
		err = table.Validate()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err == nil && table.IsFallback && !e.table.IsFallback {
		// A fallback reply never displaces live rates, even stale ones
		err = fmt.Errorf("%w: server is serving fallback rates", ErrSourceUnavailable)
	}
	if err != nil {
		e.degraded = true
		e.notifyLocked()
		return err
	}
	e.table = table
	e.lastUpdated = table.FetchedAt
	if e.lastUpdated.IsZero() {
		e.lastUpdated = e.now()
	}
	e.degraded = table.IsFallback
	e.notifyLocked()

	if e.cache != nil && !table.IsFallback {
		cachemanager.Set(ctx, e.cache, RatesCacheKey, table, e.cacheTTL)
	}
	return nil
}

// ChangeCurrency switches the display currency and persists it. Unknown
// codes are ignored and false is returned.
func (e *Engine) ChangeCurrency(ctx context.Context, code string) bool {
	parsed, ok := ParseCode(code)
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.current = parsed
	e.notifyLocked()
	e.mu.Unlock()

	if e.prefs != nil {
		if err := e.prefs.Save(ctx, parsed); err != nil {
			e.logger.Warn("failed to persist currency preference", zap.String("code", string(parsed)), zap.Error(err))
		}
	}
	return true
}

// Current returns the display currency with its current rate
func (e *Engine) Current() Currency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentLocked()
}

func (e *Engine) currentLocked() Currency {
	c, _ := Lookup(e.current)
	c.Rate = e.table.Rate(e.current)
	return c
}

// Convert converts a base amount into the display currency
func (e *Engine) Convert(amountInBase decimal.Decimal) decimal.Decimal {
	c := e.Current()
	return Convert(amountInBase, c.Rate)
}

// Format converts a base amount and renders it in the display currency
func (e *Engine) Format(amountInBase decimal.Decimal) string {
	c := e.Current()
	return Format(Convert(amountInBase, c.Rate), c)
}

// Table returns the rate table in effect
func (e *Engine) Table() RateTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// Degraded reports whether the last refresh failed
func (e *Engine) Degraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// Snapshot returns the current state
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Current:     e.currentLocked(),
		Currencies:  e.table.Currencies(),
		LastUpdated: e.lastUpdated,
		IsFallback:  e.table.IsFallback,
		Degraded:    e.degraded,
	}
}

// Subscribe returns a channel receiving the latest Snapshot after each state
// change. Slow readers only see the most recent one. The channel is closed
// by Close.
func (e *Engine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subscribers = append(e.subscribers, ch)
	return ch
}

func (e *Engine) notifyLocked() {
	if len(e.subscribers) == 0 {
		return
	}
	snap := e.snapshotLocked()
	for _, ch := range e.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close stops the periodic refresh and waits for it to exit. Safe to call
// more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	e.mu.Unlock()

	e.wg.Wait()
}
