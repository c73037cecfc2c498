package exchangerates

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/storefront/internal/cachemanager"
	"github.com/richxcame/storefront/internal/currency"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const testAdminKey = "s3cret-admin-key"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *testClock { return &testClock{now: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingSource returns whatever fetch returns and counts calls
type countingSource struct {
	calls atomic.Int32
	fetch func(ctx context.Context) FetchResult
}

func (s *countingSource) Fetch(ctx context.Context) FetchResult {
	s.calls.Add(1)
	return s.fetch(ctx)
}

func liveSource(clock *testClock, usd, eur, gbp string) *countingSource {
	return &countingSource{fetch: func(context.Context) FetchResult {
		table, err := currency.NewRateTable(map[currency.Code]decimal.Decimal{
			currency.CodeUSD: d(usd),
			currency.CodeEUR: d(eur),
			currency.CodeGBP: d(gbp),
		}, clock.Now(), false)
		if err != nil {
			return FetchResult{Err: err}
		}
		return FetchResult{Table: &table}
	}}
}

func downSource() *countingSource {
	return &countingSource{fetch: func(context.Context) FetchResult {
		return FetchResult{Err: ErrSourceUnavailable}
	}}
}

func newTestCache(source Source, clock *testClock, opts ...Option) *RateCache {
	opts = append([]Option{
		WithNow(clock.Now),
		WithLogger(zap.NewNop()),
		WithAdminKey(testAdminKey),
	}, opts...)
	return NewRateCache(source, opts...)
}

// ---------------------------------------------------------------------------
// GetRates
// ---------------------------------------------------------------------------

func TestGetRates_LiveFetchThenHit(t *testing.T) {
	clock := newClock()
	source := liveSource(clock, "0.0013", "0.0012", "0.0009")
	cache := newTestCache(source, clock)

	assert.Equal(t, StateEmpty, cache.State())

	table, status := cache.GetRates(context.Background())
	assertRates(t, table, "1", "0.0013", "0.0012", "0.0009")
	assert.False(t, table.IsFallback)
	assert.Equal(t, Status{}, status)
	assert.Equal(t, StateFresh, cache.State())

	clock.Advance(59 * time.Minute)
	again, status := cache.GetRates(context.Background())
	assert.True(t, status.Cached)
	assert.True(t, table.Equal(again))
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestGetRates_RefetchesAfterWindow(t *testing.T) {
	clock := newClock()
	source := liveSource(clock, "0.0013", "0.0012", "0.0009")
	cache := newTestCache(source, clock)

	cache.GetRates(context.Background())
	clock.Advance(time.Hour)
	assert.Equal(t, StateStale, cache.State())

	table, status := cache.GetRates(context.Background())
	assert.False(t, status.Cached)
	assert.Equal(t, clock.Now(), table.FetchedAt)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestGetRates_ProviderTimeoutServesFallback(t *testing.T) {
	p := &provider{status: http.StatusOK, body: `{"rates":{"USD":0.5}}`, delay: time.Second}
	clock := newClock()
	cache := newTestCache(newTestSource(t, p, WithTimeout(50*time.Millisecond)), clock)

	table, status := cache.GetRates(context.Background())

	assertRates(t, table, "1", "0.0012", "0.0011", "0.00095")
	assert.True(t, table.IsFallback)
	assert.True(t, status.Fallback)
	assert.False(t, status.Cached)
	assert.ErrorIs(t, status.Err, ErrSourceUnavailable)
	assert.Equal(t, StateEmpty, cache.State(), "fallback is never stored")
}

func TestGetRates_FailureServesStaleLiveTable(t *testing.T) {
	clock := newClock()
	source := liveSource(clock, "0.0013", "0.0012", "0.0009")
	cache := newTestCache(source, clock)
	live, _ := cache.GetRates(context.Background())

	clock.Advance(2 * time.Hour)
	source.fetch = downSource().fetch

	table, status := cache.GetRates(context.Background())
	assert.True(t, live.Equal(table))
	assert.True(t, status.Cached)
	assert.False(t, status.Fallback)
	assert.ErrorIs(t, status.Err, ErrSourceUnavailable)
	assert.Equal(t, StateStale, cache.State())

	cache.GetRates(context.Background())
	assert.Equal(t, int32(3), source.calls.Load(), "a stale slot retries on every call")
}

func TestGetRates_NeverEmptyUnderAlwaysFailingSource(t *testing.T) {
	clock := newClock()
	cache := newTestCache(downSource(), clock)

	for i := 0; i < 20; i++ {
		table, status := cache.GetRates(context.Background())
		require.NoError(t, table.Validate())
		assert.True(t, table.IsFallback)
		assert.True(t, status.Fallback)
		assert.Len(t, table.Rates, 4)
		assert.True(t, table.Rate(currency.BaseCode).Equal(decimal.NewFromInt(1)))
		clock.Advance(10 * time.Minute)
	}
}

func TestGetRates_RejectsInvalidTableFromSource(t *testing.T) {
	clock := newClock()
	source := &countingSource{fetch: func(context.Context) FetchResult {
		return FetchResult{Table: &currency.RateTable{Rates: map[currency.Code]decimal.Decimal{currency.CodeNGN: d("1")}}}
	}}
	cache := newTestCache(source, clock)

	table, status := cache.GetRates(context.Background())
	assert.True(t, status.Fallback)
	assert.NoError(t, table.Validate())
}

func TestGetRates_ConcurrentCallersShareOneFetch(t *testing.T) {
	clock := newClock()
	release := make(chan struct{})
	live := liveSource(clock, "0.0013", "0.0012", "0.0009")
	source := &countingSource{fetch: func(ctx context.Context) FetchResult {
		<-release
		return live.fetch(ctx)
	}}
	cache := newTestCache(source, clock)

	const callers = 25
	var wg sync.WaitGroup
	results := make([]currency.RateTable, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = cache.GetRates(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return source.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
	for _, table := range results {
		assertRates(t, table, "1", "0.0013", "0.0012", "0.0009")
	}
}

func TestGetRates_CancelledCallerDoesNotFailFetch(t *testing.T) {
	clock := newClock()
	live := liveSource(clock, "0.0013", "0.0012", "0.0009")
	source := &countingSource{fetch: func(ctx context.Context) FetchResult {
		if ctx.Err() != nil {
			return FetchResult{Err: ctx.Err()}
		}
		return live.fetch(ctx)
	}}
	cache := newTestCache(source, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	table, status := cache.GetRates(ctx)
	assert.NoError(t, status.Err)
	assert.False(t, table.IsFallback)
}

// ---------------------------------------------------------------------------
// SetManualRates
// ---------------------------------------------------------------------------

func TestSetManualRates_WrongKeyLeavesCacheUnchanged(t *testing.T) {
	clock := newClock()
	cache := newTestCache(liveSource(clock, "0.0013", "0.0012", "0.0009"), clock)
	before, _ := cache.GetRates(context.Background())

	_, err := cache.SetManualRates(context.Background(), map[string]float64{"USD": 0.5}, "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	after, status := cache.GetRates(context.Background())
	assert.True(t, status.Cached)
	assert.True(t, before.Equal(after))
}

func TestSetManualRates_NoAdminKeyConfigured(t *testing.T) {
	clock := newClock()
	cache := NewRateCache(downSource(), WithNow(clock.Now), WithLogger(zap.NewNop()))

	_, err := cache.SetManualRates(context.Background(), map[string]float64{"USD": 0.5}, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSetManualRates_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rates map[string]float64
	}{
		{"empty", map[string]float64{}},
		{"nil", nil},
		{"unknown code", map[string]float64{"JPY": 0.2}},
		{"zero", map[string]float64{"USD": 0}},
		{"negative", map[string]float64{"EUR": -0.001}},
		{"nan", map[string]float64{"GBP": math.NaN()}},
		{"infinite", map[string]float64{"GBP": math.Inf(1)}},
		{"base not one", map[string]float64{"NGN": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			cache := newTestCache(downSource(), clock)

			_, err := cache.SetManualRates(context.Background(), tt.rates, testAdminKey)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, StateEmpty, cache.State())
		})
	}
}

func TestSetManualRates_MergesAndResetsWindow(t *testing.T) {
	clock := newClock()
	source := liveSource(clock, "0.0013", "0.0012", "0.0009")
	cache := newTestCache(source, clock)
	cache.GetRates(context.Background())

	clock.Advance(59 * time.Minute)
	table, err := cache.SetManualRates(context.Background(), map[string]float64{"usd": 0.0015, "NGN": 1}, testAdminKey)
	require.NoError(t, err)
	assertRates(t, table, "1", "0.0015", "0.0012", "0.0009")
	assert.False(t, table.IsFallback)
	assert.Equal(t, clock.Now(), table.FetchedAt)

	clock.Advance(30 * time.Minute)
	served, status := cache.GetRates(context.Background())
	assert.True(t, status.Cached)
	assert.True(t, table.Equal(served))
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestSetManualRates_FromEmptyMergesOverFallback(t *testing.T) {
	clock := newClock()
	cache := newTestCache(downSource(), clock)

	table, err := cache.SetManualRates(context.Background(), map[string]float64{"GBP": 0.001}, testAdminKey)
	require.NoError(t, err)

	assertRates(t, table, "1", "0.0012", "0.0011", "0.001")
	assert.False(t, table.IsFallback)
	assert.Equal(t, StateFresh, cache.State())
}

func TestSetManualRates_WinsOverInFlightFetch(t *testing.T) {
	clock := newClock()
	release := make(chan struct{})
	started := make(chan struct{})
	live := liveSource(clock, "0.0013", "0.0012", "0.0009")
	source := &countingSource{fetch: func(ctx context.Context) FetchResult {
		close(started)
		<-release
		return live.fetch(ctx)
	}}
	cache := newTestCache(source, clock)

	done := make(chan currency.RateTable, 1)
	go func() {
		table, _ := cache.GetRates(context.Background())
		done <- table
	}()

	<-started
	clock.Advance(time.Second)
	manual, err := cache.SetManualRates(context.Background(), map[string]float64{"USD": 0.002}, testAdminKey)
	require.NoError(t, err)
	close(release)

	got := <-done
	assert.True(t, manual.Equal(got))
	assertRates(t, got, "1", "0.002", "0.0011", "0.00095")
}

// ---------------------------------------------------------------------------
// Snapshots and teardown
// ---------------------------------------------------------------------------

func TestSnapshots_RestoreAfterRestart(t *testing.T) {
	clock := newClock()
	storage := cachemanager.NewMemoryStorage(0)
	snapshots := cachemanager.NewManager(storage, "storefront", cachemanager.WithNow(clock.Now), cachemanager.WithLogger(zap.NewNop()))

	first := newTestCache(liveSource(clock, "0.0013", "0.0012", "0.0009"), clock, WithSnapshots(snapshots, 24*time.Hour))
	live, _ := first.GetRates(context.Background())
	first.Close()

	clock.Advance(2 * time.Hour)
	source := downSource()
	second := newTestCache(source, clock, WithSnapshots(snapshots, 24*time.Hour))
	require.True(t, second.Restore(context.Background()))
	assert.Equal(t, StateStale, second.State())

	table, status := second.GetRates(context.Background())
	assert.True(t, live.Equal(table))
	assert.True(t, status.Cached)
	assert.False(t, status.Fallback)
}

func TestSnapshots_RestoreIgnoredWhenSlotFilled(t *testing.T) {
	clock := newClock()
	snapshots := cachemanager.NewManager(cachemanager.NewMemoryStorage(0), "storefront", cachemanager.WithNow(clock.Now), cachemanager.WithLogger(zap.NewNop()))
	cache := newTestCache(liveSource(clock, "0.0013", "0.0012", "0.0009"), clock, WithSnapshots(snapshots, time.Hour))

	assert.False(t, cache.Restore(context.Background()), "nothing persisted yet")
	cache.GetRates(context.Background())
	assert.False(t, cache.Restore(context.Background()))
}

func TestClose(t *testing.T) {
	clock := newClock()
	source := liveSource(clock, "0.0013", "0.0012", "0.0009")
	cache := newTestCache(source, clock)
	cache.GetRates(context.Background())

	cache.Close()

	table, status := cache.GetRates(context.Background())
	assert.True(t, table.IsFallback)
	assert.True(t, errors.Is(status.Err, ErrClosed))
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, StateEmpty, cache.State())

	_, err := cache.SetManualRates(context.Background(), map[string]float64{"USD": 0.5}, testAdminKey)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "EMPTY", StateEmpty.String())
	assert.Equal(t, "FRESH", StateFresh.String())
	assert.Equal(t, "STALE", StateStale.String())
}
