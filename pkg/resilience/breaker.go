package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/richxcame/storefront/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call without executing it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings tunes a CircuitBreaker.
type Settings struct {
	Name             string
	Interval         time.Duration // closed-state window after which counts reset
	Timeout          time.Duration // how long the breaker stays open before probing
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // probes allowed while half-open
}

// Operation is a unit of work guarded by a breaker or retried.
type Operation func(ctx context.Context) (interface{}, error)

// CircuitBreaker wraps gobreaker with a fallback and Prometheus instrumentation.
type CircuitBreaker struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	fallback FallbackFunc
	metrics  *breakerMetrics
}

// NewCircuitBreaker creates a breaker. A nil fallback behaves like NoopFallback.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	if fallback == nil {
		fallback = NoopFallback
	}
	name := nextBreakerName(settings.Name)
	metrics := newBreakerMetrics(name)

	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := settings.SuccessThreshold
	if maxRequests == 0 {
		maxRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.transition(from, to)
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the health of the dependency
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	metrics.setState(cb.State())

	return &CircuitBreaker{name: name, breaker: cb, fallback: fallback, metrics: metrics}
}

// Name returns the breaker name used in logs and metrics.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State reports the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.breaker.State()
}

// Execute runs op through the breaker. When the breaker is open or saturated the
// fallback decides the result.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	if err == nil {
		b.metrics.successes.Inc()
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.metrics.rejected.Inc()
		return b.fallback(ctx, err)
	}

	b.metrics.failures.Inc()
	return nil, err
}
