package resilience

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_circuit_breaker_state",
		Help: "Current state of circuit breakers (0=closed, 0.5=half-open, 1=open)",
	}, []string{"breaker"})

	breakerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_circuit_breaker_calls_total",
		Help: "Calls through a circuit breaker by outcome (success, failure, rejected)",
	}, []string{"breaker", "outcome"})

	breakerStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_circuit_breaker_state_changes_total",
		Help: "Total number of circuit breaker state transitions",
	}, []string{"breaker", "from", "to"})

	breakerIDCounter uint64
)

// breakerMetrics holds the series of one breaker, bound once at construction
type breakerMetrics struct {
	name      string
	state     prometheus.Gauge
	successes prometheus.Counter
	failures  prometheus.Counter
	rejected  prometheus.Counter
}

func newBreakerMetrics(name string) *breakerMetrics {
	return &breakerMetrics{
		name:      name,
		state:     breakerStateGauge.WithLabelValues(name),
		successes: breakerCallsTotal.WithLabelValues(name, "success"),
		failures:  breakerCallsTotal.WithLabelValues(name, "failure"),
		rejected:  breakerCallsTotal.WithLabelValues(name, "rejected"),
	}
}

func (m *breakerMetrics) setState(state gobreaker.State) {
	m.state.Set(breakerStateValue(state))
}

func (m *breakerMetrics) transition(from, to gobreaker.State) {
	breakerStateTransitions.WithLabelValues(m.name, from.String(), to.String()).Inc()
	m.setState(to)
}

func nextBreakerName(base string) string {
	if base != "" {
		return base
	}
	id := atomic.AddUint64(&breakerIDCounter, 1)
	return "breaker-" + strconv.FormatUint(id, 10)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}
