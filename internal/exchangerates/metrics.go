package exchangerates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ratesRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_exchange_rates_requests_total",
		Help: "Rate table lookups by how they were served (hit, miss, stale, fallback)",
	}, []string{"result"})

	ratesFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_exchange_rates_fetch_duration_seconds",
		Help:    "Duration of calls to the upstream rate provider",
		Buckets: prometheus.DefBuckets,
	})

	manualOverridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_exchange_rates_manual_overrides_total",
		Help: "Manual rate overrides by outcome",
	}, []string{"result"})
)

const (
	resultHit      = "hit"
	resultMiss     = "miss"
	resultStale    = "stale"
	resultFallback = "fallback"

	overrideApplied      = "applied"
	overrideUnauthorized = "unauthorized"
	overrideInvalid      = "invalid"
)
