package resilience

import (
	"time"

	"github.com/richxcame/storefront/pkg/config"
)

// SettingsForExchangeRates derives breaker settings for the rate provider.
// A zero or negative knob falls back to a conservative default.
func SettingsForExchangeRates(name string, cfg config.ExchangeRatesConfig) Settings {
	timeout := time.Duration(cfg.BreakerTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}

	return Settings{
		Name:             name,
		Interval:         cfg.FreshnessWindow(),
		Timeout:          timeout,
		FailureThreshold: uint32(threshold),
		SuccessThreshold: 1,
	}
}
