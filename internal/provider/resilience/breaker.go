// Package resilience wraps outbound downloads (remote transit feeds) with a
// circuit breaker, bounded exponential retries and per-source health tracking.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds circuit breaker settings for one remote source.
type BreakerConfig struct {
	// MaxRequests allowed while half-open. Default: 1
	MaxRequests uint32

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 2 minutes
	OpenTimeout time.Duration

	// MinRequests before the failure ratio is considered. Default: 3
	MinRequests uint32

	// FailureRatio that trips the breaker. Default: 0.6
	FailureRatio float64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 2 * time.Minute
	}
	if c.MinRequests == 0 {
		c.MinRequests = 3
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	return c
}

// tripper returns the ReadyToTrip policy for the config.
func (c BreakerConfig) tripper() func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < c.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
}

func newBreaker(name string, cfg BreakerConfig, onChange func(string, gobreaker.State, gobreaker.State)) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.MaxRequests,
		Timeout:       cfg.OpenTimeout,
		ReadyToTrip:   cfg.tripper(),
		OnStateChange: onChange,
	})
}
