package domain

import "time"

// CircuitConfig is the per-service tunable for C2, with the spec's defaults.
type CircuitConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// DefaultCircuitConfig returns the §4.2 defaults:
// failure_threshold=5, failure_window=60s, reset_timeout=30s, success_threshold=2.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitRecord is the per-service shared breaker state, stored in a
// process-wide (or Redis-backed) cache so concurrent workers agree.
type CircuitRecord struct {
	Service      string
	State        BreakerState
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
}
