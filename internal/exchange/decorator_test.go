package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/ratelimit"
	"whalecopy/internal/sharedstate"
)

func TestWithResilienceSucceedsOnFirstAttempt(t *testing.T) {
	shared := sharedstate.NewMemory()
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig(), shared)
	limiter := ratelimit.New(shared)
	calls := 0

	err := withResilience(context.Background(), "BINANCE", breakers, limiter, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithResilienceShortCircuitsWhenBreakerOpen(t *testing.T) {
	shared := sharedstate.NewMemory()
	breakers := breaker.NewRegistry(domain.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: time.Hour, SuccessThreshold: 1}, shared)
	breakers.RecordFailure("BINANCE", time.Now())
	limiter := ratelimit.New(shared)
	calls := 0

	err := withResilience(context.Background(), "BINANCE", breakers, limiter, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	require.Error(t, err)
	assert.IsType(t, &domain.CircuitOpenError{}, err)
	assert.Equal(t, 0, calls, "an open circuit must never invoke the wrapped call")
}

func TestWithResilienceRetriesOnceOnNonRateLimitFailure(t *testing.T) {
	shared := sharedstate.NewMemory()
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig(), shared)
	limiter := ratelimit.New(shared)
	calls := 0

	err := withResilience(context.Background(), "BINANCE", breakers, limiter, func(ctx context.Context) (bool, error) {
		calls++
		return false, &domain.ExchangeAPIError{Venue: "BINANCE", Message: "boom"}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "a transient non-rate-limit failure retries exactly once")
}

func TestWithResilienceSucceedsAfterOneTransientFailure(t *testing.T) {
	shared := sharedstate.NewMemory()
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig(), shared)
	limiter := ratelimit.New(shared)
	calls := 0

	err := withResilience(context.Background(), "BINANCE", breakers, limiter, func(ctx context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, &domain.ExchangeAPIError{Venue: "BINANCE", Message: "boom"}
		}
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
