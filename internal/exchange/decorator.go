package exchange

import (
	"context"
	"errors"
	"time"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/ratelimit"
)

// call is the shape every outbound adapter operation reduces to, for the
// purposes of the resilience decorator: an operation that may succeed,
// fail transiently (network, rate limit), or fail permanently.
type call func(ctx context.Context) (rateLimited bool, err error)

// withResilience wraps call with (a) circuit-breaker-guarded fast-fail,
// checked first, and (b) retry-with-backoff for transient errors, checked
// second — "breaker outermost, retry inside" per §4.9/§9. Both are
// consulted in this order before any outbound call is attempted.
func withResilience(ctx context.Context, service string, breakers *breaker.Registry, limiter *ratelimit.Manager, fn call) error {
	if ok, wait := breakers.CanExecute(service); !ok {
		return &domain.CircuitOpenError{Service: service, TimeRemaining: wait.String()}
	}

	const maxAttempts = 2 // §4.9: retry-with-backoff for transient errors, §7: retry once
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rateLimited, err := fn(ctx)
		if err == nil {
			breakers.RecordSuccess(service)
			limiter.RecordSuccess(domain.Exchange(service))
			return nil
		}
		lastErr = err

		// Validation and fatal errors are never retried and say nothing
		// about the venue's health, so they return at once without a
		// breaker failure.
		var validationErr *domain.ValidationError
		var fatalErr *domain.FatalError
		if errors.As(err, &validationErr) || errors.As(err, &fatalErr) {
			return err
		}

		if rateLimited {
			backoff := limiter.RecordRateLimit(domain.Exchange(service))
			if attempt == maxAttempts-1 {
				break
			}
			wait := backoff
			if wait > 10*time.Second {
				wait = 10 * time.Second
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		// any other failure, a 4xx ExchangeAPIError included, is retried
		// once and recorded against the breaker on the final failure.
		if attempt == maxAttempts-1 {
			breakers.RecordFailure(service, time.Now())
		}
	}
	return lastErr
}

// WithRetryBreaker returns a call-wrapping helper bound to one service's
// breaker and rate-limit state, for adapters to use on every outbound
// operation.
func WithRetryBreaker(breakers *breaker.Registry, limiter *ratelimit.Manager, service string) func(ctx context.Context, fn call) error {
	return func(ctx context.Context, fn call) error {
		return withResilience(ctx, service, breakers, limiter, fn)
	}
}
