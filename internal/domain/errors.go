package domain

import "fmt"

// ValidationError covers risk-gate, sizing and adapter-precision rejections.
// It aborts the trade with no state change and is returned to the caller
// with its reason — never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// InsufficientBalanceError is raised by the Phase-1 re-check; it aborts
// before any reservation is made.
type InsufficientBalanceError struct {
	Required  string
	Available string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Available)
}

// CircuitOpenError is raised by C2's can_execute pre-check. It is
// non-retryable: if raised before Phase 1 no Trade is created; if raised
// between phases the reservation is rolled back cleanly.
type CircuitOpenError struct {
	Service       string
	TimeRemaining string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Service, e.TimeRemaining)
}

// RateLimitedError is surfaced only once backoff retries are exhausted.
type RateLimitedError struct {
	Exchange       string
	BackoffSeconds float64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, backoff %.1fs", e.Exchange, e.BackoffSeconds)
}

// ExchangeAPIError wraps a generic venue error string. Retried once; a
// second failure drives Phase 2B rollback.
type ExchangeAPIError struct {
	Venue   string
	Message string
}

func (e *ExchangeAPIError) Error() string { return fmt.Sprintf("%s: %s", e.Venue, e.Message) }

// NeedsReconciliationError marks a Trade whose true exchange-side state is
// unknown because the confirm step failed or an exception occurred between
// the exchange call and the DB update. A separate reconciliation process
// finalizes it against the exchange's authoritative order-status API.
type NeedsReconciliationError struct {
	TradeID         int64
	ExchangeOrderID string
	Cause           error
}

func (e *NeedsReconciliationError) Error() string {
	return fmt.Sprintf("trade %d needs reconciliation (order %s): %v", e.TradeID, e.ExchangeOrderID, e.Cause)
}

func (e *NeedsReconciliationError) Unwrap() error { return e.Cause }

// FatalError signals a precondition violation: a programmer error with no
// retry path, surfaced as-is.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }
