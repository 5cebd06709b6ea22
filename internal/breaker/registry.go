// Package breaker implements C2: a per-service circuit breaker registry with
// CLOSED / OPEN / HALF_OPEN state shared across workers. Grounded on the
// teacher's GlobalExposureGuard (predator_engine.go) for the
// mutex-protected-map-of-state idiom, generalized from a single exposure
// guard into a per-service registry, and re-expressed per SPEC_FULL.md §9
// as an explicit higher-order wrapper rather than a Python decorator; that
// wrapper is exchange.WithRetryBreaker, which consults this registry.
package breaker

import (
	"sync"
	"time"

	"whalecopy/internal/domain"
	"whalecopy/internal/sharedstate"
)

// Registry holds one CircuitRecord per service name, each guarded
// independently so a slow service never blocks checks against another.
// Runtime state is additionally mirrored into a sharedstate.Store, the same
// way proxypool.Pool does, so every worker process observes the same
// OPEN/HALF_OPEN/CLOSED state for a given service instead of each keeping
// its own independent breaker.
type Registry struct {
	mu         sync.Mutex
	records    map[string]*domain.CircuitRecord
	failures   map[string][]time.Time // sliding window of CLOSED-state failure timestamps, per service
	configs    map[string]domain.CircuitConfig
	defaultCfg domain.CircuitConfig
	shared     sharedstate.Store
}

// NewRegistry builds an empty registry using defaultCfg for any service
// without an explicit override, mirroring state changes into shared.
func NewRegistry(defaultCfg domain.CircuitConfig, shared sharedstate.Store) *Registry {
	return &Registry{
		records:    make(map[string]*domain.CircuitRecord),
		failures:   make(map[string][]time.Time),
		configs:    make(map[string]domain.CircuitConfig),
		defaultCfg: defaultCfg,
		shared:     shared,
	}
}

func (r *Registry) mirror(rec *domain.CircuitRecord) {
	if r.shared == nil {
		return
	}
	r.shared.SetJSON("cb:"+rec.Service+":state", *rec, 24*time.Hour)
}

// Configure overrides the breaker config for one service name.
func (r *Registry) Configure(service string, cfg domain.CircuitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[service] = cfg
}

func (r *Registry) recordFor(service string) (*domain.CircuitRecord, domain.CircuitConfig) {
	rec, ok := r.records[service]
	if !ok {
		rec = &domain.CircuitRecord{Service: service, State: domain.BreakerClosed}
		r.records[service] = rec
	}
	cfg, ok := r.configs[service]
	if !ok {
		cfg = r.defaultCfg
	}
	return rec, cfg
}

// CanExecute implements §4.2's can_execute: CLOSED -> true; OPEN -> if
// reset_timeout has elapsed since opened_at, transition to HALF_OPEN and
// return true, else false; HALF_OPEN -> true.
func (r *Registry) CanExecute(service string) (bool, time.Duration) {
	r.mu.Lock()
	rec, cfg := r.recordFor(service)
	now := time.Now()

	var ok bool
	var wait time.Duration
	transitioned := false

	switch rec.State {
	case domain.BreakerClosed, domain.BreakerHalfOpen:
		ok = true
	case domain.BreakerOpen:
		elapsed := now.Sub(rec.OpenedAt)
		if elapsed >= cfg.ResetTimeout {
			rec.State = domain.BreakerHalfOpen
			rec.SuccessCount = 0
			ok = true
			transitioned = true
		} else {
			wait = cfg.ResetTimeout - elapsed
		}
	default:
		ok = true
	}
	snapshot := *rec
	r.mu.Unlock()

	if transitioned {
		r.mirror(&snapshot)
	}
	return ok, wait
}

// RecordSuccess implements §4.2's record_success: CLOSED resets the failure
// count; HALF_OPEN increments the success count and transitions to CLOSED
// once success_threshold is reached.
func (r *Registry) RecordSuccess(service string) {
	r.mu.Lock()
	rec, cfg := r.recordFor(service)
	switch rec.State {
	case domain.BreakerClosed:
		rec.FailureCount = 0
		r.failures[service] = nil
	case domain.BreakerHalfOpen:
		rec.SuccessCount++
		if rec.SuccessCount >= cfg.SuccessThreshold {
			rec.State = domain.BreakerClosed
			rec.FailureCount = 0
			rec.SuccessCount = 0
			r.failures[service] = nil
		}
	}
	snapshot := *rec
	r.mu.Unlock()

	r.mirror(&snapshot)
}

// RecordFailure implements §4.2's record_failure: HALF_OPEN immediately
// re-OPENs on any failure during the probe; CLOSED increments a
// sliding-window failure count and OPENs once failure_threshold is reached
// within failure_window.
func (r *Registry) RecordFailure(service string, now time.Time) {
	r.mu.Lock()
	rec, cfg := r.recordFor(service)
	switch rec.State {
	case domain.BreakerHalfOpen:
		rec.State = domain.BreakerOpen
		rec.OpenedAt = now
		rec.SuccessCount = 0
	case domain.BreakerClosed:
		window := append(r.failures[service], now)
		cutoff := now.Add(-cfg.FailureWindow)
		kept := window[:0]
		for _, t := range window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		r.failures[service] = kept
		rec.FailureCount = len(kept)
		if rec.FailureCount >= cfg.FailureThreshold {
			rec.State = domain.BreakerOpen
			rec.OpenedAt = now
			r.failures[service] = nil
		}
	}
	snapshot := *rec
	r.mu.Unlock()

	r.mirror(&snapshot)
}

// Snapshot returns the current state of one service's breaker, for
// reporting/health endpoints.
func (r *Registry) Snapshot(service string) domain.CircuitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, _ := r.recordFor(service)
	return *rec
}
