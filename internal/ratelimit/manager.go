// Package ratelimit implements C3: per-exchange rate-limit state
// independent of individual proxies, with exponential backoff capped at
// 60s. Backoff curves are computed with github.com/jpillora/backoff
// (promoted from an unused indirect teacher dependency to direct use),
// whose Min/Max/Factor fields map directly onto the "2^n seconds up to 60s"
// rule in SPEC_FULL.md §4.3.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"whalecopy/internal/domain"
	"whalecopy/internal/sharedstate"
)

// boundedWait is the §4.3/§5 cap on how long any single caller waits for a
// rate-limit cooldown per attempt; excess waiting must be re-enqueued
// instead of blocked on.
const boundedWait = 10 * time.Second

type exchangeState struct {
	mu          sync.Mutex
	cooldownEnd time.Time
	backoff     *backoff.Backoff
}

// Manager holds one cooldown/backoff state machine per exchange. Cooldown
// state is additionally mirrored into a sharedstate.Store, the same way
// proxypool.Pool does, so every worker process backs off the same exchange
// together instead of each discovering the rate limit independently.
type Manager struct {
	mu     sync.Mutex
	states map[domain.Exchange]*exchangeState
	shared sharedstate.Store
}

// cooldownSnapshot is the JSON-mirrored view of one exchange's cooldown.
type cooldownSnapshot struct {
	CooldownEnd time.Time `json:"cooldown_end"`
}

// New constructs an empty rate-limit manager, mirroring cooldown changes
// into shared.
func New(shared sharedstate.Store) *Manager {
	return &Manager{states: make(map[domain.Exchange]*exchangeState), shared: shared}
}

func (m *Manager) mirror(exchange domain.Exchange, cooldownEnd time.Time) {
	if m.shared == nil {
		return
	}
	m.shared.SetJSON("ratelimit:"+string(exchange)+":state", cooldownSnapshot{CooldownEnd: cooldownEnd}, time.Hour)
}

func (m *Manager) stateFor(exchange domain.Exchange) *exchangeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[exchange]
	if !ok {
		st = &exchangeState{
			backoff: &backoff.Backoff{
				Min:    1 * time.Second,
				Max:    60 * time.Second,
				Factor: 2,
				Jitter: true,
			},
		}
		m.states[exchange] = st
	}
	return st
}

// CanProceed reports whether a caller may dispatch a request to exchange
// right now (no active cooldown).
func (m *Manager) CanProceed(exchange domain.Exchange) bool {
	st := m.stateFor(exchange)
	st.mu.Lock()
	defer st.mu.Unlock()
	return time.Now().After(st.cooldownEnd)
}

// RecordSuccess clears any backoff progression, per §4.3.
func (m *Manager) RecordSuccess(exchange domain.Exchange) {
	st := m.stateFor(exchange)
	st.mu.Lock()
	st.backoff.Reset()
	st.cooldownEnd = time.Time{}
	st.mu.Unlock()

	m.mirror(exchange, time.Time{})
}

// RecordRateLimit advances the exponential backoff and returns the new
// cooldown duration, capped at 60s.
func (m *Manager) RecordRateLimit(exchange domain.Exchange) time.Duration {
	st := m.stateFor(exchange)
	st.mu.Lock()
	d := st.backoff.Duration()
	st.cooldownEnd = time.Now().Add(d)
	cooldownEnd := st.cooldownEnd
	st.mu.Unlock()

	m.mirror(exchange, cooldownEnd)
	return d
}

// Wait blocks until exchange's cooldown clears, the bounded 10s per-attempt
// cap elapses, or ctx is done — whichever comes first. It returns true if
// the cooldown cleared within the bound, false if the caller should
// re-enqueue rather than keep waiting.
func (m *Manager) Wait(ctx context.Context, exchange domain.Exchange) bool {
	st := m.stateFor(exchange)
	st.mu.Lock()
	remaining := time.Until(st.cooldownEnd)
	st.mu.Unlock()

	if remaining <= 0 {
		return true
	}
	wait := remaining
	if wait > boundedWait {
		wait = boundedWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return remaining <= boundedWait
	case <-ctx.Done():
		return false
	}
}
