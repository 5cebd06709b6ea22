// Package proxypool implements C1: a pool of outbound HTTP proxies with
// per-proxy and per-exchange rate-limit state, selected by least-recently-
// used then highest success rate, and auto-disabled after five consecutive
// failures. Grounded on the teacher's map+mutex state-holder idiom
// (predator_engine.go's GlobalExposureGuard) rather than a token-bucket
// library, since proxy scoring is a selection/ranking problem no retrieved
// dependency models directly.
package proxypool

import (
	"sort"
	"sync"
	"time"

	"whalecopy/internal/domain"
	"whalecopy/internal/sharedstate"
)

const defaultConsecutiveFailureLimit = 5
const defaultRateLimitCooldown = 60 * time.Second

// Pool is the process-local view of the proxy pool. Runtime state is
// additionally mirrored into a sharedstate.Store so multiple worker
// processes agree on which proxies are disabled or rate-limited.
type Pool struct {
	mu      sync.Mutex
	proxies map[string]*domain.Proxy
	order   []string // insertion order, used to break LRU ties deterministically
	shared  sharedstate.Store

	ConsecutiveFailureLimit int
	RateLimitCooldown       time.Duration
}

// New builds a pool from a static proxy list (as loaded from PROXY_LIST /
// PROXY_POOL_FILE, see SPEC_FULL.md §6).
func New(proxies []*domain.Proxy, shared sharedstate.Store) *Pool {
	p := &Pool{
		proxies:                 make(map[string]*domain.Proxy, len(proxies)),
		shared:                  shared,
		ConsecutiveFailureLimit: defaultConsecutiveFailureLimit,
		RateLimitCooldown:       defaultRateLimitCooldown,
	}
	for _, px := range proxies {
		if px.Status == "" {
			px.Status = domain.ProxyActive
		}
		p.proxies[px.ID] = px
		p.order = append(p.order, px.ID)
	}
	return p
}

// Pick returns the best available proxy for exchange: ACTIVE, not rate-
// limited for it, preferring least-recently-used then highest success rate.
// Returns nil if the pool has no viable proxy.
func (p *Pool) Pick(exchange domain.Exchange) *domain.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var candidates []*domain.Proxy
	for _, id := range p.order {
		px := p.proxies[id]
		if px.IsViable(exchange, now) {
			candidates = append(candidates, px)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].LastUsedAt.Equal(candidates[j].LastUsedAt) {
			return candidates[i].LastUsedAt.Before(candidates[j].LastUsedAt)
		}
		return candidates[i].SuccessRate() > candidates[j].SuccessRate()
	})
	return candidates[0]
}

// Record updates counters for one fetch attempt outcome and mirrors the
// resulting state into the shared store keyed proxy:<id>:state, per §6.
func (p *Pool) Record(proxy *domain.Proxy, exchange domain.Exchange, success bool, latencyMS float64, rateLimited bool) {
	p.mu.Lock()
	proxy.Record(exchange, success, latencyMS, rateLimited, time.Now(), p.ConsecutiveFailureLimit, p.RateLimitCooldown)
	snapshot := *proxy
	p.mu.Unlock()

	if p.shared != nil {
		p.shared.SetJSON("proxy:"+proxy.ID+":state", snapshot, 24*time.Hour)
	}
}

// Disable marks a proxy DISABLED by operator action; it is never returned by
// Pick again until re-enabled.
func (p *Pool) Disable(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if px, ok := p.proxies[id]; ok {
		px.Status = domain.ProxyDisabled
	}
}

// Enable reinstates a previously disabled proxy, the only path back to
// ACTIVE per §4.1's failure policy.
func (p *Pool) Enable(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if px, ok := p.proxies[id]; ok {
		px.Status = domain.ProxyActive
		px.ConsecutiveFailures = 0
	}
}

// Snapshot returns a defensive copy of all proxies, for health/reporting.
func (p *Pool) Snapshot() []domain.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Proxy, 0, len(p.proxies))
	for _, id := range p.order {
		out = append(out, *p.proxies[id])
	}
	return out
}
