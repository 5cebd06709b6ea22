package domain

import "time"

// Proxy is one outbound HTTP proxy in C1's pool, carrying per-proxy and
// per-exchange rate-limit state.
type Proxy struct {
	ID                  string
	Host                string
	Port                int
	Protocol            string
	Username            string
	Password            string
	Status              ProxyStatus
	Total               int64
	Successful          int64
	Failed              int64
	ConsecutiveFailures int
	AvgResponseTimeMS   float64
	LastUsedAt          time.Time
	LimitedUntil        map[Exchange]time.Time
}

// IsViable reports whether this proxy may be selected for exchange now:
// ACTIVE and not currently rate-limited for that exchange.
func (p *Proxy) IsViable(exchange Exchange, now time.Time) bool {
	if p.Status != ProxyActive {
		return false
	}
	if until, ok := p.LimitedUntil[exchange]; ok && now.Before(until) {
		return false
	}
	return true
}

// SuccessRate is used as the pick() tiebreaker after recency.
func (p *Proxy) SuccessRate() float64 {
	if p.Total == 0 {
		return 1.0 // untested proxies are optimistically preferred once LRU ties
	}
	return float64(p.Successful) / float64(p.Total)
}

// Record updates counters per one fetch attempt outcome (§4.1 record()).
// consecutiveFailureLimit is 5 per spec; rateLimitCooldown is the default
// 60s window a rate-limited proxy is benched for, per exchange.
func (p *Proxy) Record(exchange Exchange, success bool, latencyMS float64, rateLimited bool, now time.Time, consecutiveFailureLimit int, rateLimitCooldown time.Duration) {
	p.Total++
	p.LastUsedAt = now
	if p.AvgResponseTimeMS == 0 {
		p.AvgResponseTimeMS = latencyMS
	} else {
		p.AvgResponseTimeMS = (p.AvgResponseTimeMS*float64(p.Total-1) + latencyMS) / float64(p.Total)
	}

	if success {
		p.Successful++
		p.ConsecutiveFailures = 0
	} else {
		p.Failed++
		p.ConsecutiveFailures++
		if p.ConsecutiveFailures >= consecutiveFailureLimit {
			p.Status = ProxyDisabled
		}
	}

	if rateLimited {
		if p.LimitedUntil == nil {
			p.LimitedUntil = make(map[Exchange]time.Time)
		}
		p.LimitedUntil[exchange] = now.Add(rateLimitCooldown)
	}
}
