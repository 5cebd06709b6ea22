// Package fetcher implements C4: given a batch of whales, concurrently
// fetch each whale's current position set through the right adapter and
// proxy, under a global semaphore and a per-exchange semaphore, with one
// retry on fresh proxy selection and rate-limit-aware bounded backoff.
//
// Concurrency gating uses golang.org/x/sync/semaphore.Weighted (promoted
// from an unused indirect teacher dependency to direct use) rather than the
// teacher's one-goroutine-per-symbol idiom in predator_engine.go, since this
// component's contract is expressed directly in terms of weighted capacity
// caps, which is exactly what semaphore.Weighted models.
package fetcher

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/proxypool"
	"whalecopy/internal/ratelimit"
)

// PositionAdapter is the narrow per-exchange capability C4 needs: fetch a
// whale's current open positions through a specific proxy. The whalefeed
// package supplies one implementation per venue; the Exchange Port (C9)
// adapters do not implement it.
type PositionAdapter interface {
	FetchPositions(ctx context.Context, client *http.Client, proxy *domain.Proxy, whale *domain.Whale) ([]domain.WhalePosition, FetchOutcome, error)
}

// FetchOutcome carries the raw classification signals a PositionAdapter
// observed, so the fetcher can tell a rate-limit from a generic failure
// without knowing venue-specific error shapes.
type FetchOutcome struct {
	StatusCode  int
	Body        string
	RateLimited bool
	LatencyMS   float64
}

// FetchResult is the per-whale outcome defined in §4.4.
type FetchResult struct {
	Whale       *domain.Whale
	Success     bool
	Positions   []domain.WhalePosition
	Err         error
	LatencyMS   float64
	ProxyID     string
	RateLimited bool
}

// exchangeCaps are the §4.4 per-venue concurrency caps.
var exchangeCaps = map[domain.Exchange]int64{
	domain.ExchangeBinance:     10,
	domain.ExchangeBybit:       5,
	domain.ExchangeOKX:         3,
	domain.ExchangeBitget:      3,
	domain.ExchangeHyperliquid: 10,
}

const defaultGlobalCap = 25

// Fetcher dispatches fetch tasks under the global + per-exchange semaphores
// and the Rate-Limit Manager / Proxy Pool gates.
type Fetcher struct {
	global    *semaphore.Weighted
	perVenue  map[domain.Exchange]*semaphore.Weighted
	adapters  map[domain.Exchange]PositionAdapter
	proxies   *proxypool.Pool
	limiter   *ratelimit.Manager
	breakers  *breaker.Registry
	client    *http.Client
}

// Config overrides the fetcher's default caps and timeouts; zero-value
// fields fall back to the §4.4 defaults.
type Config struct {
	GlobalCap      int64
	PerVenueCaps   map[domain.Exchange]int64
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	PoolTimeout    time.Duration
}

// New builds a Fetcher. adapters maps each supported exchange to its
// PositionAdapter implementation.
func New(adapters map[domain.Exchange]PositionAdapter, proxies *proxypool.Pool, limiter *ratelimit.Manager, breakers *breaker.Registry, cfg Config) *Fetcher {
	globalCap := cfg.GlobalCap
	if globalCap == 0 {
		globalCap = defaultGlobalCap
	}
	perVenue := make(map[domain.Exchange]*semaphore.Weighted, len(exchangeCaps))
	for ex, venueCap := range exchangeCaps {
		c := venueCap
		if override, ok := cfg.PerVenueCaps[ex]; ok {
			c = override
		}
		perVenue[ex] = semaphore.NewWeighted(c)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	poolTimeout := cfg.PoolTimeout
	if poolTimeout == 0 {
		poolTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		DialContext:         dialer.DialContext,
		IdleConnTimeout:     poolTimeout,
	}

	return &Fetcher{
		global:   semaphore.NewWeighted(globalCap),
		perVenue: perVenue,
		adapters: adapters,
		proxies:  proxies,
		limiter:  limiter,
		breakers: breakers,
		client:   &http.Client{Transport: transport, Timeout: connectTimeout + readTimeout},
	}
}

// FetchBatch runs the §4.4 per-attempt flow concurrently for every whale in
// batch, returning one FetchResult per whale once all complete.
func (f *Fetcher) FetchBatch(ctx context.Context, exchange domain.Exchange, batch []*domain.Whale) []FetchResult {
	results := make([]FetchResult, len(batch))
	done := make(chan int, len(batch))

	for i, w := range batch {
		i, w := i, w
		go func() {
			results[i] = f.fetchOne(ctx, exchange, w)
			done <- i
		}()
	}
	for range batch {
		<-done
	}
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, exchange domain.Exchange, whale *domain.Whale) FetchResult {
	venueSem := f.perVenue[exchange]

	attempt := func() FetchResult {
		if ok, wait := f.breakers.CanExecute(string(exchange)); !ok {
			return FetchResult{Whale: whale, Err: &domain.CircuitOpenError{Service: string(exchange), TimeRemaining: wait.String()}}
		}
		if !f.limiter.CanProceed(exchange) {
			if !f.limiter.Wait(ctx, exchange) {
				return FetchResult{Whale: whale, Err: &domain.RateLimitedError{Exchange: string(exchange)}}
			}
		}

		if err := f.global.Acquire(ctx, 1); err != nil {
			return FetchResult{Whale: whale, Err: err}
		}
		defer f.global.Release(1)
		if err := venueSem.Acquire(ctx, 1); err != nil {
			return FetchResult{Whale: whale, Err: err}
		}
		defer venueSem.Release(1)

		proxy := f.proxies.Pick(exchange)

		adapter, ok := f.adapters[exchange]
		if !ok {
			return FetchResult{Whale: whale, Err: &domain.FatalError{Reason: "no adapter for " + string(exchange)}}
		}

		positions, outcome, err := adapter.FetchPositions(ctx, f.client, proxy, whale)
		success := err == nil

		if proxy != nil {
			f.proxies.Record(proxy, exchange, success, outcome.LatencyMS, outcome.RateLimited)
		}
		if outcome.RateLimited {
			f.limiter.RecordRateLimit(exchange)
		} else if success {
			f.limiter.RecordSuccess(exchange)
		}
		if success {
			f.breakers.RecordSuccess(string(exchange))
		} else if !outcome.RateLimited {
			f.breakers.RecordFailure(string(exchange), time.Now())
		}

		proxyID := ""
		if proxy != nil {
			proxyID = proxy.ID
		}
		return FetchResult{
			Whale:       whale,
			Success:     success,
			Positions:   positions,
			Err:         err,
			LatencyMS:   outcome.LatencyMS,
			ProxyID:     proxyID,
			RateLimited: outcome.RateLimited,
		}
	}

	result := attempt()
	if !result.Success && !isCircuitOpen(result.Err) {
		// §4.4: up to 1 retry with a fresh proxy selection.
		result = attempt()
	}
	return result
}

func isCircuitOpen(err error) bool {
	_, ok := err.(*domain.CircuitOpenError)
	return ok
}
