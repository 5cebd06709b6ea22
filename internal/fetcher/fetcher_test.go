package fetcher

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/proxypool"
	"whalecopy/internal/ratelimit"
	"whalecopy/internal/sharedstate"
)

type fakeAdapter struct {
	positions []domain.WhalePosition
	outcome   FetchOutcome
	err       error
	calls     int
}

func (a *fakeAdapter) FetchPositions(ctx context.Context, client *http.Client, proxy *domain.Proxy, whale *domain.Whale) ([]domain.WhalePosition, FetchOutcome, error) {
	a.calls++
	return a.positions, a.outcome, a.err
}

func newFetcherFor(adapter PositionAdapter) *Fetcher {
	shared := sharedstate.NewMemory()
	proxies := proxypool.New(nil, shared)
	limiter := ratelimit.New(shared)
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig(), shared)
	return New(map[domain.Exchange]PositionAdapter{domain.ExchangeBinance: adapter}, proxies, limiter, breakers, Config{})
}

func TestFetchBatchSucceedsForEveryWhale(t *testing.T) {
	adapter := &fakeAdapter{positions: []domain.WhalePosition{{Symbol: "BTCUSDT"}}}
	f := newFetcherFor(adapter)

	batch := []*domain.Whale{{ID: 1}, {ID: 2}, {ID: 3}}
	results := f.FetchBatch(context.Background(), domain.ExchangeBinance, batch)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Len(t, r.Positions, 1)
	}
}

func TestFetchOneRetriesOnceOnFailure(t *testing.T) {
	adapter := &fakeAdapter{err: &domain.ExchangeAPIError{Venue: "BINANCE", Message: "boom"}}
	f := newFetcherFor(adapter)

	result := f.fetchOne(context.Background(), domain.ExchangeBinance, &domain.Whale{ID: 1})
	assert.False(t, result.Success)
	assert.Equal(t, 2, adapter.calls, "a non-circuit failure must be retried exactly once")
}

func TestFetchOneDoesNotRetryWhenCircuitOpen(t *testing.T) {
	adapter := &fakeAdapter{}
	shared := sharedstate.NewMemory()
	proxies := proxypool.New(nil, shared)
	limiter := ratelimit.New(shared)
	breakers := breaker.NewRegistry(domain.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: time.Hour, SuccessThreshold: 1}, shared)
	breakers.RecordFailure(string(domain.ExchangeBinance), time.Now())

	f := New(map[domain.Exchange]PositionAdapter{domain.ExchangeBinance: adapter}, proxies, limiter, breakers, Config{})
	result := f.fetchOne(context.Background(), domain.ExchangeBinance, &domain.Whale{ID: 1})

	assert.Error(t, result.Err)
	assert.IsType(t, &domain.CircuitOpenError{}, result.Err)
	assert.Equal(t, 0, adapter.calls, "an open circuit must short-circuit before touching the adapter at all")
}

func TestFetchOneReturnsFatalErrorForUnmappedExchange(t *testing.T) {
	f := newFetcherFor(&fakeAdapter{})
	result := f.fetchOne(context.Background(), domain.ExchangeBybit, &domain.Whale{ID: 1})
	assert.Error(t, result.Err)
}
