package proxypool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
	"whalecopy/internal/sharedstate"
)

func TestPickReturnsNilWhenEmpty(t *testing.T) {
	p := New(nil, sharedstate.NewMemory())
	assert.Nil(t, p.Pick(domain.ExchangeBinance))
}

func TestPickPrefersLeastRecentlyUsed(t *testing.T) {
	p := New([]*domain.Proxy{{ID: "a"}, {ID: "b"}}, sharedstate.NewMemory())

	first := p.Pick(domain.ExchangeBinance)
	require.NotNil(t, first)
	p.Record(first, domain.ExchangeBinance, true, 10, false)

	second := p.Pick(domain.ExchangeBinance)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID, "the just-used proxy must not be picked again while another is untouched")
}

func TestProxyAutoDisablesAfterConsecutiveFailures(t *testing.T) {
	p := New([]*domain.Proxy{{ID: "a"}}, sharedstate.NewMemory())
	p.ConsecutiveFailureLimit = 3

	px := p.Pick(domain.ExchangeBinance)
	require.NotNil(t, px)
	for i := 0; i < 3; i++ {
		p.Record(px, domain.ExchangeBinance, false, 10, false)
	}

	assert.Nil(t, p.Pick(domain.ExchangeBinance), "a proxy must auto-disable after hitting the consecutive failure limit")
}

func TestProxyRateLimitedForOneExchangeStillViableForAnother(t *testing.T) {
	p := New([]*domain.Proxy{{ID: "a"}}, sharedstate.NewMemory())
	px := p.Pick(domain.ExchangeBinance)
	require.NotNil(t, px)
	p.Record(px, domain.ExchangeBinance, false, 10, true)

	assert.Nil(t, p.Pick(domain.ExchangeBinance))
	assert.NotNil(t, p.Pick(domain.ExchangeBybit))
}

func TestDisableAndEnable(t *testing.T) {
	p := New([]*domain.Proxy{{ID: "a"}}, sharedstate.NewMemory())
	p.Disable("a")
	assert.Nil(t, p.Pick(domain.ExchangeBinance))

	p.Enable("a")
	assert.NotNil(t, p.Pick(domain.ExchangeBinance))
}

func TestSnapshotReturnsDefensiveCopies(t *testing.T) {
	p := New([]*domain.Proxy{{ID: "a"}}, sharedstate.NewMemory())
	snap := p.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Status = domain.ProxyDisabled

	assert.NotNil(t, p.Pick(domain.ExchangeBinance), "mutating a snapshot copy must not affect pool state")
}
