package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoadVenuesSkipsExchangesWithNoCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	venues := loadVenues()
	require.Contains(t, venues, domain.ExchangeBinance)
	assert.Equal(t, "k", venues[domain.ExchangeBinance].APIKey)
	assert.NotContains(t, venues, domain.ExchangeBybit)
}

func TestLoadVenuesFallsBackToSecretKeyVariable(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "k")
	t.Setenv("BYBIT_SECRET_KEY", "legacy-secret")
	venues := loadVenues()
	require.Contains(t, venues, domain.ExchangeBybit)
	assert.Equal(t, "legacy-secret", venues[domain.ExchangeBybit].APISecret)
}

func TestGetDecimalFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MIN_TRADE_SIZE_USDT", "not-a-number")
	got := getDecimal("MIN_TRADE_SIZE_USDT", "5")
	assert.True(t, got.Equal(dec("5")))
}

func TestGetIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SIGNAL_EXPIRY_SECONDS", "oops")
	assert.Equal(t, 60, getInt("SIGNAL_EXPIRY_SECONDS", 60))
}

func TestLoadTiersAppliesIntervalOverride(t *testing.T) {
	t.Setenv("CRITICAL_INTERVAL_SECONDS", "7")
	tiers := loadTiers()
	for _, tier := range tiers {
		if tier.Tier == domain.TierCritical {
			assert.Equal(t, 7*1e9, float64(tier.Interval))
			return
		}
	}
	t.Fatal("critical tier not found")
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a ,b,"))
	assert.Nil(t, splitCSV(""))
}

func TestToCircuitConfigConvertsSeconds(t *testing.T) {
	b := BreakerDefaults{FailureThreshold: 5, WindowSeconds: 60, OpenSeconds: 30, SuccessThreshold: 2}
	cc := b.ToCircuitConfig()
	assert.Equal(t, 5, cc.FailureThreshold)
	assert.Equal(t, 60*1e9, float64(cc.FailureWindow))
	assert.Equal(t, 30*1e9, float64(cc.ResetTimeout))
}
