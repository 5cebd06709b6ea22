package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserSettings is the trading-relevant subset of a user's settings row, read
// by the risk gate and sizing strategies.
type UserSettings struct {
	DefaultTradeSizeUSDT decimal.Decimal
	MaxTradeSizeUSDT     decimal.Decimal
	DailyLossLimitUSDT   decimal.Decimal
	StopLossPercent      decimal.Decimal
	MaxLeverage          int
	PreferredExchange    Exchange
	TradingMode          TradeType
	SizingStrategy       SizingStrategy
	KellyFraction        decimal.Decimal
	NotifyOnFill         bool
	NotifyOnClose        bool
	NotifyOnError        bool
}

// TierLimits is the per-subscription-tier entitlement set.
type TierLimits struct {
	FuturesEnabled bool
	MaxPositions   int
	WhalesLimit    int
	AutoCopy       bool
}

// User is the trading-relevant projection of the user aggregate. Under the
// Phase-1 row lock the core writes only AvailableBalance; DailyRealizedLoss
// and OpenPositions are refreshed outside that lock, from closed-position
// accounting and the live open-position count, so the risk gate's daily-loss
// and max-positions checks (§4.8.1) never run against stale seed data.
type User struct {
	ID                int64
	AvailableBalance  decimal.Decimal
	SubscriptionTier  string
	Tier              TierLimits
	Settings          UserSettings
	Active            bool
	Banned            bool
	DailyRealizedLoss decimal.Decimal
	DailyLossResetAt  time.Time
	OpenPositions     int
}

// ResetDailyLossIfStale zeroes the daily-loss counter when the last accrual
// (or reset) fell on an earlier UTC day, reporting whether it reset anything
// so callers know whether the row needs persisting. Called before the risk
// gate runs so a loss recorded yesterday never caps today's trading.
func (u *User) ResetDailyLossIfStale(now time.Time) bool {
	if !u.DailyLossResetAt.IsZero() && sameUTCDay(u.DailyLossResetAt, now) {
		return false
	}
	u.DailyRealizedLoss = decimal.Zero
	u.DailyLossResetAt = now
	return true
}

// AccrueDailyLoss adds one closed trade's loss (a positive amount) to the
// day's running total, resetting first if the day has rolled over since the
// last accrual.
func (u *User) AccrueDailyLoss(loss decimal.Decimal, now time.Time) {
	if loss.LessThanOrEqual(decimal.Zero) {
		return
	}
	u.ResetDailyLossIfStale(now)
	u.DailyRealizedLoss = u.DailyRealizedLoss.Add(loss)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Reserve debits AvailableBalance under the Phase-1 row lock (2PC step 4).
// Callers must already hold the per-user lock and must have re-verified
// AvailableBalance >= amount (2PC step 1).
func (u *User) Reserve(amount decimal.Decimal) {
	u.AvailableBalance = u.AvailableBalance.Sub(amount)
}

// Release restores AvailableBalance on rollback (Phase 2B, step 10').
func (u *User) Release(amount decimal.Decimal) {
	u.AvailableBalance = u.AvailableBalance.Add(amount)
}
