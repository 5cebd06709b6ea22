package domain

import "github.com/shopspring/decimal"

// WhaleFollow is the (user_id, whale_id) unique relationship carrying a
// follower's copy-trade settings. Lifetime is entirely user-controlled.
type WhaleFollow struct {
	UserID                 int64
	WhaleID                int64
	AutoCopyEnabled        bool
	TradeSizeUSDT          decimal.Decimal // FIXED-strategy override, zero if unset
	TradeSizePercent       decimal.Decimal // PERCENT_BALANCE override, zero if unset
	TradingModeOverride    TradeType
	SizingStrategyOverride SizingStrategy
	KellyFractionOverride  decimal.Decimal // zero if unset
	TradesCopied           int64
	TotalPnL               decimal.Decimal
	Active                 bool
}

// ResolvedSizingStrategy picks per-whale override -> user default -> FIXED,
// per §4.8.2.
func (f *WhaleFollow) ResolvedSizingStrategy(userDefault SizingStrategy) SizingStrategy {
	if f.SizingStrategyOverride != "" {
		return f.SizingStrategyOverride
	}
	if userDefault != "" {
		return userDefault
	}
	return SizingFixed
}

// IncrementStats is called once per successfully confirmed copy trade
// (2PC step 12).
func (f *WhaleFollow) IncrementStats(pnl decimal.Decimal) {
	f.TradesCopied++
	f.TotalPnL = f.TotalPnL.Add(pnl)
}
