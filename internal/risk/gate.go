// Package risk implements C8.1: the pre-trade risk gate, grounded on
// execution_service.go's SafetyConfig kill switches (MaxDailyLoss,
// MaxOpenPositions, MaxLeverage, RiskPerTrade) generalized from that
// engine's single hardcoded profile into per-user, per-tier checks.
package risk

import (
	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
)

// Result is the risk gate's verdict: either a rejection with reason, or an
// approval carrying the (possibly clamped) size and any warnings raised
// along the way.
type Result struct {
	Allowed          bool
	Reason           string
	AdjustedSize     decimal.Decimal
	AdjustedLeverage int
	Warnings         []string
}

// Request bundles everything the gate needs to evaluate one proposed trade.
type Request struct {
	User             *domain.User
	ProposedSizeUSDT decimal.Decimal
	Leverage         int
	IsFutures        bool
	MinTradingBal    decimal.Decimal
	MinTradeUSDT     decimal.Decimal
	ExchangeMinNotional decimal.Decimal // already leverage-adjusted by the caller
}

// Evaluate implements §4.8.1's ordered checklist. Clamping happens in place
// on the working size so later checks see the already-adjusted value.
func Evaluate(req Request) Result {
	u := req.User
	var warnings []string

	if !u.Active || u.Banned {
		return Result{Allowed: false, Reason: "user inactive or banned"}
	}
	if u.AvailableBalance.LessThan(req.MinTradingBal) {
		return Result{Allowed: false, Reason: "available balance below minimum trading balance"}
	}

	size := req.ProposedSizeUSDT
	floor := req.MinTradeUSDT
	if req.ExchangeMinNotional.GreaterThan(floor) {
		floor = req.ExchangeMinNotional
	}
	if size.LessThan(floor) {
		return Result{Allowed: false, Reason: "proposed size below minimum trade size"}
	}

	if req.IsFutures && !u.Tier.FuturesEnabled {
		return Result{Allowed: false, Reason: "futures not permitted for subscription tier"}
	}

	if u.Settings.MaxTradeSizeUSDT.GreaterThan(decimal.Zero) && size.GreaterThan(u.Settings.MaxTradeSizeUSDT) {
		size = u.Settings.MaxTradeSizeUSDT
		warnings = append(warnings, "size clamped to max_trade_size_usdt")
	}

	if u.Settings.DailyLossLimitUSDT.GreaterThan(decimal.Zero) {
		if u.DailyRealizedLoss.GreaterThanOrEqual(u.Settings.DailyLossLimitUSDT) {
			return Result{Allowed: false, Reason: "daily loss limit reached"}
		}
		remaining := u.Settings.DailyLossLimitUSDT.Sub(u.DailyRealizedLoss)
		if size.GreaterThan(remaining) {
			size = remaining
			warnings = append(warnings, "size clamped to remaining daily loss allowance")
		}
	}

	if u.OpenPositions >= u.Tier.MaxPositions {
		return Result{Allowed: false, Reason: "tier open-position limit reached"}
	}

	leverage := req.Leverage
	if u.Settings.MaxLeverage > 0 && leverage > u.Settings.MaxLeverage {
		leverage = u.Settings.MaxLeverage
		warnings = append(warnings, "leverage clamped to max_leverage")
	}

	if size.LessThan(floor) {
		return Result{Allowed: false, Reason: "adjusted size below minimum trade size"}
	}

	return Result{Allowed: true, AdjustedSize: size, AdjustedLeverage: leverage, Warnings: warnings}
}
