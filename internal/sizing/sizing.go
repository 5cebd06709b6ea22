// Package sizing implements C8.2: the three position-sizing strategies
// (FIXED, PERCENT_BALANCE, KELLY) and their shared post-clamp, grounded on
// execution_service.go's SafetyConfig.RiskPerTrade fixed-sizing idiom,
// generalized to the strategy set §4.8.2 names.
package sizing

import (
	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
)

var (
	minKellyWinRate   = decimal.NewFromFloat(0.1)
	maxKellyWinRate   = decimal.NewFromFloat(0.9)
	minKellyRatio     = decimal.NewFromFloat(0.5)
	maxKellyRatio     = decimal.NewFromFloat(3.0)
	minKellyFraction  = decimal.NewFromFloat(0.1)
	maxKellyFraction  = decimal.NewFromFloat(1.0)
	defaultKellyFrac  = decimal.NewFromFloat(0.5)
	maxKellyPortion   = decimal.NewFromFloat(0.25)
)

// Inputs bundles everything a strategy needs, already resolved by the
// caller (follow override -> user default, per §4.8.2).
type Inputs struct {
	Strategy         domain.SizingStrategy
	FixedUSDT        decimal.Decimal // FIXED
	PercentBalance   decimal.Decimal // PERCENT_BALANCE, e.g. 0.05 for 5%
	KellyFraction    decimal.Decimal // KELLY
	WhaleWinRate     decimal.Decimal // KELLY: W
	WhaleWinLossRatio decimal.Decimal // KELLY: R
	AvailableBalance decimal.Decimal
	MinTradeUSDT     decimal.Decimal
	MaxTradeUSDT     decimal.Decimal
	UserMaxTradeUSDT decimal.Decimal
}

// Compute implements the §4.8.2 strategy dispatch plus the shared
// post-clamp. Returns a ValidationError ("no sizing configured") if no
// configured strategy yields a usable size — sizing must never silently
// default.
func Compute(in Inputs) (decimal.Decimal, error) {
	var raw decimal.Decimal
	switch in.Strategy {
	case domain.SizingFixed:
		raw = in.FixedUSDT
	case domain.SizingPercentBalance:
		raw = in.AvailableBalance.Mul(in.PercentBalance)
	case domain.SizingKelly:
		raw = kellySize(in)
	default:
		return decimal.Zero, &domain.ValidationError{Reason: "no sizing configured"}
	}

	if raw.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, &domain.ValidationError{Reason: "no sizing configured"}
	}

	return clamp(raw, in), nil
}

// kellySize implements f = (W - (1-W)/R) * kelly_fraction, final size =
// f * available_balance, with the §4.8.2 input clamps and the f<=0
// fallback-to-minimum / f<=0.25 cap.
func kellySize(in Inputs) decimal.Decimal {
	w := clampDec(in.WhaleWinRate, minKellyWinRate, maxKellyWinRate)
	r := clampDec(in.WhaleWinLossRatio, minKellyRatio, maxKellyRatio)
	kf := in.KellyFraction
	if kf.IsZero() {
		kf = defaultKellyFrac
	}
	kf = clampDec(kf, minKellyFraction, maxKellyFraction)

	one := decimal.NewFromInt(1)
	f := w.Sub(one.Sub(w).Div(r)).Mul(kf)

	if f.LessThanOrEqual(decimal.Zero) {
		return in.MinTradeUSDT
	}
	if f.GreaterThan(maxKellyPortion) {
		f = maxKellyPortion
	}
	return f.Mul(in.AvailableBalance)
}

// clamp applies the shared post-clamp from §4.8.2:
// [MIN_TRADE_SIZE_USDT, MAX_TRADE_SIZE_USDT] ∩ [0, available_balance] ∩
// [0, settings.max_trade_size_usdt].
func clamp(size decimal.Decimal, in Inputs) decimal.Decimal {
	upper := in.MaxTradeUSDT
	if in.UserMaxTradeUSDT.GreaterThan(decimal.Zero) && in.UserMaxTradeUSDT.LessThan(upper) {
		upper = in.UserMaxTradeUSDT
	}
	if in.AvailableBalance.LessThan(upper) {
		upper = in.AvailableBalance
	}
	if size.GreaterThan(upper) {
		size = upper
	}
	if size.LessThan(in.MinTradeUSDT) {
		size = in.MinTradeUSDT
	}
	return size
}

func clampDec(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
