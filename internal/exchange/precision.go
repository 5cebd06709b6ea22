package exchange

import (
	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
)

// RoundDownToStep quantizes qty to the venue's LOT_SIZE step, rounding down
// (never up) so a rounded order never requests more than the caller sized,
// matching execution_service.go's FormatQty floor-to-stepSize idiom. A
// result of zero is fatal per §4.9 — callers must surface it as
// "invalid trade size", never silently skip the order.
func RoundDownToStep(qty, step decimal.Decimal) (decimal.Decimal, error) {
	if step.IsZero() {
		return qty, nil
	}
	steps := qty.Div(step).Floor().Mul(step)
	if steps.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, &domain.ValidationError{Reason: "invalid trade size: quantity rounds to zero at step " + step.String()}
	}
	return steps, nil
}

// RoundToTick quantizes price to the venue's PRICE_FILTER tick size,
// rounding to nearest (execution_service.go's RoundToPrecision:
// math.Floor(value/tickSize+0.5)*tickSize).
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	half := decimal.NewFromFloat(0.5)
	units := price.Div(tick).Add(half).Floor()
	return units.Mul(tick)
}
