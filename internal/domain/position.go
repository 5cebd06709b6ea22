package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an aggregate root tracking one user's exposure to one symbol
// sourced from one whale. Merge is allowed only with another position
// sharing the exact same (UserID, Symbol, WhaleID) triple — this scoping is
// mandatory so two whales both trading the same symbol never merge into one
// position for a shared follower.
type Position struct {
	ID                   int64
	UserID               int64
	WhaleID              *int64
	Symbol               string
	Side                 PositionSide
	PositionType         PositionType
	Quantity             decimal.Decimal
	RemainingQuantity    decimal.Decimal
	EntryPrice           decimal.Decimal
	CurrentPrice         decimal.Decimal
	ExitPrice            decimal.Decimal
	EntryValueUSDT       decimal.Decimal
	CurrentValueUSDT     decimal.Decimal
	Leverage             int
	LiquidationPrice      decimal.Decimal
	StopLossPrice        decimal.Decimal
	TakeProfitPrice      decimal.Decimal
	UnrealizedPnL        decimal.Decimal
	UnrealizedPnLPercent decimal.Decimal
	RealizedPnL          decimal.Decimal
	Status               PositionStatus
	CloseReason          CloseReason
	EntryTradeID         int64
	ExitTradeID          *int64
	OpenedAt             time.Time
	ClosedAt             *time.Time
}

// SameScope reports whether a position shares the (user, symbol, whale)
// triple required for merging, per §3 and testable property 3.
func (p *Position) SameScope(userID int64, symbol string, whaleID *int64) bool {
	if p.UserID != userID || p.Symbol != symbol {
		return false
	}
	return samePtr(p.WhaleID, whaleID)
}

func samePtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NewOpenPosition creates a fresh OPEN position referencing its opening
// Trade (2PC step 11, "otherwise create").
func NewOpenPosition(userID int64, whaleID *int64, symbol string, side PositionSide, pt PositionType, quantity, entryPrice, entryValueUSDT decimal.Decimal, leverage int, entryTradeID int64, now time.Time) *Position {
	return &Position{
		UserID:            userID,
		WhaleID:           whaleID,
		Symbol:            symbol,
		Side:              side,
		PositionType:      pt,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		EntryPrice:        entryPrice,
		CurrentPrice:      entryPrice,
		EntryValueUSDT:    entryValueUSDT,
		CurrentValueUSDT:  entryValueUSDT,
		Leverage:          leverage,
		Status:            PositionOpen,
		EntryTradeID:      entryTradeID,
		OpenedAt:          now,
	}
}

// MergeFill folds an additional fill into an existing OPEN position (2PC
// step 11, "if present, merge"): the new entry price is the quantity-weighted
// average of the old and new fills.
func (p *Position) MergeFill(execQty, execPrice decimal.Decimal) {
	oldQty := p.Quantity
	newQty := oldQty.Add(execQty)
	if newQty.IsZero() {
		return
	}
	weightedOld := p.EntryPrice.Mul(oldQty)
	weightedNew := execPrice.Mul(execQty)
	p.EntryPrice = weightedOld.Add(weightedNew).Div(newQty)
	p.Quantity = newQty
	p.RemainingQuantity = p.RemainingQuantity.Add(execQty)
	p.EntryValueUSDT = p.EntryValueUSDT.Add(execPrice.Mul(execQty))
}

// MarkToMarket recomputes current_price, current_value_usdt,
// unrealized_pnl and unrealized_pnl_percent from a fresh ticker price.
// Leverage is applied on every tick per the resolved Open Question in
// SPEC_FULL.md §9, so mark-to-market and close-time PnL never disagree.
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.CurrentPrice = price
	p.CurrentValueUSDT = price.Mul(p.RemainingQuantity)
	pct := priceChangePct(p.Side, p.EntryPrice, price)
	p.UnrealizedPnLPercent = pct.Mul(decimal.NewFromInt(int64(p.Leverage)))
	p.UnrealizedPnL = p.EntryValueUSDT.Mul(pct).Mul(decimal.NewFromInt(int64(p.Leverage))).Div(decimal.NewFromInt(100))
}

func priceChangePct(side PositionSide, entry, exit decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	if side == PositionLong {
		return exit.Sub(entry).Div(entry).Mul(hundred)
	}
	return entry.Sub(exit).Div(entry).Mul(hundred)
}

// ShouldTriggerStopLoss implements the symmetric SL comparison of §4.10.
func (p *Position) ShouldTriggerStopLoss(price decimal.Decimal) bool {
	if p.StopLossPrice.IsZero() {
		return false
	}
	if p.Side == PositionLong {
		return price.LessThanOrEqual(p.StopLossPrice)
	}
	return price.GreaterThanOrEqual(p.StopLossPrice)
}

// ShouldTriggerTakeProfit implements the symmetric TP comparison (inverted
// relative to stop loss) of §4.10.
func (p *Position) ShouldTriggerTakeProfit(price decimal.Decimal) bool {
	if p.TakeProfitPrice.IsZero() {
		return false
	}
	if p.Side == PositionLong {
		return price.GreaterThanOrEqual(p.TakeProfitPrice)
	}
	return price.LessThanOrEqual(p.TakeProfitPrice)
}

// ShouldLiquidate reports whether a mark-price sweep has crossed the
// position's liquidation price.
func (p *Position) ShouldLiquidate(price decimal.Decimal) bool {
	if p.LiquidationPrice.IsZero() {
		return false
	}
	if p.Side == PositionLong {
		return price.LessThanOrEqual(p.LiquidationPrice)
	}
	return price.GreaterThanOrEqual(p.LiquidationPrice)
}

// CloseFill implements the §4.10 close-time PnL formulas exactly:
//
//	price_change_pct = (exit-entry)/entry * 100      for LONG
//	price_change_pct = (entry-exit)/entry * 100      for SHORT
//	gross_pnl_usdt   = size * price_change_pct/100 * leverage
//	realized_pnl     = gross_pnl_usdt - total_fees
//	realized_pnl_pct = price_change_pct*leverage - (fees/size*100*leverage)
//
// filledQty may be less than RemainingQuantity on a partial close fill; the
// position stays OPEN in that case and only the filled portion realizes.
// Returns this fill's own realized PnL (not the position's cumulative
// total) so callers can feed it straight into per-close accounting —
// the user's daily-loss counter and the whale's rolling win-rate/ROI
// aggregate — without double-counting PnL from earlier partial fills.
func (p *Position) CloseFill(exitPrice, filledQty, fees decimal.Decimal, reason CloseReason, exitTradeID int64, now time.Time) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	lev := decimal.NewFromInt(int64(p.Leverage))
	pct := priceChangePct(p.Side, p.EntryPrice, exitPrice)

	closedValue := p.EntryPrice.Mul(filledQty)
	grossPnl := closedValue.Mul(pct).Div(hundred).Mul(lev)
	realized := grossPnl.Sub(fees)

	var realizedPct decimal.Decimal
	if !closedValue.IsZero() {
		realizedPct = pct.Mul(lev).Sub(fees.Div(closedValue).Mul(hundred).Mul(lev))
	}

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.RemainingQuantity = p.RemainingQuantity.Sub(filledQty)

	if p.RemainingQuantity.GreaterThan(decimal.Zero) {
		// partial close: position stays OPEN, follow-up close re-enqueued by caller
		return realized
	}

	if reason == CloseLiquidated {
		p.Status = PositionLiquidated
	} else {
		p.Status = PositionClosed
	}
	p.CloseReason = reason
	p.ExitPrice = exitPrice
	p.ExitTradeID = &exitTradeID
	p.ClosedAt = &now
	p.UnrealizedPnL = decimal.Zero
	p.UnrealizedPnLPercent = realizedPct
	return realized
}
