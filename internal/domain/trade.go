package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an aggregate root recording one attempted exchange order placed
// on behalf of a user, driven through the §4.8.3 two-phase-commit protocol.
type Trade struct {
	ID              int64
	UserID          int64
	SignalID        *int64 // nullable for manual trades
	WhaleID         *int64
	Exchange        Exchange
	Symbol          string
	Side            Side
	TradeType       TradeType
	SizeUSDT        decimal.Decimal
	Quantity        decimal.Decimal
	Leverage        int
	Status          TradeStatus
	ExchangeOrderID string
	ExecutedPrice   decimal.Decimal
	FilledQuantity  decimal.Decimal
	FeeAmount       decimal.Decimal
	FeeCurrency     string
	CreatedAt       time.Time
	ExecutedAt      *time.Time
	ErrorMessage    string
	ReduceOnly      bool
	Version         int64
}

// NewReservedTrade builds a trade in its initial PENDING state (2PC step 3).
// It must be called only inside the Phase-1 reservation transaction.
func NewReservedTrade(userID int64, signalID, whaleID *int64, exch Exchange, symbol string, side Side, tt TradeType, sizeUSDT, quantity decimal.Decimal, leverage int, now time.Time) *Trade {
	return &Trade{
		UserID:    userID,
		SignalID:  signalID,
		WhaleID:   whaleID,
		Exchange:  exch,
		Symbol:    symbol,
		Side:      side,
		TradeType: tt,
		SizeUSDT:  sizeUSDT,
		Quantity:  quantity,
		Leverage:  leverage,
		Status:    TradePending,
		CreatedAt: now,
	}
}

// BeginExecuting transitions PENDING -> EXECUTING (2PC step 6).
func (t *Trade) BeginExecuting() error {
	if t.Status != TradePending {
		return &FatalError{Reason: "trade not pending: " + string(t.Status)}
	}
	t.Status = TradeExecuting
	t.Version++
	return nil
}

// Confirm transitions EXECUTING -> FILLED/PARTIALLY_FILLED (2PC step 10
// within Phase 2A).
func (t *Trade) Confirm(orderID string, filledQty, execPrice, fee decimal.Decimal, feeCcy string, fullyFilled bool, now time.Time) error {
	if t.Status != TradeExecuting {
		return &FatalError{Reason: "trade not executing: " + string(t.Status)}
	}
	t.ExchangeOrderID = orderID
	t.FilledQuantity = filledQty
	t.ExecutedPrice = execPrice
	t.FeeAmount = fee
	t.FeeCurrency = feeCcy
	t.ExecutedAt = &now
	if fullyFilled {
		t.Status = TradeFilled
	} else {
		t.Status = TradePartiallyFilled
	}
	t.Version++
	return nil
}

// Fail transitions PENDING or EXECUTING -> FAILED (Phase 2B, step 10').
func (t *Trade) Fail(msg string) error {
	if t.Status == TradeFilled || t.Status == TradePartiallyFilled || t.Status == TradeNeedsReconciliation {
		return &FatalError{Reason: "trade already terminal: " + string(t.Status)}
	}
	t.Status = TradeFailed
	t.ErrorMessage = msg
	t.Version++
	return nil
}

// NeedsReconciliation marks the trade for out-of-band finalization (Phase
// 2C) when the exchange call may have succeeded but the DB confirm could
// not be committed, or an exception occurred in between.
func (t *Trade) NeedsReconciliation(orderID string, msg string) {
	t.Status = TradeNeedsReconciliation
	if orderID != "" {
		t.ExchangeOrderID = orderID
	}
	t.ErrorMessage = msg
	t.Version++
}
