// Package domain holds the core aggregates of the copy-trading engine:
// Whale, Signal, Trade, Position, Proxy, CircuitRecord, WhaleFollow and the
// trading-relevant User projection. Each aggregate is mutated only through
// its own methods; cross-aggregate references are always by id.
package domain

// Exchange identifies a supported venue. Kept as a string enum (not an int)
// so it round-trips cleanly through logs, config and the DB without a
// lookup table.
type Exchange string

const (
	ExchangeBinance     Exchange = "BINANCE"
	ExchangeBybit       Exchange = "BYBIT"
	ExchangeOKX         Exchange = "OKX"
	ExchangeBitget      Exchange = "BITGET"
	ExchangeHyperliquid Exchange = "HYPERLIQUID"
)

// Chain identifies an on-chain network for DEX-sourced whales.
type Chain string

// DataStatus tracks whether a whale is still worth polling.
type DataStatus string

const (
	DataStatusActive DataStatus = "ACTIVE"
	DataStatusStale  DataStatus = "STALE"
	DataStatusDead   DataStatus = "DEAD"
)

// SignalSource identifies where a Signal originated.
type SignalSource string

const (
	SourceWhale     SignalSource = "WHALE"
	SourceIndicator SignalSource = "INDICATOR"
	SourceManual    SignalSource = "MANUAL"
	SourceBot       SignalSource = "BOT"
	SourceWebhook   SignalSource = "WEBHOOK"
)

// Side is the directional side of a trade or signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the directional side of a position (distinct from Side,
// since a SELL can open a SHORT or close a LONG).
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// TradeType selects the market the trade executes in.
type TradeType string

const (
	TradeSpot         TradeType = "SPOT"
	TradeFuturesLong  TradeType = "FUTURES_LONG"
	TradeFuturesShort TradeType = "FUTURES_SHORT"
)

// PositionType mirrors TradeType at the position level.
type PositionType string

const (
	PositionSpot    PositionType = "SPOT"
	PositionFutures PositionType = "FUTURES"
)

// SignalChangeKind is the kind of change the detector observed between two
// whale snapshots.
type SignalChangeKind string

const (
	ChangeOpen         SignalChangeKind = "OPEN"
	ChangeClose        SignalChangeKind = "CLOSE"
	ChangeAdd          SignalChangeKind = "ADD"
	ChangePartialClose SignalChangeKind = "PARTIAL_CLOSE"
)

// Priority orders signal dispatch: HIGH before MEDIUM before LOW.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Rank gives Priority a total order for queue comparisons; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// SignalStatus is the C7 signal-queue state machine.
type SignalStatus string

const (
	SignalPending    SignalStatus = "PENDING"
	SignalProcessing SignalStatus = "PROCESSING"
	SignalProcessed  SignalStatus = "PROCESSED"
	SignalFailed     SignalStatus = "FAILED"
	SignalExpired    SignalStatus = "EXPIRED"
)

// TradeStatus is the C8 2PC trade state machine.
type TradeStatus string

const (
	TradePending              TradeStatus = "PENDING"
	TradeExecuting            TradeStatus = "EXECUTING"
	TradeFilled               TradeStatus = "FILLED"
	TradePartiallyFilled      TradeStatus = "PARTIALLY_FILLED"
	TradeFailed               TradeStatus = "FAILED"
	TradeNeedsReconciliation  TradeStatus = "NEEDS_RECONCILIATION"
)

// PositionStatus is the C10 position lifecycle.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseManual     CloseReason = "MANUAL"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseWhaleExit  CloseReason = "WHALE_EXIT"
	CloseLiquidated CloseReason = "LIQUIDATION"
	CloseAuto       CloseReason = "AUTO_CLOSE"
)

// ProxyStatus is the C1 proxy lifecycle.
type ProxyStatus string

const (
	ProxyActive      ProxyStatus = "ACTIVE"
	ProxyRateLimited ProxyStatus = "RATE_LIMITED"
	ProxyDisabled    ProxyStatus = "DISABLED"
)

// BreakerState is the C2 circuit-breaker state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// SizingStrategy selects how a follower's trade size is computed.
type SizingStrategy string

const (
	SizingFixed          SizingStrategy = "FIXED"
	SizingPercentBalance SizingStrategy = "PERCENT_BALANCE"
	SizingKelly          SizingStrategy = "KELLY"
)

// PollTier is one of the four adaptive-scheduler priority tiers.
type PollTier string

const (
	TierCritical PollTier = "CRITICAL"
	TierHigh     PollTier = "HIGH"
	TierNormal   PollTier = "NORMAL"
	TierLow      PollTier = "LOW"
)

// OrderStatus normalizes every venue's order status into one enum (§4.9).
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderPendingNew      OrderStatus = "PENDING"
)
