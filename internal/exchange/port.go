// Package exchange implements C9: a uniform Port interface over
// heterogeneous exchange adapters (spot buy/sell, futures long/short/close,
// balances), with normalized OrderResult, LOT_SIZE/NOTIONAL precision
// handling, and a retry+breaker decorator composed breaker-outermost,
// retry-inside, per SPEC_FULL.md §9.
package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
)

// OrderResult is the normalized result every adapter call returns; venue-
// specific statuses are folded into domain.OrderStatus at the adapter
// boundary.
type OrderResult struct {
	OrderID        string
	ClientOrderID  string
	Symbol         string
	Side           domain.Side
	Type           string
	Status         domain.OrderStatus
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Price          decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Fee            decimal.Decimal
	FeeCurrency    string
	Timestamp      time.Time
}

// FullyFilled reports whether the order result represents a complete fill.
func (r OrderResult) FullyFilled() bool {
	return r.Status == domain.OrderFilled
}

// SymbolInfo carries the venue's precision filters for one symbol.
type SymbolInfo struct {
	TickSize    decimal.Decimal // PRICE_FILTER
	StepSize    decimal.Decimal // LOT_SIZE
	MinNotional decimal.Decimal // NOTIONAL / MIN_NOTIONAL
}

// Port is the interface every exchange adapter satisfies. Concept names are
// preserved across adapters, per §4.9.
type Port interface {
	Initialize(ctx context.Context) error
	Close() error

	// Spot
	SpotMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error)
	SpotMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error)
	SpotLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error)
	SpotLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error)

	// Futures
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	FuturesMarketLong(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error)
	FuturesMarketShort(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error)
	FuturesClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) (OrderResult, error)

	// Account
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
	GetAssetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetFuturesBalance(ctx context.Context) (decimal.Decimal, error)

	// Orders / market data
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	GetMinNotional(ctx context.Context, symbol string, isFutures bool) (decimal.Decimal, error)
	RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error)
	RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error)

	// Stop-loss orders
	PlaceStopLossOrder(ctx context.Context, symbol string, side domain.PositionSide, qty, stopPrice decimal.Decimal) (OrderResult, error)
	CancelStopLossOrder(ctx context.Context, symbol, orderID string) error
	ModifyStopLossOrder(ctx context.Context, symbol, orderID string, newStopPrice decimal.Decimal) (OrderResult, error)
	CalculateStopLossPrice(entry decimal.Decimal, side domain.PositionSide, stopLossPercent decimal.Decimal) decimal.Decimal

	Name() domain.Exchange
}

// NormalizeSymbol folds an exchange-form symbol to its canonical form, e.g.
// "BTCUSDTSWAPUSDT" -> "BTCUSDT", per §4.9. Adapters send the canonical
// symbol unchanged on outbound calls; no venue-specific re-expansion is
// applied.
func NormalizeSymbol(raw string) string {
	s := strings.ReplaceAll(raw, "SWAP", "")
	if strings.HasSuffix(s, "USDTUSDT") {
		s = s[:len(s)-4]
	}
	return s
}
