// Package copytrade implements C8: follower resolution, the pre-trade risk
// gate, position sizing, and the strict two-phase-commit trade protocol of
// §4.8.3. It is grounded on execution_service.go's ExecuteTrade — the same
// reserve/dispatch/confirm-or-rollback shape — generalized from that
// engine's single hardcoded profile into per-user, per-whale-follow
// resolution against the Exchange Port abstraction.
package copytrade

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
	"whalecopy/internal/exchange"
	"whalecopy/internal/repository"
	"whalecopy/internal/risk"
	"whalecopy/internal/sizing"
)

// Config carries the risk-gate/sizing constants sourced from the §6 config
// surface.
type Config struct {
	MinTradingBalanceUSDT decimal.Decimal
	MinTradeUSDT          decimal.Decimal
	MaxTradeUSDT          decimal.Decimal
}

// Engine owns the full copy-trade lifecycle for one process.
type Engine struct {
	uow   repository.UnitOfWork
	ports map[domain.Exchange]exchange.Port
	pub   domain.Publisher
	cfg   Config
}

func New(uow repository.UnitOfWork, ports map[domain.Exchange]exchange.Port, pub domain.Publisher, cfg Config) *Engine {
	if pub == nil {
		pub = domain.NoopPublisher{}
	}
	return &Engine{uow: uow, ports: ports, pub: pub, cfg: cfg}
}

// ProcessSignal implements §4.8's top-level dispatch: resolve followers,
// then either copy (open/add) or close, per follower, independently.
func (e *Engine) ProcessSignal(ctx context.Context, sig *domain.Signal) (tradesExecuted int, err error) {
	if sig.IsClose {
		return e.processCloseSignal(ctx, sig)
	}
	return e.processOpenSignal(ctx, sig)
}

// processCloseSignal implements §4.8.4: close signals bypass sizing and
// risk gates entirely. For each matching OPEN position, a reduce-only 2PC
// trade is executed against it, on the exchange its entry trade executed on.
func (e *Engine) processCloseSignal(ctx context.Context, sig *domain.Signal) (int, error) {
	type target struct {
		position *domain.Position
		exchange domain.Exchange
	}
	var targets []target
	err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		whaleID := sig.WhaleID
		open, err := repos.Positions.AllOpen(ctx)
		if err != nil {
			return err
		}
		for _, p := range open {
			if p.Symbol != sig.Symbol || p.WhaleID == nil || *p.WhaleID != whaleID {
				continue
			}
			entryTrade, err := repos.Trades.Get(ctx, p.EntryTradeID)
			if err != nil {
				return err
			}
			targets = append(targets, target{position: p, exchange: entryTrade.Exchange})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, t := range targets {
		port, ok := e.ports[t.exchange]
		if !ok {
			continue
		}
		price, priceErr := port.GetTickerPrice(ctx, t.position.Symbol)
		if priceErr != nil {
			log.Printf("copytrade: close signal: price lookup failed for %s: %v", t.position.Symbol, priceErr)
			continue
		}
		_, err := e.ExecuteClose(ctx, t.position, port, price, domain.CloseWhaleExit)
		if err != nil {
			log.Printf("copytrade: close signal: position %d: %v", t.position.ID, err)
			continue
		}
		executed++
	}
	return executed, nil
}

// processOpenSignal implements §4.8's follower resolution for non-close
// signals plus, per follower, the risk gate (§4.8.1), sizing (§4.8.2) and
// 2PC protocol (§4.8.3).
func (e *Engine) processOpenSignal(ctx context.Context, sig *domain.Signal) (int, error) {
	var followers []*domain.WhaleFollow
	var whale *domain.Whale
	err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		var err error
		followers, err = repos.Follows.AutoCopyFollowersOf(ctx, sig.WhaleID)
		if err != nil {
			return err
		}
		whale, err = repos.Whales.Get(ctx, sig.WhaleID)
		return err
	})
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, follow := range followers {
		if err := e.copyForFollower(ctx, sig, follow, whale); err != nil {
			log.Printf("copytrade: follower %d: %v", follow.UserID, err)
			continue
		}
		executed++
	}
	return executed, nil
}

// copyForFollower runs the risk gate, sizing, and 2PC protocol for one
// follower against one signal.
func (e *Engine) copyForFollower(ctx context.Context, sig *domain.Signal, follow *domain.WhaleFollow, whale *domain.Whale) error {
	var user *domain.User
	err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		u, err := repos.Users.ForUpdate(ctx, follow.UserID)
		if err != nil {
			return err
		}
		open, err := repos.Positions.OpenByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		u.OpenPositions = len(open)
		u.ResetDailyLossIfStale(time.Now())
		if err := repos.Users.Save(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return err
	}

	port, ok := e.ports[user.Settings.PreferredExchange]
	if !ok {
		return &domain.FatalError{Reason: "no adapter for " + string(user.Settings.PreferredExchange)}
	}

	strategy := follow.ResolvedSizingStrategy(user.Settings.SizingStrategy)
	size, err := sizing.Compute(sizing.Inputs{
		Strategy:          strategy,
		FixedUSDT:         pickNonZero(follow.TradeSizeUSDT, user.Settings.DefaultTradeSizeUSDT),
		PercentBalance:    clampPercent(follow.TradeSizePercent),
		KellyFraction:     pickNonZero(follow.KellyFractionOverride, user.Settings.KellyFraction),
		WhaleWinRate:      decimal.NewFromFloat(whale.WinRate),
		WhaleWinLossRatio: decimal.NewFromFloat(whale.AvgWinLossRatio),
		AvailableBalance:  user.AvailableBalance,
		MinTradeUSDT:      e.cfg.MinTradeUSDT,
		MaxTradeUSDT:      e.cfg.MaxTradeUSDT,
		UserMaxTradeUSDT:  user.Settings.MaxTradeSizeUSDT,
	})
	if err != nil {
		return err
	}

	tradeType := resolveTradeType(user.Settings.TradingMode, follow.TradingModeOverride)
	isFutures := tradeType != domain.TradeSpot

	minNotional, _ := port.GetMinNotional(ctx, sig.Symbol, isFutures)

	gate := risk.Evaluate(risk.Request{
		User:                user,
		ProposedSizeUSDT:    size,
		Leverage:            user.Settings.MaxLeverage,
		IsFutures:           isFutures,
		MinTradingBal:       e.cfg.MinTradingBalanceUSDT,
		MinTradeUSDT:        e.cfg.MinTradeUSDT,
		ExchangeMinNotional: minNotional,
	})
	if !gate.Allowed {
		return &domain.ValidationError{Reason: gate.Reason}
	}
	for _, w := range gate.Warnings {
		log.Printf("copytrade: user %d: %s", user.ID, w)
	}

	whaleID := whale.ID
	sigID := sig.ID
	_, err = e.Execute2PC(ctx, ExecuteParams{
		UserID:    user.ID,
		SignalID:  &sigID,
		WhaleID:   &whaleID,
		Exchange:  port.Name(),
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		TradeType: tradeType,
		SizeUSDT:  gate.AdjustedSize,
		Leverage:  gate.AdjustedLeverage,
	}, port)
	if err == nil {
		_ = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
			follow.IncrementStats(decimal.Zero)
			return repos.Follows.Update(ctx, follow)
		})
	}
	return err
}

func pickNonZero(first, second decimal.Decimal) decimal.Decimal {
	if first.GreaterThan(decimal.Zero) {
		return first
	}
	return second
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	lo := decimal.NewFromFloat(0.005)
	hi := decimal.NewFromFloat(0.25)
	if p.IsZero() {
		return lo
	}
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}

func resolveTradeType(userDefault, followOverride domain.TradeType) domain.TradeType {
	if followOverride != "" {
		return followOverride
	}
	if userDefault != "" {
		return userDefault
	}
	return domain.TradeSpot
}

// ExecuteParams bundles one trade attempt for Execute2PC.
type ExecuteParams struct {
	UserID    int64
	SignalID  *int64
	WhaleID   *int64
	Exchange  domain.Exchange
	Symbol    string
	Side      domain.Side
	TradeType domain.TradeType
	SizeUSDT  decimal.Decimal
	Leverage  int
}

// Execute2PC implements §4.8.3 in full: Phase 1 RESERVE, the exchange call,
// and Phase 2A CONFIRM / 2B ROLLBACK / 2C RECONCILIATION.
func (e *Engine) Execute2PC(ctx context.Context, p ExecuteParams, port exchange.Port) (*domain.Trade, error) {
	price, err := port.GetTickerPrice(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	symbol := exchange.NormalizeSymbol(p.Symbol)
	rawQty := p.SizeUSDT.Div(price)
	quantity, err := port.RoundQuantity(ctx, symbol, rawQty)
	if err != nil {
		return nil, err // ValidationError: invalid trade size, per §4.9
	}

	// Phase 1 — RESERVE (steps 1-5)
	var trade *domain.Trade
	err = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		user, err := repos.Users.ForUpdate(ctx, p.UserID)
		if err != nil {
			return err
		}
		if user.AvailableBalance.LessThan(p.SizeUSDT) {
			return &domain.InsufficientBalanceError{Required: p.SizeUSDT.String(), Available: user.AvailableBalance.String()}
		}
		trade = domain.NewReservedTrade(p.UserID, p.SignalID, p.WhaleID, p.Exchange, symbol, p.Side, p.TradeType, p.SizeUSDT, quantity, p.Leverage, time.Now())
		if _, err := repos.Trades.Insert(ctx, trade); err != nil {
			return err
		}
		user.Reserve(p.SizeUSDT)
		return repos.Users.Save(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	// Exchange call (steps 6-9), outside any DB transaction.
	if err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := trade.BeginExecuting(); err != nil {
			return err
		}
		return repos.Trades.Update(ctx, trade)
	}); err != nil {
		return nil, err
	}

	result, execErr := e.dispatch(ctx, port, p, symbol, quantity)
	if execErr != nil {
		return e.rollback(ctx, trade, p.SizeUSDT, execErr)
	}
	return e.confirm(ctx, trade, p, result)
}

func (e *Engine) dispatch(ctx context.Context, port exchange.Port, p ExecuteParams, symbol string, quantity decimal.Decimal) (exchange.OrderResult, error) {
	switch p.TradeType {
	case domain.TradeSpot:
		if p.Side == domain.SideBuy {
			return port.SpotMarketBuy(ctx, symbol, quantity)
		}
		return port.SpotMarketSell(ctx, symbol, quantity)
	case domain.TradeFuturesLong:
		if err := port.SetLeverage(ctx, symbol, p.Leverage); err != nil {
			return exchange.OrderResult{}, err
		}
		return port.FuturesMarketLong(ctx, symbol, quantity)
	case domain.TradeFuturesShort:
		if err := port.SetLeverage(ctx, symbol, p.Leverage); err != nil {
			return exchange.OrderResult{}, err
		}
		return port.FuturesMarketShort(ctx, symbol, quantity)
	default:
		return exchange.OrderResult{}, &domain.FatalError{Reason: "unknown trade type"}
	}
}

// confirm implements Phase 2A: steps 10-14.
func (e *Engine) confirm(ctx context.Context, trade *domain.Trade, p ExecuteParams, result exchange.OrderResult) (*domain.Trade, error) {
	var position *domain.Position
	err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := trade.Confirm(result.OrderID, result.FilledQuantity, result.AvgFillPrice, result.Fee, result.FeeCurrency, result.FullyFilled(), time.Now()); err != nil {
			return err
		}
		if err := repos.Trades.Update(ctx, trade); err != nil {
			return err
		}

		existing, err := repos.Positions.FindOpen(ctx, p.UserID, trade.Symbol, p.WhaleID)
		if err != nil {
			return err
		}
		side := positionSideFor(p.Side, p.TradeType)
		if existing != nil && existing.SameScope(p.UserID, trade.Symbol, p.WhaleID) {
			existing.MergeFill(result.FilledQuantity, result.AvgFillPrice)
			position = existing
			return repos.Positions.Update(ctx, position)
		}
		position = domain.NewOpenPosition(p.UserID, p.WhaleID, trade.Symbol, side, positionTypeFor(p.TradeType), result.FilledQuantity, result.AvgFillPrice, trade.SizeUSDT, p.Leverage, trade.ID, time.Now())
		_, err = repos.Positions.Insert(ctx, position)
		return err
	})
	if err != nil {
		// Phase 2C: the exchange call succeeded but the DB commit failed —
		// finalize as NEEDS_RECONCILIATION in a fresh transaction rather
		// than risk losing track of a live exchange order.
		_ = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
			trade.NeedsReconciliation(result.OrderID, err.Error())
			return repos.Trades.Update(ctx, trade)
		})
		return trade, &domain.NeedsReconciliationError{TradeID: trade.ID, ExchangeOrderID: result.OrderID, Cause: err}
	}

	e.pub.Publish(domain.NewEvent(domain.EventTradeExecuted, trade.ID, map[string]any{
		"user_id": trade.UserID, "symbol": trade.Symbol, "filled_quantity": result.FilledQuantity.String(),
	}, time.Now()))
	if position != nil {
		e.pub.Publish(domain.NewEvent(domain.EventPositionOpened, position.ID, map[string]any{
			"user_id": position.UserID, "symbol": position.Symbol,
		}, time.Now()))
	}
	return trade, nil
}

// rollback implements Phase 2B: step 10' plus the circuit-breaker failure
// record, which the resilience decorator already performed on the adapter
// call itself — the engine only needs to restore the reservation.
func (e *Engine) rollback(ctx context.Context, trade *domain.Trade, sizeUSDT decimal.Decimal, cause error) (*domain.Trade, error) {
	runErr := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := trade.Fail(cause.Error()); err != nil {
			return err
		}
		if err := repos.Trades.Update(ctx, trade); err != nil {
			return err
		}
		user, err := repos.Users.ForUpdate(ctx, trade.UserID)
		if err != nil {
			return err
		}
		user.Release(sizeUSDT)
		return repos.Users.Save(ctx, user)
	})
	if runErr != nil {
		return nil, runErr
	}
	e.pub.Publish(domain.NewEvent(domain.EventTradeFailed, trade.ID, map[string]any{"reason": cause.Error()}, time.Now()))
	return trade, cause
}

// ExecuteClose runs the same 2PC protocol with a reduce-only order against
// an existing OPEN position, per §4.10. Used by both close-signal handling
// (§4.8.4) and the position manager's trigger-evaluation loop.
func (e *Engine) ExecuteClose(ctx context.Context, pos *domain.Position, port exchange.Port, price decimal.Decimal, reason domain.CloseReason) (*domain.Trade, error) {
	symbol := exchange.NormalizeSymbol(pos.Symbol)
	quantity, err := port.RoundQuantity(ctx, symbol, pos.RemainingQuantity)
	if err != nil {
		return nil, err
	}

	var trade *domain.Trade
	closeSide := domain.SideSell
	if pos.Side == domain.PositionShort {
		closeSide = domain.SideBuy
	}
	tradeType := domain.TradeFuturesLong
	if pos.PositionType == domain.PositionSpot {
		tradeType = domain.TradeSpot
	}

	err = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		user, err := repos.Users.ForUpdate(ctx, pos.UserID)
		if err != nil {
			return err
		}
		sizeUSDT := quantity.Mul(price)
		trade = domain.NewReservedTrade(pos.UserID, nil, pos.WhaleID, port.Name(), symbol, closeSide, tradeType, sizeUSDT, quantity, pos.Leverage, time.Now())
		trade.ReduceOnly = true
		_, err = repos.Trades.Insert(ctx, trade)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := trade.BeginExecuting(); err != nil {
			return err
		}
		return repos.Trades.Update(ctx, trade)
	}); err != nil {
		return nil, err
	}

	var result exchange.OrderResult
	if pos.PositionType == domain.PositionFutures {
		result, err = port.FuturesClosePosition(ctx, symbol, pos.Side, quantity)
	} else if closeSide == domain.SideSell {
		result, err = port.SpotMarketSell(ctx, symbol, quantity)
	} else {
		result, err = port.SpotMarketBuy(ctx, symbol, quantity)
	}
	if err != nil {
		return e.rollback(ctx, trade, trade.SizeUSDT, err)
	}

	err = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := trade.Confirm(result.OrderID, result.FilledQuantity, result.AvgFillPrice, result.Fee, result.FeeCurrency, result.FullyFilled(), time.Now()); err != nil {
			return err
		}
		if err := repos.Trades.Update(ctx, trade); err != nil {
			return err
		}
		fillValue := pos.EntryPrice.Mul(result.FilledQuantity)
		realized := pos.CloseFill(result.AvgFillPrice, result.FilledQuantity, result.Fee, reason, trade.ID, time.Now())
		if err := repos.Positions.Update(ctx, pos); err != nil {
			return err
		}

		user, err := repos.Users.ForUpdate(ctx, pos.UserID)
		if err != nil {
			return err
		}
		user.AccrueDailyLoss(realized.Neg(), time.Now())
		if pos.Status != domain.PositionOpen {
			open, err := repos.Positions.OpenByUser(ctx, pos.UserID)
			if err != nil {
				return err
			}
			user.OpenPositions = len(open)
		}
		if err := repos.Users.Save(ctx, user); err != nil {
			return err
		}

		if pos.WhaleID != nil {
			whale, err := repos.Whales.Get(ctx, *pos.WhaleID)
			if err != nil {
				return err
			}
			whale.RecordClosedTrade(realized, fillValue)
			if err := repos.Whales.Update(ctx, whale); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = e.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
			trade.NeedsReconciliation(result.OrderID, err.Error())
			return repos.Trades.Update(ctx, trade)
		})
		return trade, &domain.NeedsReconciliationError{TradeID: trade.ID, ExchangeOrderID: result.OrderID, Cause: err}
	}

	kind := domain.EventPositionClosed
	if reason == domain.CloseLiquidated {
		kind = domain.EventPositionLiquidated
	}
	e.pub.Publish(domain.NewEvent(kind, pos.ID, map[string]any{"reason": string(reason)}, time.Now()))
	return trade, nil
}

func positionSideFor(side domain.Side, tt domain.TradeType) domain.PositionSide {
	if tt == domain.TradeFuturesShort {
		return domain.PositionShort
	}
	if tt == domain.TradeFuturesLong {
		return domain.PositionLong
	}
	if side == domain.SideBuy {
		return domain.PositionLong
	}
	return domain.PositionShort
}

func positionTypeFor(tt domain.TradeType) domain.PositionType {
	if tt == domain.TradeSpot {
		return domain.PositionSpot
	}
	return domain.PositionFutures
}
