// Package position implements C10: the mark-to-market loop and the
// stop-loss/take-profit/liquidation trigger-evaluation loop, both driven by
// their own ticker independent of C5's whale-polling scheduler. Grounded on
// scheduler.Scheduler's one-goroutine-per-ticker shape, generalized from
// "one goroutine per polling tier" to "one goroutine per position-manager
// concern" (mark-to-market, trigger evaluation).
package position

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whalecopy/internal/copytrade"
	"whalecopy/internal/domain"
	"whalecopy/internal/exchange"
	"whalecopy/internal/repository"
)

// Config carries the two loop intervals; both are independent of the C5
// polling tiers per §4.10.
type Config struct {
	MarkToMarketInterval time.Duration
	TriggerInterval      time.Duration
}

// DefaultConfig matches the interval the teacher's liquidation monitor polls
// at, generalized to both loops this package runs.
func DefaultConfig() Config {
	return Config{
		MarkToMarketInterval: 5 * time.Second,
		TriggerInterval:      5 * time.Second,
	}
}

// Manager owns both C10 loops for one process.
type Manager struct {
	uow    repository.UnitOfWork
	ports  map[domain.Exchange]exchange.Port
	engine *copytrade.Engine
	cfg    Config

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(uow repository.UnitOfWork, ports map[domain.Exchange]exchange.Port, engine *copytrade.Engine, cfg Config) *Manager {
	return &Manager{uow: uow, ports: ports, engine: engine, cfg: cfg}
}

// Start launches the mark-to-market and trigger-evaluation loops, each on
// its own ticker, until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.runLoop(ctx, m.cfg.MarkToMarketInterval, m.markToMarketTick)
	go m.runLoop(ctx, m.cfg.TriggerInterval, m.triggerTick)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// markToMarketTick pulls a fresh ticker price per OPEN position's symbol and
// recomputes current_price/current_value_usdt/unrealized_pnl(_percent) via
// Position.MarkToMarket, per §4.10.
func (m *Manager) markToMarketTick(ctx context.Context) {
	open, err := m.allOpen(ctx)
	if err != nil {
		log.Printf("position: mark-to-market: failed to list open positions: %v", err)
		return
	}
	for _, tp := range open {
		price, err := tp.port.GetTickerPrice(ctx, tp.position.Symbol)
		if err != nil {
			log.Printf("position: mark-to-market: price lookup failed for %s: %v", tp.position.Symbol, err)
			continue
		}
		pos := tp.position
		pos.MarkToMarket(price)
		if err := m.saveMarked(ctx, pos); err != nil {
			log.Printf("position: mark-to-market: failed to save position %d: %v", pos.ID, err)
		}
	}
}

// triggerTick evaluates stop-loss, take-profit, and liquidation triggers
// against the same fresh prices, per §4.10. Reduce-only closes run through
// the exact 2PC protocol of §4.8.3 via Engine.ExecuteClose.
func (m *Manager) triggerTick(ctx context.Context) {
	open, err := m.allOpen(ctx)
	if err != nil {
		log.Printf("position: trigger evaluation: failed to list open positions: %v", err)
		return
	}
	for _, tp := range open {
		price, err := tp.port.GetTickerPrice(ctx, tp.position.Symbol)
		if err != nil {
			log.Printf("position: trigger evaluation: price lookup failed for %s: %v", tp.position.Symbol, err)
			continue
		}
		m.evaluateOne(ctx, tp.position, tp.port, price)
	}
}

func (m *Manager) evaluateOne(ctx context.Context, pos *domain.Position, port exchange.Port, price decimal.Decimal) {
	switch {
	case pos.PositionType == domain.PositionFutures && pos.ShouldLiquidate(price):
		m.closeTriggered(ctx, pos, port, pos.LiquidationPrice, domain.CloseLiquidated)
	case pos.ShouldTriggerStopLoss(price):
		m.closeTriggered(ctx, pos, port, price, domain.CloseStopLoss)
	case pos.ShouldTriggerTakeProfit(price):
		m.closeTriggered(ctx, pos, port, price, domain.CloseTakeProfit)
	}
}

// closeTriggered runs the reduce-only close. Spot closes first read the
// exchange's actual wallet balance, since a spot wallet can drift from the
// recorded quantity (manual withdrawals, dust, fee deduction in the base
// asset): a positive balance below RemainingQuantity is sold in its place,
// while a zero balance or one at or above RemainingQuantity leaves
// RemainingQuantity as the quantity sold. Futures closes use RemainingQuantity as
// recorded, since futures positions are derivative contracts with no
// wallet-balance equivalent.
func (m *Manager) closeTriggered(ctx context.Context, pos *domain.Position, port exchange.Port, price decimal.Decimal, reason domain.CloseReason) {
	if pos.PositionType == domain.PositionSpot {
		asset := baseAsset(pos.Symbol)
		bal, err := port.GetAssetBalance(ctx, asset)
		if err != nil {
			log.Printf("position: trigger: wallet balance lookup failed for %s: %v", asset, err)
			return
		}
		if bal.GreaterThan(decimal.Zero) && bal.LessThan(pos.RemainingQuantity) {
			pos.RemainingQuantity = bal
		}
	}

	trade, err := m.engine.ExecuteClose(ctx, pos, port, price, reason)
	if err != nil {
		log.Printf("position: trigger: close failed for position %d: %v", pos.ID, err)
		return
	}
	if pos.Status == domain.PositionOpen && pos.RemainingQuantity.GreaterThan(decimal.Zero) {
		// Partial fill: position stays OPEN (Position.CloseFill already
		// applied the partial realization); the remaining quantity is
		// picked up again on the next trigger tick.
		log.Printf("position: trigger: partial close for position %d, trade %d, %s remaining", pos.ID, trade.ID, pos.RemainingQuantity.String())
	}
}

// baseAsset strips a quote asset suffix to recover the wallet asset a spot
// position's quantity is denominated in, e.g. "BTCUSDT" -> "BTC".
func baseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD", "FDUSD"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

type targetedPosition struct {
	position *domain.Position
	port     exchange.Port
}

// allOpen resolves every OPEN position to the exchange its entry trade
// executed on, the same transitive lookup processCloseSignal uses, since
// Position carries no Exchange field of its own.
func (m *Manager) allOpen(ctx context.Context) ([]targetedPosition, error) {
	var out []targetedPosition
	err := m.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		open, err := repos.Positions.AllOpen(ctx)
		if err != nil {
			return err
		}
		for _, p := range open {
			entryTrade, err := repos.Trades.Get(ctx, p.EntryTradeID)
			if err != nil {
				return err
			}
			port, ok := m.ports[entryTrade.Exchange]
			if !ok {
				continue
			}
			out = append(out, targetedPosition{position: p, port: port})
		}
		return nil
	})
	return out, err
}

// saveMarked persists a mark-to-market update in its own transaction,
// independent of any other position's update in the same tick.
func (m *Manager) saveMarked(ctx context.Context, pos *domain.Position) error {
	return m.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		return repos.Positions.Update(ctx, pos)
	})
}
