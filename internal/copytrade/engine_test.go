package copytrade

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
	"whalecopy/internal/exchange"
	"whalecopy/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeUoW is an in-memory repository.UnitOfWork: every Run call executes fn
// synchronously against the same in-memory maps, with no real isolation —
// sufficient for exercising the 2PC sequencing the engine drives.
type fakeUoW struct {
	users     map[int64]*domain.User
	trades    map[int64]*domain.Trade
	positions map[int64]*domain.Position
	follows   map[int64]*domain.WhaleFollow // keyed by UserID for this test's single-whale scope
	whales    map[int64]*domain.Whale
	nextTrade int64
	nextPos   int64
}

func newFakeUoW() *fakeUoW {
	return &fakeUoW{
		users:     map[int64]*domain.User{},
		trades:    map[int64]*domain.Trade{},
		positions: map[int64]*domain.Position{},
		follows:   map[int64]*domain.WhaleFollow{},
		whales:    map[int64]*domain.Whale{},
	}
}

func (f *fakeUoW) Run(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	return fn(ctx, repository.Repos{
		Users:     fakeUsers{f},
		Trades:    fakeTrades{f},
		Positions: fakePositions{f},
		Signals:   fakeSignals{},
		Follows:   fakeFollows{f},
		Whales:    fakeWhales{f},
	})
}

type fakeUsers struct{ f *fakeUoW }

func (r fakeUsers) ForUpdate(ctx context.Context, userID int64) (*domain.User, error) {
	u, ok := r.f.users[userID]
	if !ok {
		return nil, &domain.FatalError{Reason: "no such user"}
	}
	return u, nil
}
func (r fakeUsers) Save(ctx context.Context, u *domain.User) error {
	r.f.users[u.ID] = u
	return nil
}
type fakeTrades struct{ f *fakeUoW }

func (r fakeTrades) Insert(ctx context.Context, t *domain.Trade) (int64, error) {
	r.f.nextTrade++
	t.ID = r.f.nextTrade
	r.f.trades[t.ID] = t
	return t.ID, nil
}
func (r fakeTrades) Update(ctx context.Context, t *domain.Trade) error {
	r.f.trades[t.ID] = t
	return nil
}
func (r fakeTrades) Get(ctx context.Context, id int64) (*domain.Trade, error) {
	t, ok := r.f.trades[id]
	if !ok {
		return nil, &domain.FatalError{Reason: "no such trade"}
	}
	return t, nil
}
func (r fakeTrades) PendingWithoutOrderID(ctx context.Context, olderThan time.Time) ([]*domain.Trade, error) {
	return nil, nil
}
func (r fakeTrades) NeedsReconciliation(ctx context.Context) ([]*domain.Trade, error) { return nil, nil }

type fakePositions struct{ f *fakeUoW }

func (r fakePositions) FindOpen(ctx context.Context, userID int64, symbol string, whaleID *int64) (*domain.Position, error) {
	for _, p := range r.f.positions {
		if p.Status == domain.PositionOpen && p.SameScope(userID, symbol, whaleID) {
			return p, nil
		}
	}
	return nil, nil
}
func (r fakePositions) Insert(ctx context.Context, p *domain.Position) (int64, error) {
	r.f.nextPos++
	p.ID = r.f.nextPos
	r.f.positions[p.ID] = p
	return p.ID, nil
}
func (r fakePositions) Update(ctx context.Context, p *domain.Position) error {
	r.f.positions[p.ID] = p
	return nil
}
func (r fakePositions) Get(ctx context.Context, id int64) (*domain.Position, error) {
	p, ok := r.f.positions[id]
	if !ok {
		return nil, &domain.FatalError{Reason: "no such position"}
	}
	return p, nil
}
func (r fakePositions) OpenByUser(ctx context.Context, userID int64) ([]*domain.Position, error) {
	return nil, nil
}
func (r fakePositions) AllOpen(ctx context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range r.f.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSignals struct{}

func (fakeSignals) Insert(ctx context.Context, s *domain.Signal) (int64, error) { return 0, nil }
func (fakeSignals) Update(ctx context.Context, s *domain.Signal) error         { return nil }
func (fakeSignals) Get(ctx context.Context, id int64) (*domain.Signal, error)  { return nil, nil }

type fakeFollows struct{ f *fakeUoW }

func (r fakeFollows) Get(ctx context.Context, userID, whaleID int64) (*domain.WhaleFollow, error) {
	return r.f.follows[userID], nil
}
func (r fakeFollows) Update(ctx context.Context, fl *domain.WhaleFollow) error {
	r.f.follows[fl.UserID] = fl
	return nil
}
func (r fakeFollows) AutoCopyFollowersOf(ctx context.Context, whaleID int64) ([]*domain.WhaleFollow, error) {
	var out []*domain.WhaleFollow
	for _, fl := range r.f.follows {
		if fl.WhaleID == whaleID && fl.AutoCopyEnabled {
			out = append(out, fl)
		}
	}
	return out, nil
}

type fakeWhales struct{ f *fakeUoW }

func (r fakeWhales) Get(ctx context.Context, id int64) (*domain.Whale, error) {
	return r.f.whales[id], nil
}
func (r fakeWhales) Update(ctx context.Context, w *domain.Whale) error {
	r.f.whales[w.ID] = w
	return nil
}
func (r fakeWhales) AllWhales(ctx context.Context) ([]*domain.Whale, error) { return nil, nil }

// fakePort implements exchange.Port with scriptable order behavior (market
// and limit orders share one script), a fixed ticker price and min-notional,
// and pass-through rounding; every other method returns a zero value.
type fakePort struct {
	name       domain.Exchange
	price      decimal.Decimal
	minNotional decimal.Decimal
	orderErr   error
	fillQty    decimal.Decimal
	fillPrice  decimal.Decimal
	fullyFilled bool
}

func (p *fakePort) Initialize(ctx context.Context) error { return nil }
func (p *fakePort) Close() error                         { return nil }

func (p *fakePort) order(symbol string, qty decimal.Decimal) (exchange.OrderResult, error) {
	if p.orderErr != nil {
		return exchange.OrderResult{}, p.orderErr
	}
	status := domain.OrderPartiallyFilled
	if p.fullyFilled {
		status = domain.OrderFilled
	}
	fq := p.fillQty
	if fq.IsZero() {
		fq = qty
	}
	fp := p.fillPrice
	if fp.IsZero() {
		fp = p.price
	}
	return exchange.OrderResult{OrderID: "order-1", Symbol: symbol, Status: status, FilledQuantity: fq, AvgFillPrice: fp}, nil
}

func (p *fakePort) SpotMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) SpotMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) SpotLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) SpotLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (p *fakePort) FuturesMarketLong(ctx context.Context, symbol string, qty decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) FuturesMarketShort(ctx context.Context, symbol string, qty decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) FuturesClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) (exchange.OrderResult, error) {
	return p.order(symbol, qty)
}
func (p *fakePort) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (p *fakePort) GetAssetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (p *fakePort) GetFuturesBalance(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (p *fakePort) GetOrder(ctx context.Context, symbol, orderID string) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (p *fakePort) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (p *fakePort) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	return nil, nil
}
func (p *fakePort) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.price, nil
}
func (p *fakePort) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return exchange.SymbolInfo{}, nil
}
func (p *fakePort) GetMinNotional(ctx context.Context, symbol string, isFutures bool) (decimal.Decimal, error) {
	return p.minNotional, nil
}
func (p *fakePort) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	return qty, nil
}
func (p *fakePort) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	return price, nil
}
func (p *fakePort) PlaceStopLossOrder(ctx context.Context, symbol string, side domain.PositionSide, qty, stopPrice decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (p *fakePort) CancelStopLossOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (p *fakePort) ModifyStopLossOrder(ctx context.Context, symbol, orderID string, newStopPrice decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (p *fakePort) CalculateStopLossPrice(entry decimal.Decimal, side domain.PositionSide, stopLossPercent decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}
func (p *fakePort) Name() domain.Exchange { return p.name }

func testConfig() Config {
	return Config{MinTradingBalanceUSDT: dec("20"), MinTradeUSDT: dec("5"), MaxTradeUSDT: dec("5000")}
}

func TestExecute2PCHappyPathConfirmsAndOpensPosition(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true}
	port := &fakePort{name: domain.ExchangeBinance, price: dec("100"), fullyFilled: true}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	trade, err := eng.Execute2PC(context.Background(), ExecuteParams{
		UserID: 1, Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Side: domain.SideBuy,
		TradeType: domain.TradeSpot, SizeUSDT: dec("100"), Leverage: 1,
	}, port)

	require.NoError(t, err)
	assert.Equal(t, domain.TradeFilled, trade.Status)
	assert.True(t, uow.users[1].AvailableBalance.Equal(dec("900")), "reserved balance must stay debited on success")
	assert.Len(t, uow.positions, 1)
}

func TestExecute2PCInsufficientBalanceAbortsBeforeReservation(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("10"), Active: true}
	port := &fakePort{name: domain.ExchangeBinance, price: dec("100"), fullyFilled: true}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	_, err := eng.Execute2PC(context.Background(), ExecuteParams{
		UserID: 1, Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Side: domain.SideBuy,
		TradeType: domain.TradeSpot, SizeUSDT: dec("100"), Leverage: 1,
	}, port)

	require.Error(t, err)
	assert.IsType(t, &domain.InsufficientBalanceError{}, err)
	assert.Empty(t, uow.trades, "no trade should be created when the balance re-check fails")
}

func TestExecute2PCRollsBackOnExchangeFailure(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true}
	port := &fakePort{name: domain.ExchangeBinance, price: dec("100"), orderErr: &domain.ExchangeAPIError{Venue: "BINANCE", Message: "boom"}}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	_, err := eng.Execute2PC(context.Background(), ExecuteParams{
		UserID: 1, Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Side: domain.SideBuy,
		TradeType: domain.TradeSpot, SizeUSDT: dec("100"), Leverage: 1,
	}, port)

	require.Error(t, err)
	assert.True(t, uow.users[1].AvailableBalance.Equal(dec("1000")), "a failed exchange call must restore the reservation")
	for _, tr := range uow.trades {
		assert.Equal(t, domain.TradeFailed, tr.Status)
	}
}

func TestExecute2PCPartialFillLeavesTradePartiallyFilled(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true}
	port := &fakePort{name: domain.ExchangeBinance, price: dec("100"), fillQty: dec("0.5"), fullyFilled: false}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	trade, err := eng.Execute2PC(context.Background(), ExecuteParams{
		UserID: 1, Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Side: domain.SideBuy,
		TradeType: domain.TradeSpot, SizeUSDT: dec("100"), Leverage: 1,
	}, port)

	require.NoError(t, err)
	assert.Equal(t, domain.TradePartiallyFilled, trade.Status)
}

func TestExecuteCloseFullyClosesPosition(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true}
	pos := domain.NewOpenPosition(1, nil, "BTCUSDT", domain.PositionLong, domain.PositionFutures, dec("1"), dec("100"), dec("100"), 1, 1, time.Now())
	uow.positions[1] = pos
	pos.ID = 1

	port := &fakePort{name: domain.ExchangeBinance, price: dec("110"), fullyFilled: true}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	_, err := eng.ExecuteClose(context.Background(), pos, port, dec("110"), domain.CloseTakeProfit)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, domain.CloseTakeProfit, pos.CloseReason)
}

func TestCopyForFollowerRejectsWhenNoPortConfigured(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true, Tier: domain.TierLimits{MaxPositions: 5}}
	uow.whales[1] = &domain.Whale{ID: 1}
	eng := New(uow, map[domain.Exchange]exchange.Port{}, nil, testConfig())

	follow := &domain.WhaleFollow{UserID: 1, WhaleID: 1, AutoCopyEnabled: true}
	sig := &domain.Signal{ID: 1, WhaleID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, TradeType: domain.TradeSpot, SizeUSD: dec("100")}

	err := eng.copyForFollower(context.Background(), sig, follow, uow.whales[1])
	assert.Error(t, err)
	assert.IsType(t, &domain.FatalError{}, err)
}

func TestProcessOpenSignalExecutesForEachAutoCopyFollower(t *testing.T) {
	uow := newFakeUoW()
	uow.users[1] = &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true, Tier: domain.TierLimits{MaxPositions: 5},
		Settings: domain.UserSettings{PreferredExchange: domain.ExchangeBinance, DefaultTradeSizeUSDT: dec("50")}}
	uow.whales[1] = &domain.Whale{ID: 1, WinRate: 0.6, AvgWinLossRatio: 2}
	uow.follows[1] = &domain.WhaleFollow{UserID: 1, WhaleID: 1, AutoCopyEnabled: true}

	port := &fakePort{name: domain.ExchangeBinance, price: dec("100"), fullyFilled: true}
	eng := New(uow, map[domain.Exchange]exchange.Port{domain.ExchangeBinance: port}, nil, testConfig())

	sig := &domain.Signal{ID: 1, WhaleID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, TradeType: domain.TradeFuturesLong, SizeUSD: dec("100")}
	n, err := eng.ProcessSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
