// Package sqlite implements the repository package's UnitOfWork over
// modernc.org/sqlite, grounded directly on AlejandroRuiz99-polybot's
// SQLiteStorage: single sql.DB opened with SetMaxOpenConns(1) (sqlite is
// single-writer), schema applied with CREATE TABLE IF NOT EXISTS at open,
// and settings/tier-limits nested structs flattened to JSON columns the way
// main.go/hub.go marshal payloads with encoding/json.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"whalecopy/internal/domain"
	"whalecopy/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  INTEGER PRIMARY KEY,
    available_balance   TEXT NOT NULL DEFAULT '0',
    subscription_tier   TEXT NOT NULL DEFAULT '',
    tier_limits         TEXT NOT NULL DEFAULT '{}',
    settings            TEXT NOT NULL DEFAULT '{}',
    active              INTEGER NOT NULL DEFAULT 1,
    banned              INTEGER NOT NULL DEFAULT 0,
    daily_realized_loss TEXT NOT NULL DEFAULT '0',
    daily_loss_reset_at DATETIME,
    open_positions      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS whales (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange            TEXT NOT NULL,
    exchange_uid        TEXT NOT NULL DEFAULT '',
    chain               TEXT NOT NULL DEFAULT '',
    address             TEXT NOT NULL DEFAULT '',
    display_name        TEXT NOT NULL DEFAULT '',
    priority_score      INTEGER NOT NULL DEFAULT 50,
    data_status         TEXT NOT NULL DEFAULT 'ACTIVE',
    last_position_found DATETIME,
    consecutive_empty   INTEGER NOT NULL DEFAULT 0,
    follower_count      INTEGER NOT NULL DEFAULT 0,
    win_rate            TEXT NOT NULL DEFAULT '0.5',
    avg_win_loss_ratio   TEXT NOT NULL DEFAULT '1.5',
    roi_contribution    TEXT NOT NULL DEFAULT '0',
    created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS whale_follows (
    user_id                   INTEGER NOT NULL,
    whale_id                  INTEGER NOT NULL,
    auto_copy_enabled         INTEGER NOT NULL DEFAULT 0,
    trade_size_usdt           TEXT NOT NULL DEFAULT '0',
    trade_size_percent        TEXT NOT NULL DEFAULT '0',
    trading_mode_override     TEXT NOT NULL DEFAULT '',
    sizing_strategy_override  TEXT NOT NULL DEFAULT '',
    kelly_fraction_override   TEXT NOT NULL DEFAULT '0',
    trades_copied             INTEGER NOT NULL DEFAULT 0,
    total_pnl                 TEXT NOT NULL DEFAULT '0',
    active                    INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (user_id, whale_id)
);

CREATE TABLE IF NOT EXISTS signals (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    source             TEXT NOT NULL,
    whale_id           INTEGER,
    symbol             TEXT NOT NULL,
    side               TEXT NOT NULL,
    change_kind        TEXT NOT NULL,
    is_close           INTEGER NOT NULL DEFAULT 0,
    size_usd           TEXT NOT NULL DEFAULT '0',
    price              TEXT NOT NULL DEFAULT '0',
    priority           TEXT NOT NULL DEFAULT 'MEDIUM',
    idempotency_token  TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'PENDING',
    detected_at        DATETIME NOT NULL,
    processed_at       DATETIME,
    trades_executed    INTEGER NOT NULL DEFAULT 0,
    error_message      TEXT NOT NULL DEFAULT '',
    version            INTEGER NOT NULL DEFAULT 0,
    UNIQUE(idempotency_token)
);

CREATE TABLE IF NOT EXISTS trades (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id           INTEGER NOT NULL,
    signal_id         INTEGER,
    whale_id          INTEGER,
    exchange          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    trade_type        TEXT NOT NULL,
    size_usdt         TEXT NOT NULL DEFAULT '0',
    quantity          TEXT NOT NULL DEFAULT '0',
    leverage          INTEGER NOT NULL DEFAULT 1,
    status            TEXT NOT NULL DEFAULT 'PENDING',
    exchange_order_id TEXT NOT NULL DEFAULT '',
    executed_price    TEXT NOT NULL DEFAULT '0',
    filled_quantity   TEXT NOT NULL DEFAULT '0',
    fee_amount        TEXT NOT NULL DEFAULT '0',
    fee_currency      TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    executed_at       DATETIME,
    error_message     TEXT NOT NULL DEFAULT '',
    reduce_only       INTEGER NOT NULL DEFAULT 0,
    version           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id                 INTEGER NOT NULL,
    whale_id                INTEGER,
    symbol                  TEXT NOT NULL,
    side                    TEXT NOT NULL,
    position_type           TEXT NOT NULL,
    quantity                TEXT NOT NULL DEFAULT '0',
    remaining_quantity      TEXT NOT NULL DEFAULT '0',
    entry_price             TEXT NOT NULL DEFAULT '0',
    current_price           TEXT NOT NULL DEFAULT '0',
    exit_price              TEXT NOT NULL DEFAULT '0',
    entry_value_usdt        TEXT NOT NULL DEFAULT '0',
    current_value_usdt      TEXT NOT NULL DEFAULT '0',
    leverage                INTEGER NOT NULL DEFAULT 1,
    liquidation_price       TEXT NOT NULL DEFAULT '0',
    stop_loss_price         TEXT NOT NULL DEFAULT '0',
    take_profit_price       TEXT NOT NULL DEFAULT '0',
    unrealized_pnl          TEXT NOT NULL DEFAULT '0',
    unrealized_pnl_percent  TEXT NOT NULL DEFAULT '0',
    realized_pnl            TEXT NOT NULL DEFAULT '0',
    status                  TEXT NOT NULL DEFAULT 'OPEN',
    close_reason            TEXT NOT NULL DEFAULT '',
    entry_trade_id          INTEGER NOT NULL,
    exit_trade_id           INTEGER,
    opened_at               DATETIME NOT NULL,
    closed_at               DATETIME
);

CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(user_id, symbol, whale_id) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_trades_recon   ON trades(status);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status, priority, detected_at);
`

// DB wraps the shared *sql.DB and implements repository.UnitOfWork.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// schema, following SQLiteStorage's single-writer convention.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Run implements repository.UnitOfWork: fn runs inside one transaction;
// a non-nil return rolls it back, nil commits. Because the underlying
// *sql.DB is pinned to a single connection, the transaction itself is the
// row lock §4.8.3 step 1 calls for — no other writer can interleave.
func (d *DB) Run(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.Run: begin: %w", err)
	}
	repos := repository.Repos{
		Users:     &userRepo{tx},
		Trades:    &tradeRepo{tx},
		Positions: &positionRepo{tx},
		Signals:   &signalRepo{tx},
		Follows:   &followRepo{tx},
		Whales:    &whaleRepo{tx},
	}
	if err := fn(ctx, repos); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite.Run: commit: %w", err)
	}
	return nil
}

// --- users ---

type userRepo struct{ tx *sql.Tx }

func (r *userRepo) ForUpdate(ctx context.Context, userID int64) (*domain.User, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT id, available_balance, subscription_tier, tier_limits, settings, active, banned, daily_realized_loss, daily_loss_reset_at, open_positions FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

func (r *userRepo) Save(ctx context.Context, u *domain.User) error {
	tierJSON, err := json.Marshal(u.Tier)
	if err != nil {
		return err
	}
	settingsJSON, err := json.Marshal(u.Settings)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO users (id, available_balance, subscription_tier, tier_limits, settings, active, banned, daily_realized_loss, daily_loss_reset_at, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET available_balance=excluded.available_balance, subscription_tier=excluded.subscription_tier,
			tier_limits=excluded.tier_limits, settings=excluded.settings, active=excluded.active, banned=excluded.banned,
			daily_realized_loss=excluded.daily_realized_loss, daily_loss_reset_at=excluded.daily_loss_reset_at, open_positions=excluded.open_positions`,
		u.ID, u.AvailableBalance.String(), u.SubscriptionTier, string(tierJSON), string(settingsJSON),
		boolToInt(u.Active), boolToInt(u.Banned), u.DailyRealizedLoss.String(), nullableTimeValue(u.DailyLossResetAt), u.OpenPositions,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var balance, dailyLoss, tierJSON, settingsJSON string
	var active, banned int
	var resetAt sql.NullTime
	if err := row.Scan(&u.ID, &balance, &u.SubscriptionTier, &tierJSON, &settingsJSON, &active, &banned, &dailyLoss, &resetAt, &u.OpenPositions); err != nil {
		return nil, err
	}
	u.AvailableBalance, _ = decimal.NewFromString(balance)
	u.DailyRealizedLoss, _ = decimal.NewFromString(dailyLoss)
	u.DailyLossResetAt = resetAt.Time
	u.Active = active != 0
	u.Banned = banned != 0
	_ = json.Unmarshal([]byte(tierJSON), &u.Tier)
	_ = json.Unmarshal([]byte(settingsJSON), &u.Settings)
	return &u, nil
}

// --- trades ---

type tradeRepo struct{ tx *sql.Tx }

func (r *tradeRepo) Insert(ctx context.Context, t *domain.Trade) (int64, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO trades (user_id, signal_id, whale_id, exchange, symbol, side, trade_type, size_usdt, quantity, leverage, status, exchange_order_id, executed_price, filled_quantity, fee_amount, fee_currency, created_at, executed_at, error_message, reduce_only, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, nullableInt64(t.SignalID), nullableInt64(t.WhaleID), t.Exchange, t.Symbol, t.Side, t.TradeType,
		t.SizeUSDT.String(), t.Quantity.String(), t.Leverage, t.Status, t.ExchangeOrderID, t.ExecutedPrice.String(),
		t.FilledQuantity.String(), t.FeeAmount.String(), t.FeeCurrency, t.CreatedAt, nullableTime(t.ExecutedAt), t.ErrorMessage,
		boolToInt(t.ReduceOnly), t.Version,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *tradeRepo) Update(ctx context.Context, t *domain.Trade) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE trades SET status=?, exchange_order_id=?, executed_price=?, filled_quantity=?, fee_amount=?, fee_currency=?, executed_at=?, error_message=?, version=version+1
		WHERE id=? AND version=?`,
		t.Status, t.ExchangeOrderID, t.ExecutedPrice.String(), t.FilledQuantity.String(), t.FeeAmount.String(), t.FeeCurrency,
		nullableTime(t.ExecutedAt), t.ErrorMessage, t.ID, t.Version-1,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.FatalError{Reason: "trade version conflict"}
	}
	return nil
}

func (r *tradeRepo) Get(ctx context.Context, id int64) (*domain.Trade, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT id, user_id, signal_id, whale_id, exchange, symbol, side, trade_type, size_usdt, quantity, leverage, status, exchange_order_id, executed_price, filled_quantity, fee_amount, fee_currency, created_at, executed_at, error_message, reduce_only, version FROM trades WHERE id=?`, id)
	return scanTrade(row)
}

func (r *tradeRepo) PendingWithoutOrderID(ctx context.Context, olderThan time.Time) ([]*domain.Trade, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT id, user_id, signal_id, whale_id, exchange, symbol, side, trade_type, size_usdt, quantity, leverage, status, exchange_order_id, executed_price, filled_quantity, fee_amount, fee_currency, created_at, executed_at, error_message, reduce_only, version FROM trades WHERE status='PENDING' AND exchange_order_id='' AND created_at < ?`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (r *tradeRepo) NeedsReconciliation(ctx context.Context) ([]*domain.Trade, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT id, user_id, signal_id, whale_id, exchange, symbol, side, trade_type, size_usdt, quantity, leverage, status, exchange_order_id, executed_price, filled_quantity, fee_amount, fee_currency, created_at, executed_at, error_message, reduce_only, version FROM trades WHERE status='NEEDS_RECONCILIATION'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var signalID, whaleID sql.NullInt64
	var sizeUSDT, quantity, execPrice, filledQty, fee string
	var executedAt sql.NullTime
	var reduceOnly int
	if err := row.Scan(&t.ID, &t.UserID, &signalID, &whaleID, &t.Exchange, &t.Symbol, &t.Side, &t.TradeType,
		&sizeUSDT, &quantity, &t.Leverage, &t.Status, &t.ExchangeOrderID, &execPrice, &filledQty, &fee, &t.FeeCurrency,
		&t.CreatedAt, &executedAt, &t.ErrorMessage, &reduceOnly, &t.Version); err != nil {
		return nil, err
	}
	if signalID.Valid {
		v := signalID.Int64
		t.SignalID = &v
	}
	if whaleID.Valid {
		v := whaleID.Int64
		t.WhaleID = &v
	}
	t.SizeUSDT, _ = decimal.NewFromString(sizeUSDT)
	t.Quantity, _ = decimal.NewFromString(quantity)
	t.ExecutedPrice, _ = decimal.NewFromString(execPrice)
	t.FilledQuantity, _ = decimal.NewFromString(filledQty)
	t.FeeAmount, _ = decimal.NewFromString(fee)
	if executedAt.Valid {
		v := executedAt.Time
		t.ExecutedAt = &v
	}
	t.ReduceOnly = reduceOnly != 0
	return &t, nil
}

// --- positions ---

type positionRepo struct{ tx *sql.Tx }

func (r *positionRepo) FindOpen(ctx context.Context, userID int64, symbol string, whaleID *int64) (*domain.Position, error) {
	var row *sql.Row
	if whaleID == nil {
		row = r.tx.QueryRowContext(ctx, positionSelect+` WHERE status='OPEN' AND user_id=? AND symbol=? AND whale_id IS NULL`, userID, symbol)
	} else {
		row = r.tx.QueryRowContext(ctx, positionSelect+` WHERE status='OPEN' AND user_id=? AND symbol=? AND whale_id=?`, userID, symbol, *whaleID)
	}
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

const positionSelect = `SELECT id, user_id, whale_id, symbol, side, position_type, quantity, remaining_quantity, entry_price, current_price, exit_price, entry_value_usdt, current_value_usdt, leverage, liquidation_price, stop_loss_price, take_profit_price, unrealized_pnl, unrealized_pnl_percent, realized_pnl, status, close_reason, entry_trade_id, exit_trade_id, opened_at, closed_at FROM positions`

func (r *positionRepo) Insert(ctx context.Context, p *domain.Position) (int64, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO positions (user_id, whale_id, symbol, side, position_type, quantity, remaining_quantity, entry_price, current_price, exit_price, entry_value_usdt, current_value_usdt, leverage, liquidation_price, stop_loss_price, take_profit_price, unrealized_pnl, unrealized_pnl_percent, realized_pnl, status, close_reason, entry_trade_id, exit_trade_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, nullableInt64(p.WhaleID), p.Symbol, p.Side, p.PositionType, p.Quantity.String(), p.RemainingQuantity.String(),
		p.EntryPrice.String(), p.CurrentPrice.String(), p.ExitPrice.String(), p.EntryValueUSDT.String(), p.CurrentValueUSDT.String(),
		p.Leverage, p.LiquidationPrice.String(), p.StopLossPrice.String(), p.TakeProfitPrice.String(), p.UnrealizedPnL.String(),
		p.UnrealizedPnLPercent.String(), p.RealizedPnL.String(), p.Status, p.CloseReason, p.EntryTradeID, nullableInt64(p.ExitTradeID),
		p.OpenedAt, nullableTime(p.ClosedAt),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (r *positionRepo) Update(ctx context.Context, p *domain.Position) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE positions SET quantity=?, remaining_quantity=?, entry_price=?, current_price=?, exit_price=?, entry_value_usdt=?, current_value_usdt=?,
			liquidation_price=?, stop_loss_price=?, take_profit_price=?, unrealized_pnl=?, unrealized_pnl_percent=?, realized_pnl=?, status=?, close_reason=?,
			exit_trade_id=?, closed_at=?
		WHERE id=?`,
		p.Quantity.String(), p.RemainingQuantity.String(), p.EntryPrice.String(), p.CurrentPrice.String(), p.ExitPrice.String(),
		p.EntryValueUSDT.String(), p.CurrentValueUSDT.String(), p.LiquidationPrice.String(), p.StopLossPrice.String(), p.TakeProfitPrice.String(),
		p.UnrealizedPnL.String(), p.UnrealizedPnLPercent.String(), p.RealizedPnL.String(), p.Status, p.CloseReason, nullableInt64(p.ExitTradeID),
		nullableTime(p.ClosedAt), p.ID,
	)
	return err
}

func (r *positionRepo) Get(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.tx.QueryRowContext(ctx, positionSelect+` WHERE id=?`, id)
	return scanPosition(row)
}

func (r *positionRepo) OpenByUser(ctx context.Context, userID int64) ([]*domain.Position, error) {
	rows, err := r.tx.QueryContext(ctx, positionSelect+` WHERE status='OPEN' AND user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (r *positionRepo) AllOpen(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.tx.QueryContext(ctx, positionSelect+` WHERE status='OPEN'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]*domain.Position, error) {
	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var whaleID, exitTradeID sql.NullInt64
	var quantity, remQty, entryPrice, curPrice, exitPrice, entryVal, curVal, liqPrice, slPrice, tpPrice, unrealPnl, unrealPct, realPnl string
	var closedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.UserID, &whaleID, &p.Symbol, &p.Side, &p.PositionType, &quantity, &remQty, &entryPrice, &curPrice,
		&exitPrice, &entryVal, &curVal, &p.Leverage, &liqPrice, &slPrice, &tpPrice, &unrealPnl, &unrealPct, &realPnl, &p.Status,
		&p.CloseReason, &p.EntryTradeID, &exitTradeID, &p.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	if whaleID.Valid {
		v := whaleID.Int64
		p.WhaleID = &v
	}
	if exitTradeID.Valid {
		v := exitTradeID.Int64
		p.ExitTradeID = &v
	}
	p.Quantity, _ = decimal.NewFromString(quantity)
	p.RemainingQuantity, _ = decimal.NewFromString(remQty)
	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.CurrentPrice, _ = decimal.NewFromString(curPrice)
	p.ExitPrice, _ = decimal.NewFromString(exitPrice)
	p.EntryValueUSDT, _ = decimal.NewFromString(entryVal)
	p.CurrentValueUSDT, _ = decimal.NewFromString(curVal)
	p.LiquidationPrice, _ = decimal.NewFromString(liqPrice)
	p.StopLossPrice, _ = decimal.NewFromString(slPrice)
	p.TakeProfitPrice, _ = decimal.NewFromString(tpPrice)
	p.UnrealizedPnL, _ = decimal.NewFromString(unrealPnl)
	p.UnrealizedPnLPercent, _ = decimal.NewFromString(unrealPct)
	p.RealizedPnL, _ = decimal.NewFromString(realPnl)
	if closedAt.Valid {
		v := closedAt.Time
		p.ClosedAt = &v
	}
	return &p, nil
}

// --- signals ---

type signalRepo struct{ tx *sql.Tx }

func (r *signalRepo) Insert(ctx context.Context, s *domain.Signal) (int64, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO signals (source, whale_id, symbol, side, change_kind, is_close, size_usd, price, priority, idempotency_token, status, detected_at, processed_at, trades_executed, error_message, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Source, s.WhaleID, s.Symbol, s.Side, s.ChangeKind, boolToInt(s.IsClose), s.SizeUSD.String(), s.Price.String(),
		s.Priority, s.IdempotencyToken, s.Status, s.DetectedAt, nullableTime(s.ProcessedAt), s.TradesExecuted, s.ErrorMessage, s.Version,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

func (r *signalRepo) Update(ctx context.Context, s *domain.Signal) error {
	_, err := r.tx.ExecContext(ctx, `UPDATE signals SET status=?, processed_at=?, trades_executed=?, error_message=?, version=version+1 WHERE id=?`,
		s.Status, nullableTime(s.ProcessedAt), s.TradesExecuted, s.ErrorMessage, s.ID)
	return err
}

func (r *signalRepo) Get(ctx context.Context, id int64) (*domain.Signal, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT id, source, whale_id, symbol, side, change_kind, is_close, size_usd, price, priority, idempotency_token, status, detected_at, processed_at, trades_executed, error_message, version FROM signals WHERE id=?`, id)
	var s domain.Signal
	var isClose int
	var sizeUSD, price string
	var processedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Source, &s.WhaleID, &s.Symbol, &s.Side, &s.ChangeKind, &isClose, &sizeUSD, &price, &s.Priority,
		&s.IdempotencyToken, &s.Status, &s.DetectedAt, &processedAt, &s.TradesExecuted, &s.ErrorMessage, &s.Version); err != nil {
		return nil, err
	}
	s.IsClose = isClose != 0
	s.SizeUSD, _ = decimal.NewFromString(sizeUSD)
	s.Price, _ = decimal.NewFromString(price)
	if processedAt.Valid {
		v := processedAt.Time
		s.ProcessedAt = &v
	}
	return &s, nil
}

// --- whale follows ---

type followRepo struct{ tx *sql.Tx }

func (r *followRepo) Get(ctx context.Context, userID, whaleID int64) (*domain.WhaleFollow, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT user_id, whale_id, auto_copy_enabled, trade_size_usdt, trade_size_percent, trading_mode_override, sizing_strategy_override, kelly_fraction_override, trades_copied, total_pnl, active FROM whale_follows WHERE user_id=? AND whale_id=?`, userID, whaleID)
	return scanFollow(row)
}

func (r *followRepo) Update(ctx context.Context, f *domain.WhaleFollow) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE whale_follows SET trades_copied=?, total_pnl=? WHERE user_id=? AND whale_id=?`,
		f.TradesCopied, f.TotalPnL.String(), f.UserID, f.WhaleID)
	return err
}

func (r *followRepo) AutoCopyFollowersOf(ctx context.Context, whaleID int64) ([]*domain.WhaleFollow, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT user_id, whale_id, auto_copy_enabled, trade_size_usdt, trade_size_percent, trading_mode_override, sizing_strategy_override, kelly_fraction_override, trades_copied, total_pnl, active FROM whale_follows WHERE whale_id=? AND auto_copy_enabled=1 AND active=1`, whaleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.WhaleFollow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFollow(row rowScanner) (*domain.WhaleFollow, error) {
	var f domain.WhaleFollow
	var autoCopy, active int
	var tradeSizeUSDT, tradeSizePercent, kellyFrac, totalPnl string
	if err := row.Scan(&f.UserID, &f.WhaleID, &autoCopy, &tradeSizeUSDT, &tradeSizePercent, &f.TradingModeOverride,
		&f.SizingStrategyOverride, &kellyFrac, &f.TradesCopied, &totalPnl, &active); err != nil {
		return nil, err
	}
	f.AutoCopyEnabled = autoCopy != 0
	f.Active = active != 0
	f.TradeSizeUSDT, _ = decimal.NewFromString(tradeSizeUSDT)
	f.TradeSizePercent, _ = decimal.NewFromString(tradeSizePercent)
	f.KellyFractionOverride, _ = decimal.NewFromString(kellyFrac)
	f.TotalPnL, _ = decimal.NewFromString(totalPnl)
	return &f, nil
}

// --- whales ---

type whaleRepo struct{ tx *sql.Tx }

func (r *whaleRepo) Get(ctx context.Context, id int64) (*domain.Whale, error) {
	row := r.tx.QueryRowContext(ctx, whaleSelect+` WHERE id=?`, id)
	return scanWhale(row)
}

const whaleSelect = `SELECT id, exchange, exchange_uid, chain, address, display_name, priority_score, data_status, last_position_found, consecutive_empty, follower_count, win_rate, avg_win_loss_ratio, roi_contribution, created_at FROM whales`

func (r *whaleRepo) Update(ctx context.Context, w *domain.Whale) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE whales SET priority_score=?, data_status=?, last_position_found=?, consecutive_empty=?, follower_count=?, win_rate=?, avg_win_loss_ratio=?, roi_contribution=?
		WHERE id=?`,
		w.PriorityScore, w.DataStatus, w.LastPositionFound, w.ConsecutiveEmpty, w.FollowerCount,
		w.WinRate, w.AvgWinLossRatio, w.ROIContribution, w.ID)
	return err
}

func (r *whaleRepo) AllWhales(ctx context.Context) ([]*domain.Whale, error) {
	rows, err := r.tx.QueryContext(ctx, whaleSelect)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Whale
	for rows.Next() {
		w, err := scanWhale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWhale(row rowScanner) (*domain.Whale, error) {
	var w domain.Whale
	var lastFound sql.NullTime
	if err := row.Scan(&w.ID, &w.Exchange, &w.ExchangeUID, &w.Chain, &w.Address, &w.DisplayName, &w.PriorityScore, &w.DataStatus,
		&lastFound, &w.ConsecutiveEmpty, &w.FollowerCount, &w.WinRate, &w.AvgWinLossRatio, &w.ROIContribution, &w.CreatedAt); err != nil {
		return nil, err
	}
	if lastFound.Valid {
		w.LastPositionFound = lastFound.Time
	}
	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nullableTimeValue is nullableTime's counterpart for a bare (non-pointer)
// time.Time whose zero value means "unset" rather than "epoch".
func nullableTimeValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
