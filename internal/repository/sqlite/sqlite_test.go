package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
	"whalecopy/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUserSaveAndForUpdateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		u := &domain.User{ID: 1, AvailableBalance: dec("1000"), Active: true, Tier: domain.TierLimits{MaxPositions: 5}}
		return repos.Users.Save(ctx, u)
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		u, err := repos.Users.ForUpdate(ctx, 1)
		require.NoError(t, err)
		assert.True(t, u.AvailableBalance.Equal(dec("1000")))
		assert.True(t, u.Active)
		assert.Equal(t, 5, u.Tier.MaxPositions)
		return nil
	})
	require.NoError(t, err)
}

func TestTradeInsertUpdateOptimisticLock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var tradeID int64
	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade := domain.NewReservedTrade(1, nil, nil, domain.ExchangeBinance, "BTCUSDT", domain.SideBuy, domain.TradeSpot, dec("100"), dec("1"), 1, time.Now())
		id, err := repos.Trades.Insert(ctx, trade)
		tradeID = id
		return err
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade, err := repos.Trades.Get(ctx, tradeID)
		require.NoError(t, err)
		require.NoError(t, trade.BeginExecuting())
		return repos.Trades.Update(ctx, trade)
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade, err := repos.Trades.Get(ctx, tradeID)
		require.NoError(t, err)
		assert.Equal(t, domain.TradeExecuting, trade.Status)
		assert.Equal(t, int64(1), trade.Version)
		return nil
	})
	require.NoError(t, err)
}

func TestTradeUpdateConflictsOnStaleVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var tradeID int64
	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade := domain.NewReservedTrade(1, nil, nil, domain.ExchangeBinance, "BTCUSDT", domain.SideBuy, domain.TradeSpot, dec("100"), dec("1"), 1, time.Now())
		id, err := repos.Trades.Insert(ctx, trade)
		tradeID = id
		return err
	})
	require.NoError(t, err)

	stale := domain.NewReservedTrade(1, nil, nil, domain.ExchangeBinance, "BTCUSDT", domain.SideBuy, domain.TradeSpot, dec("100"), dec("1"), 1, time.Now())
	stale.ID = tradeID
	stale.Version = 5 // never actually persisted at this version

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		require.NoError(t, stale.BeginExecuting())
		return repos.Trades.Update(ctx, stale)
	})
	require.Error(t, err)
	assert.IsType(t, &domain.FatalError{}, err)
}

func TestPositionInsertFindOpenAndUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var posID int64
	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade := domain.NewReservedTrade(1, nil, nil, domain.ExchangeBinance, "BTCUSDT", domain.SideBuy, domain.TradeSpot, dec("100"), dec("1"), 1, time.Now())
		id, err := repos.Trades.Insert(ctx, trade)
		if err != nil {
			return err
		}
		pos := domain.NewOpenPosition(1, nil, "BTCUSDT", domain.PositionLong, domain.PositionSpot, dec("1"), dec("100"), dec("100"), 1, id, time.Now())
		posID, err = repos.Positions.Insert(ctx, pos)
		return err
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		found, err := repos.Positions.FindOpen(ctx, 1, "BTCUSDT", nil)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, posID, found.ID)

		found.MarkToMarket(dec("110"))
		return repos.Positions.Update(ctx, found)
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		p, err := repos.Positions.Get(ctx, posID)
		require.NoError(t, err)
		assert.True(t, p.CurrentPrice.Equal(dec("110")))
		return nil
	})
	require.NoError(t, err)
}

func TestFindOpenScopesByWhaleID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	whaleA := int64(1)
	whaleB := int64(2)

	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		trade := domain.NewReservedTrade(1, nil, nil, domain.ExchangeBinance, "BTCUSDT", domain.SideBuy, domain.TradeSpot, dec("100"), dec("1"), 1, time.Now())
		id, err := repos.Trades.Insert(ctx, trade)
		if err != nil {
			return err
		}
		pos := domain.NewOpenPosition(1, &whaleA, "BTCUSDT", domain.PositionLong, domain.PositionSpot, dec("1"), dec("100"), dec("100"), 1, id, time.Now())
		_, err = repos.Positions.Insert(ctx, pos)
		return err
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		found, err := repos.Positions.FindOpen(ctx, 1, "BTCUSDT", &whaleB)
		require.NoError(t, err)
		assert.Nil(t, found, "a position scoped to a different whale must not be returned")
		return nil
	})
	require.NoError(t, err)
}

func TestWhaleUpdateAndAllWhales(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var whaleID int64
	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		_, err := db.db.ExecContext(ctx, `INSERT INTO whales (exchange, created_at) VALUES (?, ?)`, domain.ExchangeBinance, time.Now())
		return err
	})
	require.NoError(t, err)
	row := db.db.QueryRow(`SELECT id FROM whales LIMIT 1`)
	require.NoError(t, row.Scan(&whaleID))

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		w, err := repos.Whales.Get(ctx, whaleID)
		require.NoError(t, err)
		w.PriorityScore = 77
		w.WinRate = 0.65
		return repos.Whales.Update(ctx, w)
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		whales, err := repos.Whales.AllWhales(ctx)
		require.NoError(t, err)
		require.Len(t, whales, 1)
		assert.Equal(t, 77, whales[0].PriorityScore)
		assert.InDelta(t, 0.65, whales[0].WinRate, 0.0001)
		return nil
	})
	require.NoError(t, err)
}

func TestFollowAutoCopyFollowersOf(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		_, err := db.db.ExecContext(ctx, `INSERT INTO whale_follows (user_id, whale_id, auto_copy_enabled, active) VALUES (?, ?, 1, 1)`, 1, 9)
		return err
	})
	require.NoError(t, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		follows, err := repos.Follows.AutoCopyFollowersOf(ctx, 9)
		require.NoError(t, err)
		require.Len(t, follows, 1)
		assert.Equal(t, int64(1), follows[0].UserID)
		return nil
	})
	require.NoError(t, err)
}

func TestRunRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		u := &domain.User{ID: 5, AvailableBalance: dec("500"), Active: true}
		if err := repos.Users.Save(ctx, u); err != nil {
			return err
		}
		return sentinel
	})
	assert.Equal(t, sentinel, err)

	err = db.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		_, err := repos.Users.ForUpdate(ctx, 5)
		assert.Error(t, err, "a rolled-back transaction must not leave the user row behind")
		return nil
	})
	require.NoError(t, err)
}
