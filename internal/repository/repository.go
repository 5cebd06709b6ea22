// Package repository defines the persistence boundary for the copy-trade
// engine: one Unit-of-Work per protocol step, each exposing the narrow set
// of repositories that step touches. Grounded on AlejandroRuiz99-polybot's
// SQLiteStorage (single sql.DB, schema-at-open, mutex-guarded cache), but
// split into per-aggregate repositories instead of one storage God-object
// because the 2PC protocol needs independently transactable steps.
package repository

import (
	"context"
	"time"

	"whalecopy/internal/domain"
)

// UnitOfWork runs fn inside one transaction, exposing Users/Trades/
// Positions/Signals/Follows/Whales bound to that transaction. Per §4.8.3
// step 1, UserRepo.ForUpdate takes the row lock for the duration of fn.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

// Repos bundles the per-aggregate repositories visible inside one
// transaction.
type Repos struct {
	Users     UserRepo
	Trades    TradeRepo
	Positions PositionRepo
	Signals   SignalRepo
	Follows   FollowRepo
	Whales    WhaleRepo
}

// UserRepo covers the reads/writes the core performs against User. Follower
// resolution goes through FollowRepo.AutoCopyFollowersOf instead of a
// user-side accessor, so this stays narrow: ForUpdate to read (and lock, for
// Phase 1) one row, Save to write it back.
type UserRepo interface {
	ForUpdate(ctx context.Context, userID int64) (*domain.User, error)
	Save(ctx context.Context, u *domain.User) error
}

// TradeRepo persists Trade through its full 2PC lifecycle.
type TradeRepo interface {
	Insert(ctx context.Context, t *domain.Trade) (int64, error)
	Update(ctx context.Context, t *domain.Trade) error
	Get(ctx context.Context, id int64) (*domain.Trade, error)
	PendingWithoutOrderID(ctx context.Context, olderThan time.Time) ([]*domain.Trade, error)
	NeedsReconciliation(ctx context.Context) ([]*domain.Trade, error)
}

// PositionRepo finds and persists Position, honoring the (user, symbol,
// whale) merge scoping of §4.8.3 step 11.
type PositionRepo interface {
	FindOpen(ctx context.Context, userID int64, symbol string, whaleID *int64) (*domain.Position, error)
	Insert(ctx context.Context, p *domain.Position) (int64, error)
	Update(ctx context.Context, p *domain.Position) error
	Get(ctx context.Context, id int64) (*domain.Position, error)
	OpenByUser(ctx context.Context, userID int64) ([]*domain.Position, error)
	AllOpen(ctx context.Context) ([]*domain.Position, error)
}

// SignalRepo persists Signal, mirroring the in-memory Queue's state
// machine for durability across restarts.
type SignalRepo interface {
	Insert(ctx context.Context, s *domain.Signal) (int64, error)
	Update(ctx context.Context, s *domain.Signal) error
	Get(ctx context.Context, id int64) (*domain.Signal, error)
}

// FollowRepo covers WhaleFollow lookups and stat updates.
type FollowRepo interface {
	Get(ctx context.Context, userID, whaleID int64) (*domain.WhaleFollow, error)
	Update(ctx context.Context, f *domain.WhaleFollow) error
	AutoCopyFollowersOf(ctx context.Context, whaleID int64) ([]*domain.WhaleFollow, error)
}

// WhaleRepo covers Whale lookups the scheduler and detector need.
type WhaleRepo interface {
	Get(ctx context.Context, id int64) (*domain.Whale, error)
	Update(ctx context.Context, w *domain.Whale) error
	AllWhales(ctx context.Context) ([]*domain.Whale, error)
}
