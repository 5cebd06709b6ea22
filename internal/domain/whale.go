package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Whale is a tracked third-party account whose trades the system imitates.
// Identity is either (Exchange, ExchangeUID) for a CEX whale or (Chain,
// Address) for an on-chain whale.
type Whale struct {
	ID                int64
	Exchange          Exchange
	ExchangeUID       string
	Chain             Chain
	Address           string
	DisplayName       string
	PriorityScore     int
	DataStatus        DataStatus
	LastPositionFound time.Time
	ConsecutiveEmpty  int
	FollowerCount     int
	WinRate           float64 // rolling win rate in [0,1], feeds Kelly W
	AvgWinLossRatio   float64 // rolling avg win/loss, feeds Kelly R
	ROIContribution   float64 // feeds the priority-score ROI bonus, [0,1]
	CreatedAt         time.Time
}

// IsBitget reports whether this whale is tracked on Bitget, whose copy-trade
// API exposes positions publicly regardless of priority — relevant to the
// HIGH-tier scheduling criterion in §4.5.
func (w *Whale) IsBitget() bool {
	return w.Exchange == ExchangeBitget
}

// RecordEmptyFetch advances whale-discovery housekeeping: after
// staleAfter consecutive empty/failed fetches the whale is marked STALE, and
// after deadAfter it is marked DEAD. A whale in either demoted state still
// services discovery but is removed from the CRITICAL "never-checked"
// criterion once it has been checked at all.
func (w *Whale) RecordEmptyFetch(staleAfter, deadAfter int) {
	w.ConsecutiveEmpty++
	switch {
	case w.ConsecutiveEmpty >= deadAfter:
		w.DataStatus = DataStatusDead
	case w.ConsecutiveEmpty >= staleAfter:
		w.DataStatus = DataStatusStale
	}
}

// RecordPositionsFound resets the empty-fetch counter and reactivates a
// whale that was STALE (but not one an operator explicitly deactivated to
// DEAD status stays DEAD until the operator reactivates it — repeated
// sightings alone do not resurrect a DEAD whale).
func (w *Whale) RecordPositionsFound(at time.Time) {
	w.ConsecutiveEmpty = 0
	w.LastPositionFound = at
	if w.DataStatus == DataStatusStale {
		w.DataStatus = DataStatusActive
	}
}

// RecordClosedTrade folds one closed position's outcome into this whale's
// rolling win-rate/avg-win-loss-ratio/ROI aggregates — the same signals
// exchange_leaderboard.py harvests from each venue's public leaderboard,
// computed here instead from this whale's own copied trades as they close,
// since no public leaderboard exposes win-rate for every tracked venue.
// realizedPnL/entryValueUSDT are one fill's own numbers, not the position's
// cumulative total, so repeated partial-close calls don't double-count.
func (w *Whale) RecordClosedTrade(realizedPnL, entryValueUSDT decimal.Decimal) {
	if entryValueUSDT.IsZero() {
		return
	}
	const alpha = 0.1 // rolling EMA weight
	roi, _ := realizedPnL.Div(entryValueUSDT).Float64()
	win := roi > 0

	outcome := 0.0
	if win {
		outcome = 1.0
	}
	w.WinRate = w.WinRate*(1-alpha) + outcome*alpha

	magnitude := roi
	if magnitude < 0 {
		magnitude = -magnitude
	}
	ratio := 1 / (1 + magnitude)
	if win {
		ratio = 1 + magnitude
	}
	w.AvgWinLossRatio = w.AvgWinLossRatio*(1-alpha) + ratio*alpha
	w.ROIContribution = clamp01(w.ROIContribution*(1-alpha) + clamp01(0.5+roi)*alpha)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// WhaleState is the last observed set of open positions for a whale, keyed
// by symbol. It exists only for C6 diffing and is owned exclusively by the
// signal detector.
type WhaleState struct {
	WhaleID   int64
	Positions map[string]WhalePosition
	UpdatedAt time.Time
}

// WhalePosition is one open position as currently reported by a whale's
// exchange/chain, prior to any Signal derivation.
type WhalePosition struct {
	Symbol     string
	Side       PositionSide
	TradeType  TradeType
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Notional   decimal.Decimal
}
