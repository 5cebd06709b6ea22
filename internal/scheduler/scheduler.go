// Package scheduler implements C5: assigns whales to one of four polling
// tiers and periodically recomputes priority scores. Each tier runs its own
// ticker-driven goroutine, directly generalizing the teacher's per-symbol
// PredatorWorker.Run retry/reconnect loop (predator_engine.go) from "one
// goroutine per traded symbol" to "one goroutine per polling tier".
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"whalecopy/internal/domain"
)

// TierConfig is one row of the §4.5 table.
type TierConfig struct {
	Tier     domain.PollTier
	Interval time.Duration
	BatchCap int
}

// DefaultTiers returns the §4.5 table verbatim.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{domain.TierCritical, 2 * time.Second, 10},
		{domain.TierHigh, 5 * time.Second, 50},
		{domain.TierNormal, 15 * time.Second, 100},
		{domain.TierLow, 60 * time.Second, 200},
	}
}

// WhaleSource supplies the whale population the scheduler tiers over; it is
// backed by the whale repository in a real deployment.
type WhaleSource interface {
	AllWhales(ctx context.Context) ([]*domain.Whale, error)
}

// BatchHandler receives one tier's tick batch; the caller wires this to
// Fetcher.FetchBatch.
type BatchHandler func(ctx context.Context, tier domain.PollTier, batch []*domain.Whale)

// Scheduler drives one periodic runner per tier.
type Scheduler struct {
	tiers   []TierConfig
	source  WhaleSource
	handler BatchHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New constructs a Scheduler with the given tier table.
func New(tiers []TierConfig, source WhaleSource, handler BatchHandler) *Scheduler {
	return &Scheduler{tiers: tiers, source: source, handler: handler}
}

// Start launches one goroutine per tier; each ticks at its own interval
// until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, tc := range s.tiers {
		tc := tc
		go s.runTier(ctx, tc)
	}
}

// Stop cancels every tier's runner.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runTier(ctx context.Context, tc TierConfig) {
	ticker := time.NewTicker(tc.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, tc)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, tc TierConfig) {
	whales, err := s.source.AllWhales(ctx)
	if err != nil {
		log.Printf("⚠️ scheduler: failed to list whales for tier %s: %v", tc.Tier, err)
		return
	}

	now := time.Now()
	var batch []*domain.Whale
	for _, w := range whales {
		if AssignTier(w, now) == tc.Tier {
			batch = append(batch, w)
		}
	}

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].PriorityScore > batch[j].PriorityScore })
	if len(batch) > tc.BatchCap {
		batch = batch[:tc.BatchCap]
	}
	if len(batch) == 0 {
		return
	}
	s.handler(ctx, tc.Tier, batch)
}

// AssignTier implements the §4.5 tier criteria, evaluated in priority
// order (CRITICAL first) so a whale matching multiple criteria lands in the
// highest one.
func AssignTier(w *domain.Whale, now time.Time) domain.PollTier {
	neverChecked := w.LastPositionFound.IsZero()
	recentActivity := !neverChecked && now.Sub(w.LastPositionFound) < 24*time.Hour

	if w.DataStatus == domain.DataStatusActive && w.FollowerCount > 0 && (recentActivity || neverChecked) {
		return domain.TierCritical
	}
	if w.IsBitget() || w.PriorityScore >= 70 {
		return domain.TierHigh
	}
	if !w.IsBitget() && w.PriorityScore >= 40 {
		return domain.TierNormal
	}
	return domain.TierLow
}

// RecomputePriorityScore implements the §4.5 formula:
//
//	base 50
//	  + exchange bonus (Bitget +30, OKX +20, Bybit +10)
//	  + follower bonus (>=10 -> +15, >=5 -> +10, >=1 -> +5)
//	  + recency bonus (<1h -> +15, <6h -> +10, <24h -> +5)
//	  + ROI bonus, up to +10
//	clamped to [1, 100].
func RecomputePriorityScore(w *domain.Whale, now time.Time) int {
	score := 50

	switch w.Exchange {
	case domain.ExchangeBitget:
		score += 30
	case domain.ExchangeOKX:
		score += 20
	case domain.ExchangeBybit:
		score += 10
	}

	switch {
	case w.FollowerCount >= 10:
		score += 15
	case w.FollowerCount >= 5:
		score += 10
	case w.FollowerCount >= 1:
		score += 5
	}

	if !w.LastPositionFound.IsZero() {
		age := now.Sub(w.LastPositionFound)
		switch {
		case age < time.Hour:
			score += 15
		case age < 6*time.Hour:
			score += 10
		case age < 24*time.Hour:
			score += 5
		}
	}

	roi := w.ROIContribution
	if roi < 0 {
		roi = 0
	}
	if roi > 1 {
		roi = 1
	}
	score += int(roi * 10)

	if score < 1 {
		score = 1
	}
	if score > 100 {
		score = 100
	}
	return score
}
