// Package detector implements C6: diffs newly fetched positions for a whale
// against its last stored WhaleState snapshot and emits normalized Signals
// for meaningful changes, deduplicated by idempotency token. Dedup retention
// is grounded on signal_aggregator.go's SignalBucket/flushLoop
// bucket-and-flush idiom, generalized into a token-and-expire map.
package detector

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
)

// materialIncreasePct and the minimum notional are the §4.6 ADD threshold:
// quantity increases materially (>5% and above an exchange-specific minimum
// notional).
const materialIncreasePct = 0.05

// dexMinNotional is the §4.6 DEX-signal threshold ($10,000).
var dexMinNotional = decimal.NewFromInt(10000)

// MinNotional is the exchange-specific minimum notional an ADD must clear,
// keyed by exchange.
type MinNotional map[domain.Exchange]decimal.Decimal

// DefaultMinNotional gives every supported venue a conservative $10 floor;
// callers override per venue from live exchange filter data.
func DefaultMinNotional() MinNotional {
	ten := decimal.NewFromInt(10)
	return MinNotional{
		domain.ExchangeBinance:     ten,
		domain.ExchangeBybit:       ten,
		domain.ExchangeOKX:         ten,
		domain.ExchangeBitget:      ten,
		domain.ExchangeHyperliquid: ten,
	}
}

// SymbolMapper maps a DEX token symbol to its CEX-equivalent, returning ok=false
// if no mapping exists (in which case the swap is ignored, per §4.6).
type SymbolMapper interface {
	CEXSymbol(token string) (symbol string, ok bool)
}

// Detector owns per-whale WhaleState snapshots and the dedup retention set.
type Detector struct {
	mu          sync.Mutex
	states      map[int64]*domain.WhaleState
	seenTokens  map[string]time.Time
	retention   time.Duration
	minNotional MinNotional
	nextID      int64
}

// New constructs a Detector. retention bounds how long an idempotency token
// is remembered before it may be reprocessed (should exceed the signal
// expiry window so a retried upstream read never double-emits).
func New(minNotional MinNotional, retention time.Duration) *Detector {
	return &Detector{
		states:      make(map[int64]*domain.WhaleState),
		seenTokens:  make(map[string]time.Time),
		retention:   retention,
		minNotional: minNotional,
	}
}

// Diff compares current against the whale's last snapshot and returns the
// Signals for every meaningful change, per §4.6. It then replaces the
// snapshot with current.
func (d *Detector) Diff(whale *domain.Whale, current map[string]domain.WhalePosition, now time.Time) []*domain.Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)

	prev, ok := d.states[whale.ID]
	var signals []*domain.Signal

	if !ok || prev.Positions == nil {
		for symbol, pos := range current {
			signals = append(signals, d.emitLocked(whale, domain.ChangeOpen, symbol, pos, pos.Quantity, now))
		}
	} else {
		for symbol, pos := range current {
			old, existed := prev.Positions[symbol]
			if !existed {
				signals = append(signals, d.emitLocked(whale, domain.ChangeOpen, symbol, pos, pos.Quantity, now))
				continue
			}
			delta := pos.Quantity.Sub(old.Quantity)
			if delta.IsZero() {
				continue
			}
			if delta.IsPositive() {
				threshold := old.Quantity.Mul(decimal.NewFromFloat(materialIncreasePct))
				minNotional := d.minNotional[whale.Exchange]
				if delta.GreaterThan(threshold) && pos.Notional.GreaterThanOrEqual(minNotional) {
					signals = append(signals, d.emitLocked(whale, domain.ChangeAdd, symbol, pos, delta, now))
				}
				continue
			}
			// decreases: PARTIAL_CLOSE if still nonzero, else CLOSE handled below
			if pos.Quantity.IsPositive() {
				signals = append(signals, d.emitLocked(whale, domain.ChangePartialClose, symbol, pos, delta.Abs(), now))
			}
		}
		for symbol, old := range prev.Positions {
			if _, stillOpen := current[symbol]; !stillOpen {
				sig := d.emitLocked(whale, domain.ChangeClose, symbol, old, old.Quantity, now)
				sig.IsClose = true
				signals = append(signals, sig)
			}
		}
	}

	d.states[whale.ID] = &domain.WhaleState{WhaleID: whale.ID, Positions: current, UpdatedAt: now}

	out := make([]*domain.Signal, 0, len(signals))
	for _, s := range signals {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *Detector) emitLocked(whale *domain.Whale, kind domain.SignalChangeKind, symbol string, pos domain.WhalePosition, size decimal.Decimal, now time.Time) *domain.Signal {
	blockOfTime := now.Truncate(time.Second)
	token := fmt.Sprintf("%d|%s|%s|%d", whale.ID, symbol, kind, blockOfTime.Unix())
	if _, seen := d.seenTokens[token]; seen {
		return nil
	}
	d.seenTokens[token] = now

	d.nextID++
	side := domain.SideBuy
	if pos.Side == domain.PositionShort || kind == domain.ChangeClose || kind == domain.ChangePartialClose {
		side = domain.SideSell
	}

	sig := &domain.Signal{
		ID:               d.nextID,
		WhaleID:          whale.ID,
		Source:           domain.SourceWhale,
		Symbol:           symbol,
		Side:             side,
		TradeType:        pos.TradeType,
		Price:            pos.EntryPrice,
		SizeUSD:          size.Mul(pos.EntryPrice).Abs(),
		ChangeKind:       kind,
		IdempotencyToken: token,
		Priority:         priorityFor(whale, size.Mul(pos.EntryPrice).Abs()),
		Status:           domain.SignalPending,
		DetectedAt:       now,
	}
	return sig
}

// EmitDEXSignal implements the §4.6 DEX path: a swap whose amount-USD >=
// $10,000 and whose token has a CEX-equivalent mapping emits a Signal keyed
// by transaction hash.
func (d *Detector) EmitDEXSignal(mapper SymbolMapper, token string, side domain.Side, amountUSD decimal.Decimal, price decimal.Decimal, txHash string, whaleID int64, now time.Time) *domain.Signal {
	if amountUSD.LessThan(dexMinNotional) {
		return nil
	}
	symbol, ok := mapper.CEXSymbol(token)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.seenTokens[txHash]; seen {
		return nil
	}
	d.seenTokens[txHash] = now

	d.nextID++
	return &domain.Signal{
		ID:               d.nextID,
		WhaleID:          whaleID,
		Source:           domain.SourceWhale,
		Symbol:           symbol,
		Side:             side,
		TradeType:        domain.TradeSpot,
		Price:            price,
		SizeUSD:          amountUSD,
		ChangeKind:       domain.ChangeOpen,
		IdempotencyToken: txHash,
		Priority:         domain.PriorityHigh,
		Status:           domain.SignalPending,
		DetectedAt:       now,
	}
}

func priorityFor(whale *domain.Whale, sizeUSD decimal.Decimal) domain.Priority {
	switch {
	case whale.PriorityScore >= 70 || sizeUSD.GreaterThanOrEqual(decimal.NewFromInt(100000)):
		return domain.PriorityHigh
	case whale.PriorityScore >= 40 || sizeUSD.GreaterThanOrEqual(decimal.NewFromInt(10000)):
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func (d *Detector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.retention)
	for token, seenAt := range d.seenTokens {
		if seenAt.Before(cutoff) {
			delete(d.seenTokens, token)
		}
	}
}
