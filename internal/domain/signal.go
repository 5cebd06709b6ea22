package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is a normalized representation of a whale's discrete trade-relevant
// action. It is an aggregate root; status transitions follow the C7 state
// machine and must only ever be driven through the methods below so that
// processed_at is set exactly when status becomes terminal.
type Signal struct {
	ID                   int64
	WhaleID              int64
	Source               SignalSource
	Symbol               string
	Side                 Side
	TradeType            TradeType
	Price                decimal.Decimal
	SizeUSD              decimal.Decimal
	IsClose              bool
	ChangeKind           SignalChangeKind
	IdempotencyToken     string
	Priority             Priority
	Status               SignalStatus

	Version              int64 // optimistic lock, bumped on every write
	DetectedAt           time.Time
	ProcessingStartedAt  *time.Time
	ProcessedAt          *time.Time
	TradesExecuted       int
	ErrorMessage         string
}

func terminal(s SignalStatus) bool {
	return s == SignalProcessed || s == SignalFailed || s == SignalExpired
}

// Age reports how long the signal has been waiting as of now.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.DetectedAt)
}

// StartProcessing transitions PENDING -> PROCESSING. Callers must have
// already re-read Version and compare-and-swap it against storage; this
// method only enforces the in-memory state-machine legality.
func (s *Signal) StartProcessing(now time.Time) error {
	if s.Status != SignalPending {
		return &ValidationError{Reason: "signal not pending: " + string(s.Status)}
	}
	s.Status = SignalProcessing
	s.ProcessingStartedAt = &now
	s.Version++
	return nil
}

// MarkProcessed transitions PROCESSING -> PROCESSED.
func (s *Signal) MarkProcessed(now time.Time, tradesExecuted int) error {
	if s.Status != SignalProcessing {
		return &ValidationError{Reason: "signal not processing: " + string(s.Status)}
	}
	s.Status = SignalProcessed
	s.TradesExecuted = tradesExecuted
	s.ProcessedAt = &now
	s.Version++
	return nil
}

// MarkFailed transitions PENDING or PROCESSING -> FAILED.
func (s *Signal) MarkFailed(now time.Time, msg string) error {
	if terminal(s.Status) {
		return &ValidationError{Reason: "signal already terminal: " + string(s.Status)}
	}
	s.Status = SignalFailed
	s.ErrorMessage = msg
	s.ProcessedAt = &now
	s.Version++
	return nil
}

// Expire transitions PENDING -> EXPIRED. It is a no-op (not an error) if the
// signal is already terminal, so batch cleanup can be called idempotently.
func (s *Signal) Expire(now time.Time) bool {
	if s.Status != SignalPending {
		return false
	}
	s.Status = SignalExpired
	s.ProcessedAt = &now
	s.Version++
	return true
}
