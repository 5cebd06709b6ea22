package domain

import "time"

// EventKind enumerates the §6 "Events published" list. Every event is
// immutable, timestamped, and carries its aggregate id plus a semantic
// payload.
type EventKind string

const (
	EventSignalDetected           EventKind = "SignalDetected"
	EventSignalProcessingStarted  EventKind = "SignalProcessingStarted"
	EventSignalProcessed          EventKind = "SignalProcessed"
	EventSignalFailed             EventKind = "SignalFailed"
	EventTradeExecuted            EventKind = "TradeExecuted"
	EventTradeFailed              EventKind = "TradeFailed"
	EventTradeNeedsReconciliation EventKind = "TradeNeedsReconciliation"
	EventPositionOpened           EventKind = "PositionOpened"
	EventPositionClosed           EventKind = "PositionClosed"
	EventPositionLiquidated       EventKind = "PositionLiquidated"
	EventStopLossTriggered        EventKind = "StopLossTriggered"
	EventTakeProfitTriggered      EventKind = "TakeProfitTriggered"
)

// Event is the immutable envelope published for every state transition the
// core makes that an out-of-scope notification layer cares about.
type Event struct {
	Kind        EventKind
	AggregateID int64
	At          time.Time
	Payload     map[string]any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, aggregateID int64, payload map[string]any, now time.Time) Event {
	return Event{Kind: kind, AggregateID: aggregateID, At: now, Payload: payload}
}

// Publisher is implemented by the out-of-scope notification layer. Calls
// must be best-effort from the caller's perspective: a Publisher error never
// unwinds engine state, matching the teacher's fire-and-forget Notify().
type Publisher interface {
	Publish(e Event)
}

// NoopPublisher discards every event; used when no notification layer is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}
