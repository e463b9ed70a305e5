package models

import "time"

// Topic names for bus routing.
const (
	TopicTrades    = "trades"
	TopicBooks     = "books"
	TopicCVD       = "cvd"
	TopicSignals   = "signals"
	TopicSetups    = "setups"
	TopicApprovals = "approvals"
	TopicWarnings  = "warnings"
	TopicPositions = "positions"
	TopicSweeps    = "sweeps"
)

// TradeEvent carries an ingested trade.
type TradeEvent struct {
	Trade Trade
}

func (e TradeEvent) Topic() string { return TopicTrades }
func (e TradeEvent) Key() string   { return e.Trade.Symbol }

// BookEvent carries a new order book snapshot.
type BookEvent struct {
	Book BookSnapshot
}

func (e BookEvent) Topic() string { return TopicBooks }
func (e BookEvent) Key() string   { return e.Book.Symbol }

// CVDUpdatedEvent carries a refreshed cumulative volume delta state.
type CVDUpdatedEvent struct {
	State CVDState
}

func (e CVDUpdatedEvent) Topic() string { return TopicCVD }
func (e CVDUpdatedEvent) Key() string   { return e.State.Symbol }

// SignalEvent carries a tactical signal out of the pattern engine.
type SignalEvent struct {
	Signal TacticalSignal
}

func (e SignalEvent) Topic() string { return TopicSignals }
func (e SignalEvent) Key() string   { return e.Signal.Symbol }

// SetupEvent carries a setup lifecycle change.
type SetupEvent struct {
	Setup Setup
	// Previous is the state before the transition, empty for creation.
	Previous SetupState
}

func (e SetupEvent) Topic() string { return TopicSetups }
func (e SetupEvent) Key() string   { return e.Setup.Symbol }

// SetupApprovedEvent carries a risk-approved setup to the position
// manager. The setup only becomes triggered once the manager opens a
// position for it; sizing happens then, against the regime then.
type SetupApprovedEvent struct {
	Setup Setup
	At    time.Time
}

func (e SetupApprovedEvent) Topic() string { return TopicApprovals }
func (e SetupApprovedEvent) Key() string   { return e.Setup.Symbol }

// WarningEvent carries an advisory warning.
type WarningEvent struct {
	Warning Warning
}

func (e WarningEvent) Topic() string { return TopicWarnings }
func (e WarningEvent) Key() string   { return e.Warning.Symbol }

// PositionEvent carries a position open or close.
type PositionEvent struct {
	Position Position
	Opened   bool
}

func (e PositionEvent) Topic() string { return TopicPositions }
func (e PositionEvent) Key() string   { return e.Position.Symbol }

// SweepEvent asks per-symbol consumers to run time-based housekeeping.
type SweepEvent struct {
	Symbol string
	At     time.Time
}

func (e SweepEvent) Topic() string { return TopicSweeps }
func (e SweepEvent) Key() string   { return e.Symbol }
