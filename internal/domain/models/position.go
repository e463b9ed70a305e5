package models

import "time"

// PositionStatus tracks whether a position is live or closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopHit   CloseReason = "stop_hit"
	CloseTargetHit CloseReason = "target_hit"
	CloseDefensive CloseReason = "defensive"
	CloseEmergency CloseReason = "emergency"
	CloseManual    CloseReason = "manual"
	CloseShutdown  CloseReason = "shutdown"
)

// Position is an open or closed trade entered from a triggered setup.
type Position struct {
	ID        string
	SetupID   string
	Symbol    string
	Kind      SetupKind
	Direction Direction
	Status    PositionStatus

	Contracts int
	Entry     float64
	Stop      float64 // current stop, moved by the trailing logic
	Targets   []float64

	OpenedAt time.Time
	ClosedAt time.Time

	ExitPrice float64
	Reason    CloseReason
	PnL       float64
}

// UnrealizedPnL values the position at price p in points per contract
// times the contract count.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == DirectionSell {
		return (p.Entry - price) * float64(p.Contracts)
	}
	return (price - p.Entry) * float64(p.Contracts)
}

// StopDistance is the current distance between price and stop, signed so
// that a positive value means the stop has not been breached.
func (p *Position) StopDistance(price float64) float64 {
	if p.Direction == DirectionSell {
		return p.Stop - price
	}
	return price - p.Stop
}

// RiskAtStop is the loss in points times contracts if the current stop fills.
func (p *Position) RiskAtStop() float64 {
	d := p.Entry - p.Stop
	if p.Direction == DirectionSell {
		d = p.Stop - p.Entry
	}
	if d < 0 {
		return 0
	}
	return d * float64(p.Contracts)
}
