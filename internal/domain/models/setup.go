package models

import "time"

// SetupKind identifies a strategic trade setup.
type SetupKind string

const (
	SetupReversalSlow      SetupKind = "reversal_slow"
	SetupReversalViolent   SetupKind = "reversal_violent"
	SetupBreakoutIgnition  SetupKind = "breakout_ignition"
	SetupPullbackRejection SetupKind = "pullback_rejection"
	SetupDivergence        SetupKind = "divergence_setup"
)

// SetupState is the lifecycle state of a setup.
type SetupState string

const (
	SetupPending   SetupState = "pending"
	SetupConfirmed SetupState = "confirmed"
	SetupTriggered SetupState = "triggered"
	SetupExpired   SetupState = "expired"
	SetupCancelled SetupState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s SetupState) IsTerminal() bool {
	return s == SetupTriggered || s == SetupExpired || s == SetupCancelled
}

// Setup is a strategic trade opportunity built from tactical signals.
type Setup struct {
	ID        string
	Symbol    string
	Kind      SetupKind
	Direction Direction
	State     SetupState
	Score     float64 // 0..1 composite quality

	Entry   float64
	Stop    float64
	Targets []float64

	CreatedAt   time.Time
	ConfirmedAt time.Time
	Deadline    time.Time
	ResolvedAt  time.Time

	// SignalIDs are the tactical signals that produced or confirmed the setup.
	SignalIDs []string

	CancelReason string
}

// ApprovalVerdict is the outcome of the risk gate chain for one setup.
type ApprovalVerdict int

const (
	ApprovalApproved ApprovalVerdict = iota
	// ApprovalDeferred is a transient block: a full rate window or an
	// open circuit breaker. The setup stays alive and is retried on a
	// later sweep.
	ApprovalDeferred
	// ApprovalCancelled is terminal: the condition will not improve.
	ApprovalCancelled
)

func (v ApprovalVerdict) String() string {
	switch v {
	case ApprovalApproved:
		return "approved"
	case ApprovalDeferred:
		return "deferred"
	case ApprovalCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RiskPerContract is the absolute distance between entry and stop.
func (s *Setup) RiskPerContract() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		d = -d
	}
	return d
}

// ExpiredBy reports whether the setup deadline has passed at t while the
// setup is still awaiting a trigger.
func (s *Setup) ExpiredBy(t time.Time) bool {
	if s.State.IsTerminal() {
		return false
	}
	return !s.Deadline.IsZero() && t.After(s.Deadline)
}
