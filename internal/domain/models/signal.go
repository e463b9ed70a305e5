package models

import "time"

// Direction is the market direction implied by a signal or setup.
type Direction string

const (
	DirectionBuy     Direction = "buy"
	DirectionSell    Direction = "sell"
	DirectionNeutral Direction = "neutral"
)

// Opposite returns the reverse direction. Neutral maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionNeutral
	}
}

// PatternKind identifies a tactical tape-reading pattern.
type PatternKind string

const (
	PatternAbsorption  PatternKind = "absorption"
	PatternIceberg     PatternKind = "iceberg"
	PatternPressure    PatternKind = "pressure"
	PatternVolumeSpike PatternKind = "volume_spike"
	PatternDivergence  PatternKind = "divergence"
	PatternMomentum    PatternKind = "momentum"
)

// TacticalSignal is a detected short-horizon pattern on a single symbol.
type TacticalSignal struct {
	ID         string
	Symbol     string
	Kind       PatternKind
	Direction  Direction
	Strength   float64 // 0..1
	Price      float64
	Volume     float64
	DetectedAt time.Time
	Details    map[string]float64
}

// WarningKind classifies an advisory emitted alongside or instead of signals.
type WarningKind string

const (
	WarningDivergence       WarningKind = "divergence"
	WarningLayering         WarningKind = "layering"
	WarningSpoofing         WarningKind = "spoofing"
	WarningStaleFeed        WarningKind = "stale_feed"
	WarningPositionRejected WarningKind = "position_rejected"
	WarningBusOverflow      WarningKind = "bus_overflow"
	WarningEmergency        WarningKind = "emergency"
	WarningVolatility       WarningKind = "volatility"
	WarningDataIntegrity    WarningKind = "data_integrity"
)

// Severity orders warnings from informational to critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Warning is an advisory about market conditions or system health.
type Warning struct {
	Symbol   string
	Kind     WarningKind
	Severity Severity
	Message  string
	IssuedAt time.Time
	Details  map[string]float64
}
