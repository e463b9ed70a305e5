package models

import "time"

// CVDPoint is one sample of cumulative volume delta.
type CVDPoint struct {
	Timestamp time.Time
	Value     float64
}

// CVDState is the published view of a symbol's cumulative volume delta.
type CVDState struct {
	Symbol    string
	Value     float64
	ROC       float64 // rate of change over the configured sample lookback
	UpdatedAt time.Time
}
