package patterns

import (
	"time"

	"TapeFlow/internal/domain/models"
)

// Snapshot is the read-only market view a detector works on. Slices are
// copies owned by the caller; detectors must not retain them.
type Snapshot struct {
	Symbol     string
	Now        time.Time
	Trades     []models.Trade // oldest first
	Book       *models.BookSnapshot
	CVD        models.CVDState
	CVDHistory []models.CVDPoint
}

// Detector inspects a snapshot for one tactical pattern.
type Detector interface {
	Kind() models.PatternKind
	Detect(s Snapshot) (models.TacticalSignal, bool)
}

// tradesSince filters the snapshot's trades to those at or after cutoff.
// Trades arrive oldest first, so the scan walks back from the end.
func tradesSince(trades []models.Trade, cutoff time.Time) []models.Trade {
	i := len(trades)
	for i > 0 && !trades[i-1].Timestamp.Before(cutoff) {
		i--
	}
	return trades[i:]
}

func totalVolume(trades []models.Trade) float64 {
	var v float64
	for _, t := range trades {
		v += t.Volume
	}
	return v
}

func sideVolumes(trades []models.Trade) (buy, sell float64) {
	for _, t := range trades {
		if t.Side == models.SideBuy {
			buy += t.Volume
		} else {
			sell += t.Volume
		}
	}
	return buy, sell
}

// priceRange returns the low and high over trades. Zero values when empty.
func priceRange(trades []models.Trade) (low, high float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	low, high = trades[0].Price, trades[0].Price
	for _, t := range trades[1:] {
		if t.Price < low {
			low = t.Price
		}
		if t.Price > high {
			high = t.Price
		}
	}
	return low, high
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
