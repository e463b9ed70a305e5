package patterns

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// DivergenceConfig bounds the divergence detector.
type DivergenceConfig struct {
	Window           time.Duration
	MinPriceMove     float64
	MinCVDOpposition float64
	ExtremeStrength  float64
}

// DivergenceDetector flags price and cumulative volume delta moving
// against each other: new highs on fading delta, or new lows while delta
// climbs. The signal points with the delta, against the price move.
type DivergenceDetector struct {
	cfg DivergenceConfig
}

func NewDivergenceDetector(cfg DivergenceConfig) *DivergenceDetector {
	return &DivergenceDetector{cfg: cfg}
}

func (d *DivergenceDetector) Kind() models.PatternKind { return models.PatternDivergence }

func (d *DivergenceDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	cutoff := s.Now.Add(-d.cfg.Window)
	window := tradesSince(s.Trades, cutoff)
	if len(window) < 2 {
		return models.TacticalSignal{}, false
	}

	priceMove := window[len(window)-1].Price - window[0].Price
	absPriceMove := priceMove
	if absPriceMove < 0 {
		absPriceMove = -absPriceMove
	}
	if absPriceMove < d.cfg.MinPriceMove {
		return models.TacticalSignal{}, false
	}

	cvdMove := cvdDeltaSince(s.CVDHistory, cutoff)

	// Opposition: price up with delta down, or price down with delta up.
	if priceMove > 0 && cvdMove > -d.cfg.MinCVDOpposition {
		return models.TacticalSignal{}, false
	}
	if priceMove < 0 && cvdMove < d.cfg.MinCVDOpposition {
		return models.TacticalSignal{}, false
	}

	dir := models.DirectionSell
	if priceMove < 0 {
		dir = models.DirectionBuy
	}

	absCVD := cvdMove
	if absCVD < 0 {
		absCVD = -absCVD
	}
	strength := clamp01(0.5*absPriceMove/(2*d.cfg.MinPriceMove) + 0.5*absCVD/(2*d.cfg.MinCVDOpposition))

	last := window[len(window)-1]
	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternDivergence,
		Direction:  dir,
		Strength:   strength,
		Price:      last.Price,
		Volume:     totalVolume(window),
		DetectedAt: s.Now,
		Details: map[string]float64{
			"price_move": priceMove,
			"cvd_move":   cvdMove,
		},
	}, true
}

// Extreme reports whether a divergence signal is strong enough to stand
// alone as a strategic setup.
func (d *DivergenceDetector) Extreme(sig models.TacticalSignal) bool {
	return sig.Kind == models.PatternDivergence && sig.Strength >= d.cfg.ExtremeStrength
}

// cvdDeltaSince is the change in cumulative volume delta from the first
// sample at or after cutoff to the newest sample.
func cvdDeltaSince(history []models.CVDPoint, cutoff time.Time) float64 {
	if len(history) < 2 {
		return 0
	}
	start := 0
	for start < len(history) && history[start].Timestamp.Before(cutoff) {
		start++
	}
	if start >= len(history)-1 {
		start = len(history) - 2
	}
	return history[len(history)-1].Value - history[start].Value
}
