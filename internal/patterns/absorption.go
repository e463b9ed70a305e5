package patterns

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// AbsorptionConfig bounds the absorption detector.
type AbsorptionConfig struct {
	Window           time.Duration
	MinVolume        float64
	MinConcentration float64
	MaxPriceDrift    float64
}

// AbsorptionDetector finds heavy volume concentrated at one price level
// while price refuses to move, which reads as passive interest eating
// aggressive flow. The signal points against the dominant aggressor.
type AbsorptionDetector struct {
	cfg AbsorptionConfig
}

func NewAbsorptionDetector(cfg AbsorptionConfig) *AbsorptionDetector {
	return &AbsorptionDetector{cfg: cfg}
}

func (d *AbsorptionDetector) Kind() models.PatternKind { return models.PatternAbsorption }

func (d *AbsorptionDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	window := tradesSince(s.Trades, s.Now.Add(-d.cfg.Window))
	if len(window) == 0 {
		return models.TacticalSignal{}, false
	}

	low, high := priceRange(window)
	if high-low > d.cfg.MaxPriceDrift {
		return models.TacticalSignal{}, false
	}

	total := totalVolume(window)
	if total < d.cfg.MinVolume {
		return models.TacticalSignal{}, false
	}

	// Volume by price level, tracking the aggressor mix at each.
	type levelFlow struct {
		volume float64
		buy    float64
		sell   float64
	}
	levels := make(map[float64]*levelFlow)
	for _, t := range window {
		lf, ok := levels[t.Price]
		if !ok {
			lf = &levelFlow{}
			levels[t.Price] = lf
		}
		lf.volume += t.Volume
		if t.Side == models.SideBuy {
			lf.buy += t.Volume
		} else {
			lf.sell += t.Volume
		}
	}

	var bestPrice float64
	var best *levelFlow
	for price, lf := range levels {
		if best == nil || lf.volume > best.volume {
			bestPrice, best = price, lf
		}
	}

	concentration := best.volume / total
	if concentration < d.cfg.MinConcentration || best.volume < d.cfg.MinVolume {
		return models.TacticalSignal{}, false
	}

	// Sellers hammering a level that holds means buyers absorb, and the
	// other way around.
	dir := models.DirectionBuy
	if best.buy > best.sell {
		dir = models.DirectionSell
	}

	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternAbsorption,
		Direction:  dir,
		Strength:   clamp01(concentration),
		Price:      bestPrice,
		Volume:     best.volume,
		DetectedAt: s.Now,
		Details: map[string]float64{
			"concentration": concentration,
			"level_volume":  best.volume,
			"total_volume":  total,
			"price_drift":   high - low,
		},
	}, true
}
