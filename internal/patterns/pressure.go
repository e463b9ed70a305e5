package patterns

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// PressureConfig bounds the pressure detector.
type PressureConfig struct {
	Window    time.Duration
	MinTrades int
	MinRatio  float64
}

// PressureDetector measures one-sided aggression: when at least MinRatio
// of the recent traded volume hits one side, flow pressure favors that
// direction.
type PressureDetector struct {
	cfg PressureConfig
}

func NewPressureDetector(cfg PressureConfig) *PressureDetector {
	return &PressureDetector{cfg: cfg}
}

func (d *PressureDetector) Kind() models.PatternKind { return models.PatternPressure }

func (d *PressureDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	window := tradesSince(s.Trades, s.Now.Add(-d.cfg.Window))
	if len(window) < d.cfg.MinTrades {
		return models.TacticalSignal{}, false
	}

	buy, sell := sideVolumes(window)
	total := buy + sell
	if total <= 0 {
		return models.TacticalSignal{}, false
	}

	ratio := buy / total
	dir := models.DirectionBuy
	if sell > buy {
		ratio = sell / total
		dir = models.DirectionSell
	}
	if ratio < d.cfg.MinRatio {
		return models.TacticalSignal{}, false
	}

	last := window[len(window)-1]

	// Map [MinRatio, 1] onto [0.5, 1] so a bare-threshold reading is not
	// reported as full strength.
	strength := 1.0
	if d.cfg.MinRatio < 1 {
		strength = 0.5 + 0.5*(ratio-d.cfg.MinRatio)/(1-d.cfg.MinRatio)
	}

	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternPressure,
		Direction:  dir,
		Strength:   clamp01(strength),
		Price:      last.Price,
		Volume:     total,
		DetectedAt: s.Now,
		Details: map[string]float64{
			"ratio":       ratio,
			"buy_volume":  buy,
			"sell_volume": sell,
			"trades":      float64(len(window)),
		},
	}, true
}
