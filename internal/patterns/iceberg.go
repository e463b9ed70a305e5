package patterns

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// IcebergConfig bounds the iceberg detector.
type IcebergConfig struct {
	Window         time.Duration
	MinRepetitions int
	MinClipVolume  float64
}

// IcebergDetector spots hidden liquidity: the same clip size executing
// repeatedly at the same price level. The replenishing order sits on the
// passive side, so the signal points against the aggressor.
type IcebergDetector struct {
	cfg IcebergConfig
}

func NewIcebergDetector(cfg IcebergConfig) *IcebergDetector {
	return &IcebergDetector{cfg: cfg}
}

func (d *IcebergDetector) Kind() models.PatternKind { return models.PatternIceberg }

func (d *IcebergDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	window := tradesSince(s.Trades, s.Now.Add(-d.cfg.Window))
	if len(window) < d.cfg.MinRepetitions {
		return models.TacticalSignal{}, false
	}

	type clip struct {
		price  float64
		volume float64
		side   models.TradeSide
	}
	counts := make(map[clip]int)
	for _, t := range window {
		if t.Volume < d.cfg.MinClipVolume {
			continue
		}
		counts[clip{price: t.Price, volume: t.Volume, side: t.Side}]++
	}

	var bestClip clip
	bestCount := 0
	for c, n := range counts {
		if n > bestCount {
			bestClip, bestCount = c, n
		}
	}
	if bestCount < d.cfg.MinRepetitions {
		return models.TacticalSignal{}, false
	}

	dir := models.DirectionBuy
	if bestClip.side == models.SideBuy {
		dir = models.DirectionSell
	}

	strength := clamp01(float64(bestCount) / float64(2*d.cfg.MinRepetitions))

	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternIceberg,
		Direction:  dir,
		Strength:   strength,
		Price:      bestClip.price,
		Volume:     bestClip.volume * float64(bestCount),
		DetectedAt: s.Now,
		Details: map[string]float64{
			"repetitions": float64(bestCount),
			"clip_volume": bestClip.volume,
		},
	}, true
}
