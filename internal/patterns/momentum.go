package patterns

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// MomentumConfig bounds the momentum detector.
type MomentumConfig struct {
	Window        time.Duration
	MinMovePoints float64
	MinVolume     float64
}

// MomentumDetector flags a fast directional price move carried by real
// volume inside a short window.
type MomentumDetector struct {
	cfg MomentumConfig
}

func NewMomentumDetector(cfg MomentumConfig) *MomentumDetector {
	return &MomentumDetector{cfg: cfg}
}

func (d *MomentumDetector) Kind() models.PatternKind { return models.PatternMomentum }

func (d *MomentumDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	window := tradesSince(s.Trades, s.Now.Add(-d.cfg.Window))
	if len(window) < 2 {
		return models.TacticalSignal{}, false
	}

	move := window[len(window)-1].Price - window[0].Price
	absMove := move
	if absMove < 0 {
		absMove = -absMove
	}
	if absMove < d.cfg.MinMovePoints {
		return models.TacticalSignal{}, false
	}

	vol := totalVolume(window)
	if vol < d.cfg.MinVolume {
		return models.TacticalSignal{}, false
	}

	dir := models.DirectionBuy
	if move < 0 {
		dir = models.DirectionSell
	}

	last := window[len(window)-1]
	strength := clamp01(absMove / (2 * d.cfg.MinMovePoints))

	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternMomentum,
		Direction:  dir,
		Strength:   strength,
		Price:      last.Price,
		Volume:     vol,
		DetectedAt: s.Now,
		Details: map[string]float64{
			"move":   move,
			"volume": vol,
		},
	}, true
}
