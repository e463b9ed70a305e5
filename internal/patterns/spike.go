package patterns

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// VolumeSpikeConfig bounds the volume spike detector.
type VolumeSpikeConfig struct {
	BurstWindow     time.Duration
	BaselineWindow  time.Duration
	SpikeMultiplier float64
}

// VolumeSpikeDetector flags a burst of traded volume well above the
// recent norm. The baseline is the median of burst-sized buckets over
// the baseline window, the current burst excluded so it cannot inflate
// its own reference.
type VolumeSpikeDetector struct {
	cfg VolumeSpikeConfig
}

func NewVolumeSpikeDetector(cfg VolumeSpikeConfig) *VolumeSpikeDetector {
	return &VolumeSpikeDetector{cfg: cfg}
}

func (d *VolumeSpikeDetector) Kind() models.PatternKind { return models.PatternVolumeSpike }

func (d *VolumeSpikeDetector) Detect(s Snapshot) (models.TacticalSignal, bool) {
	burstStart := s.Now.Add(-d.cfg.BurstWindow)
	baseline := tradesSince(s.Trades, s.Now.Add(-d.cfg.BaselineWindow))
	if len(baseline) == 0 {
		return models.TacticalSignal{}, false
	}

	burst := tradesSince(baseline, burstStart)
	if len(burst) == 0 {
		return models.TacticalSignal{}, false
	}
	burstVol := totalVolume(burst)

	// Bucket everything before the burst into burst-sized slices.
	nBuckets := int(d.cfg.BaselineWindow/d.cfg.BurstWindow) - 1
	if nBuckets < 1 {
		return models.TacticalSignal{}, false
	}
	buckets := make([]float64, nBuckets)
	for _, t := range baseline[:len(baseline)-len(burst)] {
		age := burstStart.Sub(t.Timestamp)
		idx := int(age / d.cfg.BurstWindow)
		if idx < 0 || idx >= nBuckets {
			continue
		}
		buckets[idx] += t.Volume
	}

	med := median(buckets)
	if med <= 0 || burstVol < med*d.cfg.SpikeMultiplier {
		return models.TacticalSignal{}, false
	}

	buy, sell := sideVolumes(burst)
	dir := models.DirectionBuy
	if sell > buy {
		dir = models.DirectionSell
	}

	ratio := burstVol / med
	strength := clamp01(ratio / (2 * d.cfg.SpikeMultiplier))
	last := burst[len(burst)-1]

	return models.TacticalSignal{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Kind:       models.PatternVolumeSpike,
		Direction:  dir,
		Strength:   strength,
		Price:      last.Price,
		Volume:     burstVol,
		DetectedAt: s.Now,
		Details: map[string]float64{
			"burst_volume":    burstVol,
			"baseline_median": med,
			"multiple":        ratio,
		},
	}, true
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
