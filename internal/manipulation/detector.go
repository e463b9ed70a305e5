package manipulation

import (
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// LayeringConfig bounds the layering check.
type LayeringConfig struct {
	MinLevels        int
	UniformTolerance float64 // max relative deviation from the mean level size
	MinLevelVolume   float64
}

// SpoofingConfig bounds the spoofing check.
type SpoofingConfig struct {
	LevelsToCheck  int
	ImbalanceRatio float64
}

// Config groups both checks plus the suppression window applied to the
// affected symbol after a finding.
type Config struct {
	Layering LayeringConfig
	Spoofing SpoofingConfig
	// BlockSignals turns findings into setup and signal suppression.
	// When off, findings still warn but block nothing.
	BlockSignals bool
	SuppressFor  time.Duration
}

// Detector inspects order book snapshots for layering and spoofing
// shapes. A finding raises a warning and suppresses new setups on the
// symbol for the configured window; it never halts trade ingestion.
type Detector struct {
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics

	mu         sync.RWMutex
	suppressed map[string]time.Time
}

func NewDetector(cfg Config, log *logger.Logger, metrics repository.Metrics) *Detector {
	return &Detector{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		suppressed: make(map[string]time.Time),
	}
}

// Inspect checks a snapshot and returns warnings for anything found.
func (d *Detector) Inspect(book models.BookSnapshot) []models.Warning {
	var out []models.Warning
	if w, ok := d.checkLayering(book); ok {
		out = append(out, w)
	}
	if w, ok := d.checkSpoofing(book); ok {
		out = append(out, w)
	}
	for _, w := range out {
		d.mu.Lock()
		d.suppressed[book.Symbol] = book.Timestamp.Add(d.cfg.SuppressFor)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.RecordWarning(w.Symbol, string(w.Kind))
		}
		if d.log != nil {
			d.log.Warn("manipulation pattern",
				logger.String("symbol", w.Symbol),
				logger.String("kind", string(w.Kind)),
				logger.String("severity", w.Severity.String()))
		}
	}
	return out
}

// Suppressed reports whether new setups on symbol are blocked at t.
func (d *Detector) Suppressed(symbol string, t time.Time) bool {
	if !d.cfg.BlockSignals {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	until, ok := d.suppressed[symbol]
	return ok && t.Before(until)
}

// checkLayering looks for a wall of near-identical volumes stacked on
// one side of the book.
func (d *Detector) checkLayering(book models.BookSnapshot) (models.Warning, bool) {
	for _, side := range []struct {
		name   string
		levels []models.BookLevel
	}{
		{"bid", book.Bids},
		{"ask", book.Asks},
	} {
		if uniform, avg := uniformRun(side.levels, d.cfg.Layering.MinLevels, d.cfg.Layering.UniformTolerance, d.cfg.Layering.MinLevelVolume); uniform {
			return models.Warning{
				Symbol:   book.Symbol,
				Kind:     models.WarningLayering,
				Severity: models.SeverityHigh,
				Message:  "stacked uniform " + side.name + " levels",
				IssuedAt: book.Timestamp,
				Details: map[string]float64{
					"levels":     float64(d.cfg.Layering.MinLevels),
					"avg_volume": avg,
				},
			}, true
		}
	}
	return models.Warning{}, false
}

// checkSpoofing compares aggregate depth across the top levels of each
// side and flags a lopsided book.
func (d *Detector) checkSpoofing(book models.BookSnapshot) (models.Warning, bool) {
	n := d.cfg.Spoofing.LevelsToCheck
	bid := book.BidVolume(n)
	ask := book.AskVolume(n)
	if bid <= 0 || ask <= 0 {
		return models.Warning{}, false
	}

	ratio := bid / ask
	heavy := "bid"
	if ask > bid {
		ratio = ask / bid
		heavy = "ask"
	}
	if ratio < d.cfg.Spoofing.ImbalanceRatio {
		return models.Warning{}, false
	}

	return models.Warning{
		Symbol:   book.Symbol,
		Kind:     models.WarningSpoofing,
		Severity: models.SeverityHigh,
		Message:  "order book imbalance on " + heavy + " side",
		IssuedAt: book.Timestamp,
		Details: map[string]float64{
			"ratio":      ratio,
			"bid_volume": bid,
			"ask_volume": ask,
		},
	}, true
}

// uniformRun reports whether the first minLevels levels hold volumes
// within tolerance of their mean, all above minVolume.
func uniformRun(levels []models.BookLevel, minLevels int, tolerance, minVolume float64) (bool, float64) {
	if minLevels < 2 || len(levels) < minLevels {
		return false, 0
	}
	var sum float64
	for _, l := range levels[:minLevels] {
		if l.Volume < minVolume {
			return false, 0
		}
		sum += l.Volume
	}
	avg := sum / float64(minLevels)
	if avg <= 0 {
		return false, 0
	}
	for _, l := range levels[:minLevels] {
		dev := (l.Volume - avg) / avg
		if dev < 0 {
			dev = -dev
		}
		if dev > tolerance {
			return false, 0
		}
	}
	return true, avg
}
