package patterns

import (
	"strconv"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/cache"
	"TapeFlow/pkg/logger"
)

// EngineConfig wires per-detector thresholds plus the memo cache bounds.
type EngineConfig struct {
	CacheTTL     time.Duration
	CacheMaxSize int

	Absorption AbsorptionConfig
	Iceberg    IcebergConfig
	Pressure   PressureConfig
	Spike      VolumeSpikeConfig
	Momentum   MomentumConfig
	Divergence DivergenceConfig
}

type memoResult struct {
	signal models.TacticalSignal
	ok     bool
}

// Engine runs every detector over a market snapshot. Results are
// memoized per detector and snapshot fingerprint so that bursts of
// evaluations against an unchanged tape do not recompute.
type Engine struct {
	detectors  []Detector
	divergence *DivergenceDetector
	memo       *cache.Memo[memoResult]
	log        *logger.Logger
	metrics    repository.Metrics
}

// NewEngine builds the standard six-detector engine.
func NewEngine(cfg EngineConfig, log *logger.Logger, metrics repository.Metrics) *Engine {
	div := NewDivergenceDetector(cfg.Divergence)
	return &Engine{
		detectors: []Detector{
			NewAbsorptionDetector(cfg.Absorption),
			NewIcebergDetector(cfg.Iceberg),
			NewPressureDetector(cfg.Pressure),
			NewVolumeSpikeDetector(cfg.Spike),
			NewMomentumDetector(cfg.Momentum),
			div,
		},
		divergence: div,
		memo:       cache.NewMemo[memoResult](cfg.CacheMaxSize, cfg.CacheTTL),
		log:        log,
		metrics:    metrics,
	}
}

// Evaluate runs all detectors and returns the signals found.
func (e *Engine) Evaluate(s Snapshot) []models.TacticalSignal {
	if len(s.Trades) == 0 {
		return nil
	}

	fp := fingerprint(s)
	var out []models.TacticalSignal
	for _, d := range e.detectors {
		key := s.Symbol + "|" + string(d.Kind()) + "|" + fp
		if res, hit := e.memo.Get(key); hit {
			if res.ok {
				out = append(out, res.signal)
			}
			continue
		}

		sig, ok := e.detect(d, s)
		e.memo.Set(key, memoResult{signal: sig, ok: ok})
		if !ok {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordSignal(sig.Symbol, string(sig.Kind))
		}
		if e.log != nil {
			e.log.Debug("tactical signal",
				logger.String("symbol", sig.Symbol),
				logger.String("kind", string(sig.Kind)),
				logger.String("direction", string(sig.Direction)),
				logger.Float64("strength", sig.Strength),
				logger.Float64("price", sig.Price))
		}
		out = append(out, sig)
	}
	return out
}

// detect isolates a detector fault: a panic is logged and treated as no
// match, and the remaining detectors keep running.
func (e *Engine) detect(d Detector, s Snapshot) (sig models.TacticalSignal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok = models.TacticalSignal{}, false
			if e.metrics != nil {
				e.metrics.RecordError("detector_fault")
			}
			if e.log != nil {
				e.log.Error("detector panicked",
					logger.String("symbol", s.Symbol),
					logger.String("detector", string(d.Kind())),
					logger.Any("panic", r))
			}
		}
	}()
	return d.Detect(s)
}

// ExtremeDivergence reports whether a divergence signal clears the
// standalone setup threshold.
func (e *Engine) ExtremeDivergence(sig models.TacticalSignal) bool {
	return e.divergence.Extreme(sig)
}

// fingerprint identifies the tape state a detection ran against. Two
// snapshots with the same newest trade and depth are equivalent inside
// the memo TTL.
func fingerprint(s Snapshot) string {
	last := s.Trades[len(s.Trades)-1]
	return strconv.FormatInt(last.Timestamp.UnixNano(), 36) + ":" + strconv.Itoa(len(s.Trades))
}
