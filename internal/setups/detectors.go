package setups

import (
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
)

// DetectorConfig bounds setup construction from tactical signals.
type DetectorConfig struct {
	// ViolentChainWindow is the max gap between a volume spike and the
	// momentum burst that completes a violent reversal.
	ViolentChainWindow time.Duration
	// CVDReversalWindow is how long an absorption stays eligible while
	// waiting for the delta to turn.
	CVDReversalWindow time.Duration
	// PullbackWindow is the lookback for confirmations in trend pullbacks.
	PullbackWindow time.Duration
	// IgnitionWindow is the max gap between momentum and pressure for a
	// breakout ignition.
	IgnitionWindow time.Duration
	// ExtremeDivergence is the standalone strength threshold for a
	// divergence setup.
	ExtremeDivergence float64

	TTL map[models.SetupKind]time.Duration

	// Stop distances in points per setup kind.
	StopPoints map[models.SetupKind]float64
}

// Context is the market state a setup decision is made against.
type Context struct {
	Regime models.MarketRegime
	CVD    models.CVDState
	// History holds recent tactical signals for the symbol, oldest
	// first, the current signal excluded.
	History []models.TacticalSignal
}

// Detectors turns tactical signals into strategic setup candidates. At
// most one candidate is produced per incoming signal; faster, more
// specific patterns win over slower ones.
type Detectors struct {
	cfg DetectorConfig
}

func NewDetectors(cfg DetectorConfig) *Detectors {
	if cfg.IgnitionWindow <= 0 {
		cfg.IgnitionWindow = time.Second
	}
	return &Detectors{cfg: cfg}
}

// Evaluate checks the new signal against the market context.
func (d *Detectors) Evaluate(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	if s, ok := d.reversalViolent(sig, ctx); ok {
		return s, true
	}
	if s, ok := d.breakoutIgnition(sig, ctx); ok {
		return s, true
	}
	if s, ok := d.reversalSlow(sig, ctx); ok {
		return s, true
	}
	if s, ok := d.pullbackRejection(sig, ctx); ok {
		return s, true
	}
	if s, ok := d.divergenceSetup(sig, ctx); ok {
		return s, true
	}
	return models.Setup{}, false
}

// reversalViolent: a volume spike chased by momentum in the same
// direction inside the chain window.
func (d *Detectors) reversalViolent(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	if sig.Kind != models.PatternMomentum {
		return models.Setup{}, false
	}
	spike, ok := latestSignal(ctx.History, models.PatternVolumeSpike, sig.Direction,
		sig.DetectedAt.Add(-d.cfg.ViolentChainWindow))
	if !ok {
		return models.Setup{}, false
	}
	score := (sig.Strength + spike.Strength) / 2
	return d.build(models.SetupReversalViolent, sig, score, []string{spike.ID, sig.ID}), true
}

// breakoutIgnition: momentum and pressure firing together in the same
// direction.
func (d *Detectors) breakoutIgnition(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	var wantKind models.PatternKind
	switch sig.Kind {
	case models.PatternMomentum:
		wantKind = models.PatternPressure
	case models.PatternPressure:
		wantKind = models.PatternMomentum
	default:
		return models.Setup{}, false
	}
	other, ok := latestSignal(ctx.History, wantKind, sig.Direction,
		sig.DetectedAt.Add(-d.cfg.IgnitionWindow))
	if !ok {
		return models.Setup{}, false
	}
	score := (sig.Strength + other.Strength) / 2
	return d.build(models.SetupBreakoutIgnition, sig, score, []string{other.ID, sig.ID}), true
}

// reversalSlow: absorption with the cumulative delta already turning in
// the absorbed direction.
func (d *Detectors) reversalSlow(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	var absorption models.TacticalSignal
	switch {
	case sig.Kind == models.PatternAbsorption:
		absorption = sig
	default:
		prev, ok := latestSignal(ctx.History, models.PatternAbsorption, sig.Direction,
			sig.DetectedAt.Add(-d.cfg.CVDReversalWindow))
		if !ok {
			return models.Setup{}, false
		}
		absorption = prev
	}

	if !rocAligned(ctx.CVD.ROC, absorption.Direction) {
		return models.Setup{}, false
	}

	ids := []string{absorption.ID}
	if absorption.ID != sig.ID {
		ids = append(ids, sig.ID)
	}
	return d.build(models.SetupReversalSlow, absorption, absorption.Strength, ids), true
}

// pullbackRejection: an established trend, a counter-move getting
// rejected, and two aligned confirmations on the tape.
func (d *Detectors) pullbackRejection(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	trendDir := trendDirection(ctx.Regime.Trend)
	if trendDir == models.DirectionNeutral || sig.Direction != trendDir {
		return models.Setup{}, false
	}
	if !isRejectionKind(sig.Kind) {
		return models.Setup{}, false
	}

	confirm, ok := alignedRejection(ctx.History, trendDir,
		sig.DetectedAt.Add(-d.cfg.PullbackWindow), sig.ID)
	if !ok {
		return models.Setup{}, false
	}

	score := (sig.Strength + confirm.Strength) / 2
	return d.build(models.SetupPullbackRejection, sig, score, []string{confirm.ID, sig.ID}), true
}

// divergenceSetup: a divergence strong enough to stand alone.
func (d *Detectors) divergenceSetup(sig models.TacticalSignal, ctx Context) (models.Setup, bool) {
	if sig.Kind != models.PatternDivergence || sig.Strength < d.cfg.ExtremeDivergence {
		return models.Setup{}, false
	}
	return d.build(models.SetupDivergence, sig, sig.Strength, []string{sig.ID}), true
}

func (d *Detectors) build(kind models.SetupKind, sig models.TacticalSignal, score float64, signalIDs []string) models.Setup {
	sign := 1.0
	if sig.Direction == models.DirectionSell {
		sign = -1
	}
	stop := d.cfg.StopPoints[kind]
	if stop <= 0 {
		stop = 2
	}
	entry := sig.Price
	risk := stop

	return models.Setup{
		ID:        uuid.NewString(),
		Symbol:    sig.Symbol,
		Kind:      kind,
		Direction: sig.Direction,
		State:     models.SetupPending,
		Score:     clamp01(score),
		Entry:     entry,
		Stop:      entry - sign*stop,
		Targets:   []float64{entry + sign*risk, entry + sign*2*risk},
		CreatedAt: sig.DetectedAt,
		Deadline:  sig.DetectedAt.Add(d.cfg.TTL[kind]),
		SignalIDs: signalIDs,
	}
}

func latestSignal(history []models.TacticalSignal, kind models.PatternKind, dir models.Direction, since time.Time) (models.TacticalSignal, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		if s.DetectedAt.Before(since) {
			break
		}
		if s.Kind == kind && s.Direction == dir {
			return s, true
		}
	}
	return models.TacticalSignal{}, false
}

func alignedRejection(history []models.TacticalSignal, dir models.Direction, since time.Time, excludeID string) (models.TacticalSignal, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		if s.DetectedAt.Before(since) {
			break
		}
		if s.ID == excludeID || s.Direction != dir || !isRejectionKind(s.Kind) {
			continue
		}
		return s, true
	}
	return models.TacticalSignal{}, false
}

func isRejectionKind(k models.PatternKind) bool {
	switch k {
	case models.PatternAbsorption, models.PatternIceberg, models.PatternPressure:
		return true
	}
	return false
}

func trendDirection(t models.Trend) models.Direction {
	switch t {
	case models.TrendUp:
		return models.DirectionBuy
	case models.TrendDown:
		return models.DirectionSell
	}
	return models.DirectionNeutral
}

func rocAligned(roc float64, dir models.Direction) bool {
	if dir == models.DirectionBuy {
		return roc > 0
	}
	if dir == models.DirectionSell {
		return roc < 0
	}
	return false
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
