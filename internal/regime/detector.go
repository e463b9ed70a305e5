package regime

import (
	"math"
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/pkg/logger"
)

// Config bounds the regime classification.
type Config struct {
	Window         time.Duration
	MinSamples     int
	TrendSlopeMin  float64
	VolNormalMax   float64
	VolHighMax     float64
	VolExtremeMax  float64
	RecomputeEvery time.Duration
}

// Detector classifies the market regime per symbol from recent trade
// prices: a trend from the linear slope and a volatility bucket from the
// stdev of one-step returns. Classification is recomputed lazily, at
// most once per RecomputeEvery, from prices observed in between.
type Detector struct {
	cfg Config
	log *logger.Logger

	mu     sync.RWMutex
	states map[string]*symbolState
}

type symbolState struct {
	samples []sample // within cfg.Window, oldest first
	current models.MarketRegime
	nextAt  time.Time
}

type sample struct {
	ts    time.Time
	price float64
}

func NewDetector(cfg Config, log *logger.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		log:    log,
		states: make(map[string]*symbolState),
	}
}

// Observe folds a trade price into the rolling window and recomputes
// the regime when due.
func (d *Detector) Observe(trade models.Trade) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[trade.Symbol]
	if !ok {
		st = &symbolState{current: models.MarketRegime{
			Symbol:     trade.Symbol,
			Trend:      models.TrendLateral,
			Volatility: models.VolatilityNormal,
		}}
		d.states[trade.Symbol] = st
	}

	st.samples = append(st.samples, sample{ts: trade.Timestamp, price: trade.Price})
	cutoff := trade.Timestamp.Add(-d.cfg.Window)
	for len(st.samples) > 0 && st.samples[0].ts.Before(cutoff) {
		st.samples = st.samples[1:]
	}

	if trade.Timestamp.Before(st.nextAt) {
		return
	}
	st.nextAt = trade.Timestamp.Add(d.cfg.RecomputeEvery)
	d.recompute(trade.Symbol, st, trade.Timestamp)
}

// Current returns the latest classification for symbol. Unknown symbols
// report a lateral, normal-volatility default.
func (d *Detector) Current(symbol string) models.MarketRegime {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if st, ok := d.states[symbol]; ok {
		return st.current
	}
	return models.MarketRegime{
		Symbol:     symbol,
		Trend:      models.TrendLateral,
		Volatility: models.VolatilityNormal,
	}
}

// Recompute forces an immediate reclassification of every symbol.
func (d *Detector) Recompute(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for symbol, st := range d.states {
		st.nextAt = now.Add(d.cfg.RecomputeEvery)
		d.recompute(symbol, st, now)
	}
}

func (d *Detector) recompute(symbol string, st *symbolState, now time.Time) {
	if len(st.samples) < d.cfg.MinSamples {
		return
	}

	slope := priceSlope(st.samples)
	vol := returnStdev(st.samples)

	trend := models.TrendLateral
	if slope >= d.cfg.TrendSlopeMin {
		trend = models.TrendUp
	} else if slope <= -d.cfg.TrendSlopeMin {
		trend = models.TrendDown
	}

	bucket := models.VolatilityLow
	switch {
	case vol > d.cfg.VolExtremeMax:
		bucket = models.VolatilityExtreme
	case vol > d.cfg.VolHighMax:
		bucket = models.VolatilityHigh
	case vol > d.cfg.VolNormalMax:
		bucket = models.VolatilityNormal
	}

	prev := st.current
	st.current = models.MarketRegime{
		Symbol:      symbol,
		Trend:       trend,
		Volatility:  bucket,
		TrendSlope:  slope,
		RealizedVol: vol,
		ComputedAt:  now,
	}

	if d.log != nil && (prev.Trend != trend || prev.Volatility != bucket) {
		d.log.Info("regime change",
			logger.String("symbol", symbol),
			logger.String("trend", string(trend)),
			logger.String("volatility", string(bucket)),
			logger.Float64("slope", slope),
			logger.Float64("realized_vol", vol))
	}
}

// priceSlope is the least squares slope of price against sample index.
func priceSlope(samples []sample) float64 {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range samples {
		x := float64(i)
		sumX += x
		sumY += s.price
		sumXY += x * s.price
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// returnStdev is the standard deviation of one-step price differences.
func returnStdev(samples []sample) float64 {
	if len(samples) < 3 {
		return 0
	}
	diffs := make([]float64, 0, len(samples)-1)
	var mean float64
	for i := 1; i < len(samples); i++ {
		d := samples[i].price - samples[i-1].price
		diffs = append(diffs, d)
		mean += d
	}
	mean /= float64(len(diffs))
	var ss float64
	for _, d := range diffs {
		ss += (d - mean) * (d - mean)
	}
	return math.Sqrt(ss / float64(len(diffs)))
}
