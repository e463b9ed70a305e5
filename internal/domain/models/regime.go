package models

import "time"

// Trend classifies the prevailing price direction of a symbol.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendLateral Trend = "lateral"
)

// VolatilityBucket bins realized volatility for sizing and gating decisions.
type VolatilityBucket string

const (
	VolatilityLow     VolatilityBucket = "low"
	VolatilityNormal  VolatilityBucket = "normal"
	VolatilityHigh    VolatilityBucket = "high"
	VolatilityExtreme VolatilityBucket = "extreme"
)

// MarketRegime is the current classified market state for one symbol.
type MarketRegime struct {
	Symbol     string
	Trend      Trend
	Volatility VolatilityBucket
	// TrendSlope is the per-sample linear slope of recent prices.
	TrendSlope float64
	// RealizedVol is the annualization-free stdev of recent returns.
	RealizedVol float64
	ComputedAt  time.Time
}

// Tradeable reports whether new setups should be entertained under this
// regime. Extreme volatility suspends new exposure.
func (r MarketRegime) Tradeable() bool {
	return r.Volatility != VolatilityExtreme
}
