package models

import "time"

// TradeSide is the aggressor side of an executed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is a single executed trade from the market feed. Immutable once ingested.
type Trade struct {
	Symbol    string
	Timestamp time.Time
	Side      TradeSide
	Price     float64
	Volume    float64
}

// SignedVolume returns +Volume for buys and -Volume for sells.
func (t Trade) SignedVolume() float64 {
	if t.Side == SideBuy {
		return t.Volume
	}
	return -t.Volume
}

// Valid reports whether the trade has usable fields.
func (t Trade) Valid() bool {
	return t.Symbol != "" && !t.Timestamp.IsZero() && t.Price > 0 && t.Volume > 0 &&
		(t.Side == SideBuy || t.Side == SideSell)
}
