package models

import "time"

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64
	Volume float64
}

// BookSnapshot is a point-in-time view of the order book for a symbol.
// Immutable; superseded by the next snapshot for the same symbol.
type BookSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Bids      []BookLevel // ordered best (highest) first
	Asks      []BookLevel // ordered best (lowest) first
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (b *BookSnapshot) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (b *BookSnapshot) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// BidVolume sums the volume of the first n bid levels.
func (b *BookSnapshot) BidVolume(n int) float64 {
	return sideVolume(b.Bids, n)
}

// AskVolume sums the volume of the first n ask levels.
func (b *BookSnapshot) AskVolume(n int) float64 {
	return sideVolume(b.Asks, n)
}

// Spread returns ask minus bid at the top of book.
func (b *BookSnapshot) Spread() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// Valid reports whether the snapshot has usable fields.
func (b *BookSnapshot) Valid() bool {
	if b.Symbol == "" || b.Timestamp.IsZero() {
		return false
	}
	for _, l := range b.Bids {
		if l.Price <= 0 || l.Volume < 0 {
			return false
		}
	}
	for _, l := range b.Asks {
		if l.Price <= 0 || l.Volume < 0 {
			return false
		}
	}
	return true
}

func sideVolume(levels []BookLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, l := range levels[:n] {
		total += l.Volume
	}
	return total
}
