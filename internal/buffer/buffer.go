package buffer

import (
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
)

// TradeBuffer is a bounded ring of recent trades for one symbol. When
// full, appending overwrites the oldest trade.
type TradeBuffer struct {
	mu    sync.RWMutex
	items []models.Trade
	head  int
	size  int
}

// NewTradeBuffer creates a buffer holding up to capacity trades.
func NewTradeBuffer(capacity int) *TradeBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TradeBuffer{items: make([]models.Trade, capacity)}
}

// Append stores a trade, overwriting the oldest when full.
func (b *TradeBuffer) Append(t models.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.head + b.size) % len(b.items)
	if b.size == len(b.items) {
		// Full: head advances, oldest is overwritten.
		b.items[b.head] = t
		b.head = (b.head + 1) % len(b.items)
		return
	}
	b.items[idx] = t
	b.size++
}

// Len reports the number of stored trades.
func (b *TradeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Last returns the most recent trade and false when empty.
func (b *TradeBuffer) Last() (models.Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return models.Trade{}, false
	}
	idx := (b.head + b.size - 1) % len(b.items)
	return b.items[idx], true
}

// Snapshot copies all stored trades, oldest first.
func (b *TradeBuffer) Snapshot() []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Trade, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Window copies trades with Timestamp >= since, oldest first. Trades are
// assumed appended in time order; the scan walks back from the newest.
func (b *TradeBuffer) Window(since time.Time) []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for i := b.size - 1; i >= 0; i-- {
		t := b.items[(b.head+i)%len(b.items)]
		if t.Timestamp.Before(since) {
			break
		}
		n++
	}

	out := make([]models.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+b.size-n+i)%len(b.items)]
	}
	return out
}

// BookBuffer keeps the current and a short history of book snapshots
// for one symbol.
type BookBuffer struct {
	mu    sync.RWMutex
	items []models.BookSnapshot
	head  int
	size  int
}

// NewBookBuffer creates a buffer holding up to capacity snapshots.
func NewBookBuffer(capacity int) *BookBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &BookBuffer{items: make([]models.BookSnapshot, capacity)}
}

// Append stores a snapshot, overwriting the oldest when full.
func (b *BookBuffer) Append(s models.BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.head + b.size) % len(b.items)
	if b.size == len(b.items) {
		b.items[b.head] = s
		b.head = (b.head + 1) % len(b.items)
		return
	}
	b.items[idx] = s
	b.size++
}

// Current returns the latest snapshot and false when none exists.
func (b *BookBuffer) Current() (models.BookSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return models.BookSnapshot{}, false
	}
	idx := (b.head + b.size - 1) % len(b.items)
	return b.items[idx], true
}

// Snapshot copies all stored snapshots, oldest first.
func (b *BookBuffer) Snapshot() []models.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.BookSnapshot, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Store groups per-symbol trade and book buffers behind one lookup.
type Store struct {
	mu     sync.RWMutex
	trades map[string]*TradeBuffer
	books  map[string]*BookBuffer

	tradeCap int
	bookCap  int
}

// NewStore creates buffers lazily per symbol with the given capacities.
func NewStore(tradeCap, bookCap int) *Store {
	return &Store{
		trades:   make(map[string]*TradeBuffer),
		books:    make(map[string]*BookBuffer),
		tradeCap: tradeCap,
		bookCap:  bookCap,
	}
}

// Trades returns the trade buffer for symbol, creating it on first use.
func (s *Store) Trades(symbol string) *TradeBuffer {
	s.mu.RLock()
	b, ok := s.trades[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.trades[symbol]; ok {
		return b
	}
	b = NewTradeBuffer(s.tradeCap)
	s.trades[symbol] = b
	return b
}

// Books returns the book buffer for symbol, creating it on first use.
func (s *Store) Books(symbol string) *BookBuffer {
	s.mu.RLock()
	b, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[symbol]; ok {
		return b
	}
	b = NewBookBuffer(s.bookCap)
	s.books[symbol] = b
	return b
}
