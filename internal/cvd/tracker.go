package cvd

import (
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
)

// Tracker maintains cumulative volume delta per symbol. Buys add volume,
// sells subtract. A bounded sample history backs the rate-of-change
// calculation used by divergence detection and confluence checks.
type Tracker struct {
	historySize int
	rocLookback int

	mu     sync.RWMutex
	states map[string]*symbolState
}

type symbolState struct {
	value   float64
	history []models.CVDPoint // ring, oldest at head
	head    int
	size    int
	updated time.Time
}

// NewTracker creates a tracker keeping historySize samples per symbol
// and computing ROC over rocLookback samples.
func NewTracker(historySize, rocLookback int) *Tracker {
	if historySize < 2 {
		historySize = 2
	}
	if rocLookback < 1 {
		rocLookback = 1
	}
	if rocLookback >= historySize {
		rocLookback = historySize - 1
	}
	return &Tracker{
		historySize: historySize,
		rocLookback: rocLookback,
		states:      make(map[string]*symbolState),
	}
}

// Apply folds a trade into the symbol's running delta and returns the
// refreshed state.
func (t *Tracker) Apply(trade models.Trade) models.CVDState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[trade.Symbol]
	if !ok {
		st = &symbolState{history: make([]models.CVDPoint, t.historySize)}
		t.states[trade.Symbol] = st
	}

	st.value += trade.SignedVolume()
	st.updated = trade.Timestamp
	st.push(models.CVDPoint{Timestamp: trade.Timestamp, Value: st.value})

	return models.CVDState{
		Symbol:    trade.Symbol,
		Value:     st.value,
		ROC:       st.roc(t.rocLookback),
		UpdatedAt: st.updated,
	}
}

// State returns the current state for symbol and false when the symbol
// has seen no trades.
func (t *Tracker) State(symbol string) (models.CVDState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[symbol]
	if !ok {
		return models.CVDState{}, false
	}
	return models.CVDState{
		Symbol:    symbol,
		Value:     st.value,
		ROC:       st.roc(t.rocLookback),
		UpdatedAt: st.updated,
	}, true
}

// History copies the sample history for symbol, oldest first.
func (t *Tracker) History(symbol string) []models.CVDPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[symbol]
	if !ok {
		return nil
	}
	out := make([]models.CVDPoint, st.size)
	for i := 0; i < st.size; i++ {
		out[i] = st.history[(st.head+i)%len(st.history)]
	}
	return out
}

// Reset clears the delta and history for symbol, for session boundaries.
func (t *Tracker) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, symbol)
}

func (s *symbolState) push(p models.CVDPoint) {
	idx := (s.head + s.size) % len(s.history)
	if s.size == len(s.history) {
		s.history[s.head] = p
		s.head = (s.head + 1) % len(s.history)
		return
	}
	s.history[idx] = p
	s.size++
}

// roc is the delta between the newest sample and the sample lookback
// positions earlier. With fewer samples it falls back to the oldest one.
func (s *symbolState) roc(lookback int) float64 {
	if s.size < 2 {
		return 0
	}
	back := lookback
	if back > s.size-1 {
		back = s.size - 1
	}
	newest := s.history[(s.head+s.size-1)%len(s.history)]
	ref := s.history[(s.head+s.size-1-back)%len(s.history)]
	return newest.Value - ref.Value
}
