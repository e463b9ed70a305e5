package tape

import (
	"math"
	"sync"
	"time"

	"TapeFlow/internal/buffer"
	"TapeFlow/internal/cvd"
	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/internal/manipulation"
	"TapeFlow/internal/patterns"
	"TapeFlow/internal/regime"
	"TapeFlow/pkg/logger"
)

// Service is the tape reading pipeline for all symbols. It consumes raw
// trades and book snapshots from the bus, maintains the market state
// (buffers, cumulative volume delta, regime) and republishes derived
// events: CVD updates, tactical signals, and manipulation warnings.
//
// All handlers run on the symbol's bus partition, so per-symbol state
// needs no extra synchronization beyond what the components provide.
type Service struct {
	bus     repository.Bus
	buffers *buffer.Store
	cvd     *cvd.Tracker
	engine  *patterns.Engine
	regime  *regime.Detector
	manip   *manipulation.Detector
	log     *logger.Logger
	metrics repository.Metrics

	// cvdThreshold gates CVDUpdatedEvent publishing: the event goes out
	// when |ROC| crosses the threshold from either side. Zero publishes
	// on every trade.
	cvdThreshold float64
	rocMu        sync.Mutex
	rocAbove     map[string]bool
}

func NewService(
	b repository.Bus,
	buffers *buffer.Store,
	tracker *cvd.Tracker,
	engine *patterns.Engine,
	regimes *regime.Detector,
	manip *manipulation.Detector,
	cvdThreshold float64,
	log *logger.Logger,
	metrics repository.Metrics,
) *Service {
	return &Service{
		bus:          b,
		buffers:      buffers,
		cvd:          tracker,
		engine:       engine,
		regime:       regimes,
		manip:        manip,
		log:          log,
		metrics:      metrics,
		cvdThreshold: cvdThreshold,
		rocAbove:     make(map[string]bool),
	}
}

// Register subscribes the service to its input topics. Call once before
// the feed starts publishing.
func (s *Service) Register() {
	s.bus.Subscribe(models.TopicTrades, s.onTrade)
	s.bus.Subscribe(models.TopicBooks, s.onBook)
}

func (s *Service) onTrade(e repository.Event) {
	ev, ok := e.(models.TradeEvent)
	if !ok {
		return
	}
	trade := ev.Trade
	if !trade.Valid() {
		if s.metrics != nil {
			s.metrics.RecordError("invalid_trade")
		}
		return
	}

	start := time.Now()
	s.buffers.Trades(trade.Symbol).Append(trade)

	state := s.cvd.Apply(trade)
	if s.cvdCrossed(trade.Symbol, state.ROC) {
		s.bus.Publish(models.CVDUpdatedEvent{State: state})
	}

	s.regime.Observe(trade)

	if s.metrics != nil {
		s.metrics.RecordTradeIngested(trade.Symbol)
		s.metrics.RecordLastPrice(trade.Symbol, trade.Price)
		s.metrics.RecordCVD(trade.Symbol, state.Value)
	}

	snapshot := s.snapshot(trade.Symbol, trade.Timestamp, state)
	signals := s.engine.Evaluate(snapshot)
	if len(signals) > 0 && s.manip.Suppressed(trade.Symbol, trade.Timestamp) {
		// Signals coinciding with live manipulation findings never reach
		// the bus.
		if s.metrics != nil {
			s.metrics.RecordError("signal_suppressed")
		}
		if s.log != nil {
			s.log.Debug("signals suppressed by manipulation findings",
				logger.String("symbol", trade.Symbol),
				logger.Int("count", len(signals)))
		}
		signals = nil
	}
	for _, sig := range signals {
		s.bus.Publish(models.SignalEvent{Signal: sig})
	}

	if s.metrics != nil {
		s.metrics.RecordLatency("tape_on_trade", time.Since(start).Seconds())
	}
}

func (s *Service) onBook(e repository.Event) {
	ev, ok := e.(models.BookEvent)
	if !ok {
		return
	}
	book := ev.Book
	if !book.Valid() {
		if s.metrics != nil {
			s.metrics.RecordError("invalid_book")
		}
		return
	}

	s.buffers.Books(book.Symbol).Append(book)

	for _, w := range s.manip.Inspect(book) {
		s.bus.Publish(models.WarningEvent{Warning: w})
	}
}

// cvdCrossed reports whether the delta's rate of change just crossed
// the publish threshold, in either direction.
func (s *Service) cvdCrossed(symbol string, roc float64) bool {
	if s.cvdThreshold <= 0 {
		return true
	}
	above := math.Abs(roc) >= s.cvdThreshold
	s.rocMu.Lock()
	was := s.rocAbove[symbol]
	s.rocAbove[symbol] = above
	s.rocMu.Unlock()
	return above != was
}

// Suppressed reports whether manipulation findings currently block new
// setups on symbol.
func (s *Service) Suppressed(symbol string, t time.Time) bool {
	return s.manip.Suppressed(symbol, t)
}

// Regime returns the current market regime for symbol.
func (s *Service) Regime(symbol string) models.MarketRegime {
	return s.regime.Current(symbol)
}

func (s *Service) snapshot(symbol string, now time.Time, state models.CVDState) patterns.Snapshot {
	snap := patterns.Snapshot{
		Symbol:     symbol,
		Now:        now,
		Trades:     s.buffers.Trades(symbol).Snapshot(),
		CVD:        state,
		CVDHistory: s.cvd.History(symbol),
	}
	if book, ok := s.buffers.Books(symbol).Current(); ok {
		snap.Book = &book
	}
	return snap
}
