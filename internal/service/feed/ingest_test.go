package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

type recordingBus struct {
	mu     sync.Mutex
	events []repository.Event
}

func (b *recordingBus) Publish(e repository.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(string, func(repository.Event)) {}
func (b *recordingBus) Close() error                             { return nil }

func (b *recordingBus) byTopic(topic string) []repository.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []repository.Event
	for _, e := range b.events {
		if e.Topic() == topic {
			out = append(out, e)
		}
	}
	return out
}

type fakeStream struct {
	trades chan models.Trade
	books  chan models.BookSnapshot
	errs   chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		trades: make(chan models.Trade, 64),
		books:  make(chan models.BookSnapshot, 64),
		errs:   make(chan error, 1),
	}
}

func (s *fakeStream) Connect(context.Context) error   { return nil }
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Reconnect(context.Context) error { return nil }
func (s *fakeStream) Close() error                    { return nil }
func (s *fakeStream) IsConnected() bool               { return true }

func (s *fakeStream) Read(context.Context) (<-chan models.Trade, <-chan models.BookSnapshot, <-chan error) {
	return s.trades, s.books, s.errs
}

type nopMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *nopMetrics) bump(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
}

func (m *nopMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *nopMetrics) RecordTradeIngested(string)           {}
func (m *nopMetrics) RecordSignal(string, string)          {}
func (m *nopMetrics) RecordSetupTransition(_, _, _ string) {}
func (m *nopMetrics) RecordWarning(_ string, kind string)  { m.bump("warning_" + kind) }
func (m *nopMetrics) RecordBusDrop(string)                 {}
func (m *nopMetrics) RecordError(kind string)              { m.bump("error_" + kind) }
func (m *nopMetrics) RecordLastPrice(string, float64)      {}
func (m *nopMetrics) RecordCVD(string, float64)            {}
func (m *nopMetrics) SetOpenPositions(int)                 {}
func (m *nopMetrics) RecordLatency(string, float64)        {}

func testLogger() *logger.Logger {
	log, _ := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	return log
}

func trade(sym string, price float64) models.Trade {
	return models.Trade{
		Symbol:    sym,
		Timestamp: time.Now(),
		Side:      models.SideBuy,
		Price:     price,
		Volume:    5,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestIngestorPublishesTradesAndBooks(t *testing.T) {
	stream := newFakeStream()
	bus := &recordingBus{}
	ing := NewIngestor(IngestConfig{Symbols: []string{"WDO"}}, stream, bus, testLogger(), &nopMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = ing.Run(ctx)
		close(done)
	}()

	stream.trades <- trade("WDO", 5500)
	stream.books <- models.BookSnapshot{
		Symbol:    "WDO",
		Timestamp: time.Now(),
		Bids:      []models.BookLevel{{Price: 5499.5, Volume: 30}},
		Asks:      []models.BookLevel{{Price: 5500, Volume: 25}},
	}

	waitFor(t, func() bool {
		return len(bus.byTopic(models.TopicTrades)) == 1 && len(bus.byTopic(models.TopicBooks)) == 1
	})

	cancel()
	<-done
}

func TestIngestorThrottlesBursts(t *testing.T) {
	stream := newFakeStream()
	bus := &recordingBus{}
	metrics := &nopMetrics{}
	ing := NewIngestor(IngestConfig{MaxEventsPerSec: 2, Symbols: []string{"WDO"}}, stream, bus, testLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ing.Run(ctx) }()

	for i := 0; i < 10; i++ {
		stream.trades <- trade("WDO", 5500+float64(i))
	}

	waitFor(t, func() bool { return metrics.count("error_feed_throttled") > 0 })
	if got := len(bus.byTopic(models.TopicTrades)); got > 3 {
		t.Fatalf("published %d trades, want at most 3 with a burst of 2", got)
	}
}

func TestIngestorWarnsOnStaleFeed(t *testing.T) {
	stream := newFakeStream()
	bus := &recordingBus{}
	metrics := &nopMetrics{}
	ing := NewIngestor(IngestConfig{
		StaleAfter: 50 * time.Millisecond,
		Symbols:    []string{"WDO", "DOL"},
	}, stream, bus, testLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ing.Run(ctx) }()

	waitFor(t, func() bool { return len(bus.byTopic(models.TopicWarnings)) == 2 })

	warnings := bus.byTopic(models.TopicWarnings)
	w, ok := warnings[0].(models.WarningEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", warnings[0])
	}
	if w.Warning.Kind != models.WarningStaleFeed {
		t.Fatalf("warning kind = %q, want stale_feed", w.Warning.Kind)
	}

	// Fresh data on one symbol clears only its flag: WDO warns again
	// after the next gap, while the still-silent DOL warned just once.
	stream.trades <- trade("WDO", 5500)
	waitFor(t, func() bool {
		perSymbol := map[string]int{}
		for _, e := range bus.byTopic(models.TopicWarnings) {
			if we, ok := e.(models.WarningEvent); ok {
				perSymbol[we.Warning.Symbol]++
			}
		}
		return perSymbol["WDO"] == 2 && perSymbol["DOL"] == 1
	})
}

func TestDecodeTrade(t *testing.T) {
	got := decodeTrade(wireTrade{Symbol: "DOL", Price: 5501.5, Volume: 3, Side: "sell", TS: 1_700_000_000_000})
	if got.Side != models.SideSell {
		t.Fatalf("side = %q, want sell", got.Side)
	}
	if got.Price != 5501.5 || got.Volume != 3 {
		t.Fatalf("price/volume = %v/%v", got.Price, got.Volume)
	}
	if got.Timestamp.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("timestamp = %v", got.Timestamp)
	}
}

func TestDecodeBookOrdersLevels(t *testing.T) {
	got := decodeBook(wireBook{
		Symbol: "WDO",
		TS:     1_700_000_000_000,
		Bids:   [][2]float64{{5499.5, 30}, {5499, 20}},
		Asks:   [][2]float64{{5500, 25}, {5500.5, 15}},
	})
	if got.BestBid() != 5499.5 {
		t.Fatalf("best bid = %v", got.BestBid())
	}
	if got.BestAsk() != 5500 {
		t.Fatalf("best ask = %v", got.BestAsk())
	}
}
