package journal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Record is the envelope written to every sink, one JSON object per line.
type Record struct {
	Seq   uint64      `json:"seq"`
	Topic string      `json:"topic"`
	Key   string      `json:"key"`
	At    time.Time   `json:"at"`
	Event interface{} `json:"event"`
}

// Journal subscribes to every bus topic and persists an ordered stream of
// records. Writes are asynchronous: events land in a bounded queue and a
// single drain goroutine fans them out to the configured sinks. When the
// queue is full the oldest record is discarded so the detection path is
// never blocked by storage.
type Journal struct {
	sinks   []repository.JournalSink
	log     *logger.Logger
	metrics repository.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	seq    atomic.Uint64
	wg     sync.WaitGroup
}

type queued struct {
	key string
	raw []byte
}

func New(queueCapacity int, sinks []repository.JournalSink, log *logger.Logger, metrics repository.Metrics) *Journal {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &Journal{
		sinks:   sinks,
		log:     log,
		metrics: metrics,
		queue:   make(chan queued, queueCapacity),
	}
}

// Register subscribes the journal to every topic on the bus.
func (j *Journal) Register(bus repository.Bus) {
	topics := []string{
		models.TopicTrades,
		models.TopicBooks,
		models.TopicCVD,
		models.TopicSignals,
		models.TopicSetups,
		models.TopicApprovals,
		models.TopicWarnings,
		models.TopicPositions,
	}
	for _, topic := range topics {
		bus.Subscribe(topic, j.onEvent)
	}
}

// Start launches the drain goroutine.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.drain()
}

func (j *Journal) onEvent(ev repository.Event) {
	rec := Record{
		Seq:   j.seq.Add(1),
		Topic: ev.Topic(),
		Key:   ev.Key(),
		At:    time.Now(),
		Event: ev,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		j.metrics.RecordError("journal_encode")
		j.log.Error("journal encode failed", logger.String("topic", rec.Topic), logger.Error(err))
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	q := queued{key: rec.Key, raw: raw}
	select {
	case j.queue <- q:
		return
	default:
	}
	// Full queue: evict the oldest record to make room.
	select {
	case <-j.queue:
		j.metrics.RecordError("journal_drop")
	default:
	}
	select {
	case j.queue <- q:
	default:
	}
}

func (j *Journal) drain() {
	defer j.wg.Done()
	ctx := context.Background()
	for q := range j.queue {
		for _, sink := range j.sinks {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := sink.Write(wctx, q.key, q.raw); err != nil {
				j.metrics.RecordError("journal_sink_write")
				j.log.Warn("journal sink write failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting records, drains the queue, and closes every sink.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()

	var firstErr error
	for _, sink := range j.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
