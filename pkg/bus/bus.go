package bus

import (
	"sync"

	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Event is re-exported for callers that only import the bus.
type Event = repository.Event

// OverflowFunc is invoked after an event is dropped because a partition
// queue was full. It runs on the publisher's goroutine and must be cheap.
type OverflowFunc func(key, topic string, dropped Event)

// Bus is an in-process event bus. Events are partitioned by Key; each
// partition is a single goroutine draining a bounded channel, so events
// with the same key are handled in publish order. When a partition queue
// is full the oldest queued event is dropped to admit the new one.
type Bus struct {
	capacity int
	log      *logger.Logger
	metrics  repository.Metrics
	onDrop   OverflowFunc

	mu         sync.RWMutex
	partitions map[string]chan Event
	handlers   map[string][]func(e Event)
	closed     bool
	wg         sync.WaitGroup
}

type Option func(*Bus)

// WithOverflowFunc sets a callback for dropped events.
func WithOverflowFunc(fn OverflowFunc) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New creates a bus whose partition queues hold up to capacity events.
func New(capacity int, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	b := &Bus{
		capacity:   capacity,
		log:        log,
		metrics:    metrics,
		partitions: make(map[string]chan Event),
		handlers:   make(map[string][]func(e Event)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic. Handlers registered for the
// same topic all run, in registration order, on the partition goroutine
// of the event's key. Subscribe must complete before events for the
// topic are published; late subscriptions miss earlier events.
func (b *Bus) Subscribe(topic string, h func(e Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish enqueues an event on its key partition. It never blocks: when
// the partition queue is full the oldest event is discarded and the new
// one admitted.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ch, ok := b.partitions[e.Key()]
	if ok {
		b.enqueue(ch, e)
		b.mu.RUnlock()
		return
	}
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	ch = b.ensurePartition(e.Key())
	if ch == nil {
		return
	}
	b.mu.RLock()
	if !b.closed {
		b.enqueue(ch, e)
	}
	b.mu.RUnlock()
}

// enqueue is called with mu read-held, which keeps Close from closing
// the channel mid-send.
func (b *Bus) enqueue(ch chan Event, e Event) {
	if b.closed {
		return
	}
	for {
		select {
		case ch <- e:
			return
		default:
		}
		// Queue full: evict the oldest and retry.
		select {
		case old := <-ch:
			if b.metrics != nil {
				b.metrics.RecordBusDrop(old.Topic())
			}
			if b.onDrop != nil {
				b.onDrop(e.Key(), old.Topic(), old)
			}
		default:
		}
	}
}

func (b *Bus) ensurePartition(key string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if ch, ok := b.partitions[key]; ok {
		return ch
	}
	ch := make(chan Event, b.capacity)
	b.partitions[key] = ch
	b.wg.Add(1)
	go b.drain(key, ch)
	return ch
}

func (b *Bus) drain(key string, ch chan Event) {
	defer b.wg.Done()
	for e := range ch {
		b.dispatch(e)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Topic()]
	b.mu.RUnlock()
	for _, h := range hs {
		b.safeHandle(h, e)
	}
}

// safeHandle keeps one panicking handler from killing the partition.
func (b *Bus) safeHandle(h func(e Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Error("bus handler panicked",
					logger.String("topic", e.Topic()),
					logger.String("key", e.Key()),
					logger.Any("panic", r))
			}
			if b.metrics != nil {
				b.metrics.RecordError("bus_handler_panic")
			}
		}
	}()
	h(e)
}

// Close stops all partitions after draining queued events and waits for
// the partition goroutines to exit. Publish after Close is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, ch := range b.partitions {
		close(ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
