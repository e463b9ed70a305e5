package repository

import (
	"context"

	"TapeFlow/internal/domain/models"
)

// MarketStream is a live market data connection delivering trades and
// order book snapshots for the subscribed symbols.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Trade, <-chan models.BookSnapshot, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Event is anything routable over the event bus. Key determines the
// partition; events sharing a key are handled in order.
type Event interface {
	Topic() string
	Key() string
}

// Bus routes events to subscribed handlers, partitioned by key.
type Bus interface {
	Publish(e Event)
	Subscribe(topic string, h func(e Event))
	Close() error
}

// JournalSink persists journal records. The key is the event's
// partition key, normally the symbol. Sinks must never block the
// detection path; slow sinks drop, they do not backpressure.
type JournalSink interface {
	Write(ctx context.Context, key string, record []byte) error
	Close() error
}

// Metrics records operational measurements.
type Metrics interface {
	RecordTradeIngested(symbol string)
	RecordSignal(symbol, kind string)
	RecordSetupTransition(symbol, kind, state string)
	RecordWarning(symbol, kind string)
	RecordBusDrop(topic string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordCVD(symbol string, value float64)
	SetOpenPositions(n int)
	RecordLatency(op string, seconds float64)
}
