package journal

import (
	"context"

	"TapeFlow/pkg/kafka"
)

// KafkaSink publishes journal records to a Kafka topic. Records are
// keyed by symbol so one symbol's stream stays on one partition and
// downstream consumers see it in order.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, key string, record []byte) error {
	var k []byte
	if key != "" {
		k = []byte(key)
	}
	return s.producer.Publish(ctx, s.topic, k, record)
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
