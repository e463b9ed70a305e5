package journal

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends journal records to a capped Redis stream.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(rdb *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Write(ctx context.Context, key string, record []byte) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"key": key, "record": record},
	}).Err()
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
