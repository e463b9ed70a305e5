package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TapeFlow/pkg/clickhouse"
)

// ClickHouseSink buffers journal records and inserts them in batches.
// A batch is flushed when it reaches the configured size or when the
// flush interval elapses, whichever comes first.
type ClickHouseSink struct {
	client *clickhouse.Client
	table  string

	mu    sync.Mutex
	batch []chRow
	size  int

	done chan struct{}
	wg   sync.WaitGroup
}

type chRow struct {
	key    string
	record []byte
}

func NewClickHouseSink(client *clickhouse.Client, table string, batchSize int, flushEvery time.Duration) (*ClickHouseSink, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		at DateTime64(3) DEFAULT now64(3),
		symbol String,
		record String
	) ENGINE = MergeTree() ORDER BY (symbol, at)`, table)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{schema}); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		client: client,
		table:  table,
		batch:  make([]chRow, 0, batchSize),
		size:   batchSize,
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop(flushEvery)
	return s, nil
}

func (s *ClickHouseSink) Write(ctx context.Context, key string, record []byte) error {
	s.mu.Lock()
	s.batch = append(s.batch, chRow{key: key, record: record})
	full := len(s.batch) >= s.size
	s.mu.Unlock()

	if full {
		return s.flush(ctx)
	}
	return nil
}

func (s *ClickHouseSink) flushLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = s.flush(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}

func (s *ClickHouseSink) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.batch
	s.batch = make([]chRow, 0, s.size)
	s.mu.Unlock()

	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (symbol, record) VALUES (?, ?)", s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clickhouse prepare: %w", err)
	}
	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx, row.key, string(row.record)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("clickhouse insert: %w", err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse commit: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	close(s.done)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.flush(ctx); err != nil {
		_ = s.client.Close()
		return err
	}
	return s.client.Close()
}
