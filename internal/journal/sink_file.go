package journal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileSink appends newline-delimited JSON records to a local file.
// Writes go through a buffered writer flushed on a fixed interval.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	done chan struct{}
	wg   sync.WaitGroup
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	s := &FileSink{
		f:    f,
		w:    bufio.NewWriterSize(f, 64*1024),
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

func (s *FileSink) Write(_ context.Context, _ string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(record); err != nil {
		return fmt.Errorf("journal file write: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("journal file write: %w", err)
	}
	return nil
}

func (s *FileSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_ = s.w.Flush()
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *FileSink) Close() error {
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}
