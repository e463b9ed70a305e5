package setups

import (
	"context"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
)

// Sweeper publishes a periodic SweepEvent per symbol so deadline and
// retry checks run even when no trades arrive.
type Sweeper struct {
	symbols  []string
	interval time.Duration
	bus      repository.Bus
}

func NewSweeper(symbols []string, interval time.Duration, bus repository.Bus) *Sweeper {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sweeper{symbols: symbols, interval: interval, bus: bus}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sym := range s.symbols {
				s.bus.Publish(models.SweepEvent{Symbol: sym, At: now})
			}
		}
	}
}
