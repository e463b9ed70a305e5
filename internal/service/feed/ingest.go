package feed

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// IngestConfig tunes the pump between the market stream and the bus.
type IngestConfig struct {
	MaxEventsPerSec float64
	StaleAfter      time.Duration
	Symbols         []string
}

// Ingestor pumps trades and book snapshots from a MarketStream onto the
// bus. It throttles runaway feeds, reconnects on stream errors, and
// raises a stale feed warning per symbol when no data for it arrives
// within StaleAfter. One instrument can go quiet while the other keeps
// ticking, so each symbol carries its own clock.
type Ingestor struct {
	cfg     IngestConfig
	stream  repository.MarketStream
	bus     repository.Bus
	log     *logger.Logger
	metrics repository.Metrics

	limiter *rate.Limiter
	health  map[string]*symbolHealth
}

type symbolHealth struct {
	lastSeen atomic.Int64 // unix nanos of the last event
	stale    atomic.Bool
}

func NewIngestor(
	cfg IngestConfig,
	stream repository.MarketStream,
	bus repository.Bus,
	log *logger.Logger,
	metrics repository.Metrics,
) *Ingestor {
	var limiter *rate.Limiter
	if cfg.MaxEventsPerSec > 0 {
		burst := int(cfg.MaxEventsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSec), burst)
	}
	health := make(map[string]*symbolHealth, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		health[sym] = &symbolHealth{}
	}
	return &Ingestor{
		cfg:     cfg,
		stream:  stream,
		bus:     bus,
		log:     log,
		metrics: metrics,
		limiter: limiter,
		health:  health,
	}
}

// Run blocks until ctx is cancelled, reconnecting on stream failures.
func (i *Ingestor) Run(ctx context.Context) error {
	if err := i.stream.Connect(ctx); err != nil {
		return err
	}
	if err := i.stream.Subscribe(ctx); err != nil {
		return err
	}
	i.touchAll()

	if i.cfg.StaleAfter > 0 {
		go i.watchdog(ctx)
	}

	for {
		trades, books, errs := i.stream.Read(ctx)
		err := i.pump(ctx, trades, books, errs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.log.Warn("feed stream interrupted, reconnecting", logger.Error(err))
		i.metrics.RecordError("feed_reconnect")
		if rerr := i.stream.Reconnect(ctx); rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.log.Error("feed reconnect failed", logger.Error(rerr))
			continue
		}
		i.touchAll()
	}
}

func (i *Ingestor) pump(
	ctx context.Context,
	trades <-chan models.Trade,
	books <-chan models.BookSnapshot,
	errs <-chan error,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-trades:
			if !ok {
				return <-errs
			}
			i.touch(t.Symbol)
			if !i.allow() {
				continue
			}
			i.bus.Publish(models.TradeEvent{Trade: t})
		case b, ok := <-books:
			if !ok {
				return <-errs
			}
			i.touch(b.Symbol)
			if !i.allow() {
				continue
			}
			i.bus.Publish(models.BookEvent{Book: b})
		case err := <-errs:
			return err
		}
	}
}

func (i *Ingestor) allow() bool {
	if i.limiter == nil {
		return true
	}
	if i.limiter.Allow() {
		return true
	}
	i.metrics.RecordError("feed_throttled")
	return false
}

func (i *Ingestor) touchAll() {
	now := time.Now().UnixNano()
	for _, h := range i.health {
		h.lastSeen.Store(now)
	}
}

func (i *Ingestor) touch(symbol string) {
	h, ok := i.health[symbol]
	if !ok {
		return // unconfigured symbol, feed noise
	}
	h.lastSeen.Store(time.Now().UnixNano())
	if h.stale.CompareAndSwap(true, false) {
		i.log.Info("feed recovered", logger.String("symbol", symbol))
	}
}

func (i *Ingestor) watchdog(ctx context.Context) {
	interval := i.cfg.StaleAfter / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sym := range i.cfg.Symbols {
				h := i.health[sym]
				last := time.Unix(0, h.lastSeen.Load())
				if now.Sub(last) < i.cfg.StaleAfter {
					continue
				}
				if !h.stale.CompareAndSwap(false, true) {
					continue // already warned
				}
				i.log.Warn("feed stale",
					logger.String("symbol", sym),
					logger.Duration("silent_for", now.Sub(last)))
				i.metrics.RecordWarning(sym, string(models.WarningStaleFeed))
				i.bus.Publish(models.WarningEvent{Warning: models.Warning{
					Symbol:   sym,
					Kind:     models.WarningStaleFeed,
					Severity: models.SeverityMedium,
					Message:  "no market data received",
					IssuedAt: now,
					Details:  map[string]float64{"silent_seconds": now.Sub(last).Seconds()},
				}})
			}
		}
	}
}
