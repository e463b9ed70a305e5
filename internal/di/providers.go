package di

import (
	"context"
	"fmt"
	"time"

	"TapeFlow/internal/buffer"
	"TapeFlow/internal/cvd"
	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/internal/handler/api"
	"TapeFlow/internal/journal"
	"TapeFlow/internal/manipulation"
	"TapeFlow/internal/patterns"
	"TapeFlow/internal/position"
	"TapeFlow/internal/regime"
	"TapeFlow/internal/risk"
	"TapeFlow/internal/service/feed"
	"TapeFlow/internal/setups"
	"TapeFlow/internal/tape"
	"TapeFlow/pkg/bus"
	pkgch "TapeFlow/pkg/clickhouse"
	"TapeFlow/pkg/config"
	xhttp "TapeFlow/pkg/http"
	pkgkafka "TapeFlow/pkg/kafka"
	applogger "TapeFlow/pkg/logger"
	"TapeFlow/pkg/metrics"
	"TapeFlow/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideBus creates the partitioned event bus. Overflow drops are
// logged rather than republished; a full bus is no place for more
// events.
func ProvideBus(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *bus.Bus {
	return bus.New(cfg.Bus.QueueCapacity, log, m,
		bus.WithOverflowFunc(func(key, topic string, _ repository.Event) {
			log.Warn("bus overflow, oldest event dropped",
				applogger.String("partition", key),
				applogger.String("topic", topic))
		}))
}

// ProvideBuffers creates the per-symbol trade and book ring buffers.
func ProvideBuffers(cfg *config.Config) *buffer.Store {
	return buffer.NewStore(cfg.Buffers.TradeCapacity, cfg.Buffers.BookCapacity)
}

// ProvideCVDTracker creates the cumulative volume delta tracker.
func ProvideCVDTracker(cfg *config.Config) *cvd.Tracker {
	return cvd.NewTracker(cfg.CVD.HistorySize, cfg.CVD.ROCLookback)
}

// ProvidePatternEngine creates the tactical pattern engine.
func ProvidePatternEngine(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *patterns.Engine {
	p := cfg.Patterns
	return patterns.NewEngine(patterns.EngineConfig{
		CacheTTL:     p.Cache.TTL,
		CacheMaxSize: p.Cache.MaxSize,
		Absorption: patterns.AbsorptionConfig{
			Window:           p.Absorption.Window,
			MinVolume:        p.Absorption.MinVolume,
			MinConcentration: p.Absorption.MinConcentration,
			MaxPriceDrift:    p.Absorption.MaxPriceDrift,
		},
		Iceberg: patterns.IcebergConfig{
			Window:         p.Iceberg.Window,
			MinRepetitions: p.Iceberg.MinRepetitions,
			MinClipVolume:  p.Iceberg.MinClipVolume,
		},
		Pressure: patterns.PressureConfig{
			Window:    p.Pressure.Window,
			MinTrades: p.Pressure.MinTrades,
			MinRatio:  p.Pressure.MinRatio,
		},
		Spike: patterns.VolumeSpikeConfig{
			BurstWindow:     p.VolumeSpike.BurstWindow,
			BaselineWindow:  p.VolumeSpike.BaselineWindow,
			SpikeMultiplier: p.VolumeSpike.SpikeMultiplier,
		},
		Momentum: patterns.MomentumConfig{
			Window:        p.Momentum.Window,
			MinMovePoints: p.Momentum.MinMovePoints,
			MinVolume:     p.Momentum.MinVolume,
		},
		Divergence: patterns.DivergenceConfig{
			Window:           p.Divergence.Window,
			MinPriceMove:     p.Divergence.MinPriceMove,
			MinCVDOpposition: p.Divergence.MinCVDOpposition,
			ExtremeStrength:  p.Divergence.ExtremeStrength,
		},
	}, log, m)
}

// ProvideRegimeDetector creates the market regime classifier.
func ProvideRegimeDetector(cfg *config.Config, log *applogger.Logger) *regime.Detector {
	return regime.NewDetector(regime.Config{
		Window:         cfg.Regime.Window,
		MinSamples:     cfg.Regime.MinSamples,
		TrendSlopeMin:  cfg.Regime.TrendSlopeMin,
		VolNormalMax:   cfg.Regime.VolNormalMax,
		VolHighMax:     cfg.Regime.VolHighMax,
		VolExtremeMax:  cfg.Regime.VolExtremeMax,
		RecomputeEvery: cfg.Regime.RecomputeEvery,
	}, log)
}

// ProvideManipulationDetector creates the layering and spoofing filter.
func ProvideManipulationDetector(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *manipulation.Detector {
	return manipulation.NewDetector(manipulation.Config{
		Layering: manipulation.LayeringConfig{
			MinLevels:        cfg.Manipulation.Layering.MinLevels,
			UniformTolerance: cfg.Manipulation.Layering.UniformTolerance,
			MinLevelVolume:   cfg.Manipulation.Layering.MinLevelVolume,
		},
		Spoofing: manipulation.SpoofingConfig{
			LevelsToCheck:  cfg.Manipulation.Spoofing.LevelsToCheck,
			ImbalanceRatio: cfg.Manipulation.Spoofing.ImbalanceRatio,
		},
		BlockSignals: cfg.Manipulation.BlockSignals,
		SuppressFor:  cfg.Manipulation.SuppressFor,
	}, log, m)
}

// ProvideTapeService creates the tape reading service.
func ProvideTapeService(
	cfg *config.Config,
	b *bus.Bus,
	buffers *buffer.Store,
	tracker *cvd.Tracker,
	engine *patterns.Engine,
	regimes *regime.Detector,
	manip *manipulation.Detector,
	log *applogger.Logger,
	m repository.Metrics,
) *tape.Service {
	return tape.NewService(b, buffers, tracker, engine, regimes, manip, cfg.CVD.PublishThreshold, log, m)
}

// ProvideSetupDetectors creates the strategic setup detectors.
func ProvideSetupDetectors(cfg *config.Config) *setups.Detectors {
	s := cfg.Setups
	return setups.NewDetectors(setups.DetectorConfig{
		ViolentChainWindow: s.ViolentChainWindow,
		CVDReversalWindow:  s.CVDReversalWindow,
		PullbackWindow:     s.PullbackWindow,
		IgnitionWindow:     s.IgnitionWindow,
		ExtremeDivergence:  cfg.Patterns.Divergence.ExtremeStrength,
		TTL: map[models.SetupKind]time.Duration{
			models.SetupReversalSlow:      s.TTL.ReversalSlow,
			models.SetupReversalViolent:   s.TTL.ReversalViolent,
			models.SetupBreakoutIgnition:  s.TTL.BreakoutIgnition,
			models.SetupPullbackRejection: s.TTL.PullbackRejection,
			models.SetupDivergence:        s.TTL.Divergence,
		},
		StopPoints: map[models.SetupKind]float64{
			models.SetupReversalSlow:      s.Stops.ReversalSlow,
			models.SetupReversalViolent:   s.Stops.ReversalViolent,
			models.SetupBreakoutIgnition:  s.Stops.BreakoutIgnition,
			models.SetupPullbackRejection: s.Stops.PullbackRejection,
			models.SetupDivergence:        s.Stops.Divergence,
		},
	})
}

// ProvideRiskManager creates the approval gate chain.
func ProvideRiskManager(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *risk.Manager {
	return risk.NewManager(risk.Config{
		MaxSignalsPerMinute:  cfg.Risk.MaxSignalsPerMinute,
		MaxSignalsPerHour:    cfg.Risk.MaxSignalsPerHour,
		MinQuality:           cfg.Risk.MinQuality,
		ConsecutiveLossLimit: cfg.Risk.ConsecutiveLossLimit,
		DrawdownLimit:        cfg.Risk.DrawdownLimit,
		BreakerCooldown:      cfg.Risk.BreakerCooldown,
	}, log, m)
}

// peersOf pairs every configured symbol with all the others for the
// cross-instrument confluence check.
func peersOf(symbols []string) map[string][]string {
	peers := make(map[string][]string, len(symbols))
	for _, s := range symbols {
		for _, o := range symbols {
			if o != s {
				peers[s] = append(peers[s], o)
			}
		}
	}
	return peers
}

// ProvideLifecycle creates the setup state machine.
func ProvideLifecycle(
	cfg *config.Config,
	detectors *setups.Detectors,
	b *bus.Bus,
	riskMgr *risk.Manager,
	tapeSvc *tape.Service,
	regimes *regime.Detector,
	tracker *cvd.Tracker,
	log *applogger.Logger,
	m repository.Metrics,
) *setups.Lifecycle {
	return setups.NewLifecycle(setups.LifecycleConfig{
		Peers:             peersOf(cfg.Symbols),
		ConfluenceEnabled: cfg.Setups.Confluence.Enabled,
		MaxCVDAge:         cfg.Setups.Confluence.MaxCVDAge,
		MinOpposition:     cfg.Setups.Confluence.MinOpposition,
		RetryAfter:        cfg.Setups.Confluence.RetryAfter,
		CancelOnWarning:   cfg.Manipulation.CancelSetups,
		MinScore:          cfg.Setups.MinScore,
	}, detectors, b, riskMgr, tapeSvc, regimes, tracker, log, m)
}

// ProvideSweeper creates the periodic housekeeping ticker.
func ProvideSweeper(cfg *config.Config, b *bus.Bus) *setups.Sweeper {
	return setups.NewSweeper(cfg.Symbols, cfg.Setups.SweepInterval, b)
}

// ProvidePositionManager creates the position manager.
func ProvidePositionManager(
	cfg *config.Config,
	b *bus.Bus,
	regimes *regime.Detector,
	riskMgr *risk.Manager,
	log *applogger.Logger,
	m repository.Metrics,
) *position.Manager {
	return position.NewManager(position.Config{
		MaxPositions:          cfg.Position.MaxPositions,
		BaseContracts:         cfg.Position.BaseContracts,
		MaxContracts:          cfg.Position.MaxContracts,
		TrailingEnabled:       cfg.Position.TrailingEnabled,
		TrailingStartPoints:   cfg.Position.TrailingStartPoints,
		TrailingDistance:      cfg.Position.TrailingDistance,
		EmergencyRiskCap:      cfg.Position.EmergencyRiskCap,
		VolatilityAdjustments: cfg.Position.VolatilityAdjustments,
	}, b, regimes, riskMgr, log, m)
}

// ProvideMarketStream creates the WebSocket market data client.
func ProvideMarketStream(cfg *config.Config, log *applogger.Logger) repository.MarketStream {
	return feed.New(feed.Config{
		WebSocketURL:   cfg.Feed.WebSocketURL,
		APIKey:         cfg.Feed.APIKey,
		Symbols:        cfg.Symbols,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
	}, log)
}

// ProvideIngestor creates the pump from the market stream to the bus.
func ProvideIngestor(
	cfg *config.Config,
	stream repository.MarketStream,
	b *bus.Bus,
	log *applogger.Logger,
	m repository.Metrics,
) *feed.Ingestor {
	return feed.NewIngestor(feed.IngestConfig{
		MaxEventsPerSec: cfg.Feed.MaxEventsPerSec,
		StaleAfter:      cfg.Feed.StaleAfter,
		Symbols:         cfg.Symbols,
	}, stream, b, log, m)
}

// kafkaLogPublisher adapts the Kafka producer to the log collector.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (k kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return k.producer.Publish(ctx, topic, nil, payload)
}

// ProvideJournal assembles the journal with every enabled sink.
func ProvideJournal(cfg *config.Config, log *applogger.Logger, m repository.Metrics) (*journal.Journal, error) {
	var sinks []repository.JournalSink

	if cfg.Journal.File.Enabled {
		sink, err := journal.NewFileSink(cfg.Journal.File.Path)
		if err != nil {
			return nil, fmt.Errorf("journal file sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Journal.Kafka.Enabled {
		jk := cfg.Journal.Kafka
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(jk.Brokers),
			pkgkafka.WithCompression(jk.Compression),
			pkgkafka.WithRequiredAcks(jk.RequiredAcks),
			pkgkafka.WithMaxAttempts(jk.MaxAttempts),
			pkgkafka.WithBatchSize(jk.BatchSize),
			pkgkafka.WithBatchBytes(jk.BatchBytes),
			pkgkafka.WithBatchTimeout(jk.Linger),
			pkgkafka.WithTimeouts(jk.WriteTimeout, jk.WriteTimeout),
			pkgkafka.WithAsync(jk.Async),
			// Records are keyed by symbol, so hashing keeps each
			// instrument's stream on a single partition.
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("journal kafka sink: %w", err)
		}
		sinks = append(sinks, journal.NewKafkaSink(producer, jk.Topic))

		// With a broker available, ship aggregated warn/error logs too.
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          jk.Topic + ".logs",
			Publisher:      kafkaLogPublisher{producer: producer},
		})
	}

	if cfg.Journal.ClickHouse.Enabled {
		jc := cfg.Journal.ClickHouse
		client, err := pkgch.NewClient(
			pkgch.WithHost(jc.Host),
			pkgch.WithPort(jc.Port),
			pkgch.WithDatabase(jc.Database),
			pkgch.WithCredentials(jc.User, jc.Password),
			pkgch.WithTimeouts(jc.DialTimeout, 10*time.Second, 10*time.Second),
			pkgch.WithAsyncInsert(jc.AsyncInsert, false),
		)
		if err != nil {
			return nil, fmt.Errorf("journal clickhouse client: %w", err)
		}
		sink, err := journal.NewClickHouseSink(client, jc.Table, jc.BatchSize, jc.BatchTimeout)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("journal clickhouse sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Journal.Redis.Enabled {
		jr := cfg.Journal.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:     jr.Addr,
			Password: jr.Password,
			DB:       jr.DB,
		})
		sinks = append(sinks, journal.NewRedisSink(rdb, jr.Stream, jr.MaxLen))
	}

	return journal.New(cfg.Journal.QueueCapacity, sinks, log, m), nil
}

// ProvideStatusHandler creates the HTTP status handler.
func ProvideStatusHandler(
	cfg *config.Config,
	log *applogger.Logger,
	tapeSvc *tape.Service,
	lifecycle *setups.Lifecycle,
	riskMgr *risk.Manager,
	positions *position.Manager,
) xhttp.Handler {
	return api.NewStatusHandler(log, cfg.Symbols, tapeSvc, lifecycle, riskMgr, positions)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	b *bus.Bus,
	tapeSvc *tape.Service,
	lifecycle *setups.Lifecycle,
	riskMgr *risk.Manager,
	positions *position.Manager,
	j *journal.Journal,
	ingestor *feed.Ingestor,
	sweeper *setups.Sweeper,
	regimes *regime.Detector,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, b, tapeSvc, lifecycle, riskMgr, positions, j, ingestor, sweeper, regimes, handler)
}
