package server

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/journal"
	"TapeFlow/internal/position"
	"TapeFlow/internal/regime"
	"TapeFlow/internal/risk"
	"TapeFlow/internal/service/feed"
	"TapeFlow/internal/setups"
	"TapeFlow/internal/tape"
	"TapeFlow/pkg/bus"
	"TapeFlow/pkg/config"
	xhttp "TapeFlow/pkg/http"
	applogger "TapeFlow/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	bus       *bus.Bus
	tape      *tape.Service
	lifecycle *setups.Lifecycle
	risk      *risk.Manager
	positions *position.Manager
	journal   *journal.Journal
	ingestor  *feed.Ingestor
	sweeper   *setups.Sweeper
	regimes   *regime.Detector

	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
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
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		bus:         b,
		tape:        tapeSvc,
		lifecycle:   lifecycle,
		risk:        riskMgr,
		positions:   positions,
		journal:     j,
		ingestor:    ingestor,
		sweeper:     sweeper,
		regimes:     regimes,
		httpHandler: handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe consumers before the feed publishes anything. The
	// journal goes first so it sees every event.
	a.journal.Register(a.bus)
	a.journal.Start()
	a.tape.Register()
	a.lifecycle.Register()
	a.positions.Register()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRequestMetrics(a.log, time.Second),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	go a.sweeper.Run(ctx)
	go func() {
		if err := a.ingestor.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("feed ingest stopped", applogger.Error(err))
		}
	}()

	a.log.Info("tapeflow started",
		applogger.Strings("symbols", a.cfg.Symbols),
		applogger.Int("port", a.cfg.Server.Port),
	)

	quit := make(chan struct{})
	go a.console(ctx, quit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		a.log.Info("shutdown signal received")
	case <-quit:
		a.log.Info("quit requested from console")
	}

	cancel()
	return a.shutdown()
}

// console reads single-letter commands from stdin: q quits, c cancels
// all active setups, r forces a regime recompute.
func (a *App) console(ctx context.Context, quit chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "q":
			close(quit)
			return
		case "c":
			n := a.lifecycle.ClearAll(time.Now())
			a.log.Info("setups cleared from console", applogger.Int("cancelled", n))
		case "r":
			a.regimes.Recompute(time.Now())
			a.log.Info("regime recompute forced from console")
		case "":
		default:
			a.log.Info("unknown console command, use q, c or r")
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	// Flatten exposure first so the close events still flow through the
	// live bus into the journal.
	a.positions.CloseAll(models.CloseShutdown, time.Now())

	if err := a.bus.Close(); err != nil {
		a.log.Warn("bus close error", applogger.Error(err))
	}

	if err := a.journal.Close(); err != nil {
		a.log.Warn("journal close error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	stats := a.positions.SessionStats()
	a.log.Info("session summary",
		applogger.Int("opened", stats.Opened),
		applogger.Int("closed", stats.Closed),
		applogger.Int("wins", stats.Wins),
		applogger.Int("losses", stats.Losses),
		applogger.Float64("total_pnl", stats.TotalPnL),
		applogger.Float64("session_pnl", a.risk.SessionPnL()))

	a.log.Info("shutdown complete")
	return nil
}
