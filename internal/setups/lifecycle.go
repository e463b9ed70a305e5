package setups

import (
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Approver gates a confirmed setup on its way to triggering.
// Implemented by the risk manager.
type Approver interface {
	Approve(s models.Setup, now time.Time) (models.ApprovalVerdict, string)
}

// Suppression reports symbols currently blocked by manipulation
// findings.
type Suppression interface {
	Suppressed(symbol string, t time.Time) bool
}

// RegimeSource exposes the current market regime per symbol.
type RegimeSource interface {
	Current(symbol string) models.MarketRegime
}

// CVDSource exposes the current cumulative volume delta per symbol.
type CVDSource interface {
	State(symbol string) (models.CVDState, bool)
}

// LifecycleConfig bounds the setup state machine.
type LifecycleConfig struct {
	// Peers maps each symbol to the instruments checked for confluence.
	Peers map[string][]string

	ConfluenceEnabled bool
	// MaxCVDAge is how fresh a peer's delta must be to vote.
	MaxCVDAge time.Duration
	// MinOpposition is how strongly a peer's delta must point the other
	// way before it counts as a conflict.
	MinOpposition float64
	// RetryAfter delays the next gate attempt after a block or deferral.
	RetryAfter time.Duration

	// CancelOnWarning cancels in-flight setups when a manipulation
	// warning lands on their symbol.
	CancelOnWarning bool

	MinScore float64
	// HistorySize bounds the per-symbol signal history.
	HistorySize int
	// HistoryWindow drops signals older than this from the history.
	HistoryWindow time.Duration
}

// Lifecycle drives setups through pending, confirmed and the terminal
// states. A setup confirms as soon as its signal combination completes;
// the confluence and risk gates run when price touches the entry, and a
// setup becomes triggered only once the position manager acknowledges
// the open. Blocks and deferrals keep the setup confirmed and the
// sweeper retries them until the deadline.
//
// Signals, trades and sweeps for a symbol arrive on the same bus
// partition, so each symbol's book of setups is touched by one
// goroutine at a time.
type Lifecycle struct {
	cfg       LifecycleConfig
	detectors *Detectors
	bus       repository.Bus
	risk      Approver
	suppress  Suppression
	regimes   RegimeSource
	cvd       CVDSource
	log       *logger.Logger
	metrics   repository.Metrics

	mu     sync.Mutex
	states map[string]*symbolBook
}

type symbolBook struct {
	history []models.TacticalSignal
	active  map[string]*trackedSetup
}

type trackedSetup struct {
	setup models.Setup
	// touched marks that price has reached the entry, so the gate chain
	// should keep being retried until a terminal state.
	touched bool
	// awaitingOpen marks an approval published and not yet acknowledged
	// by the position manager.
	awaitingOpen bool
	retryAt      time.Time
}

func NewLifecycle(
	cfg LifecycleConfig,
	detectors *Detectors,
	b repository.Bus,
	risk Approver,
	suppress Suppression,
	regimes RegimeSource,
	cvdSource CVDSource,
	log *logger.Logger,
	metrics repository.Metrics,
) *Lifecycle {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 64
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 3 * time.Minute
	}
	return &Lifecycle{
		cfg:       cfg,
		detectors: detectors,
		bus:       b,
		risk:      risk,
		suppress:  suppress,
		regimes:   regimes,
		cvd:       cvdSource,
		log:       log,
		metrics:   metrics,
		states:    make(map[string]*symbolBook),
	}
}

// Register subscribes the lifecycle to its input topics.
func (l *Lifecycle) Register() {
	l.bus.Subscribe(models.TopicSignals, l.onSignal)
	l.bus.Subscribe(models.TopicTrades, l.onTrade)
	l.bus.Subscribe(models.TopicSweeps, l.onSweep)
	l.bus.Subscribe(models.TopicWarnings, l.onWarning)
	l.bus.Subscribe(models.TopicPositions, l.onPosition)
}

// Active returns copies of the non-terminal setups for symbol.
func (l *Lifecycle) Active(symbol string) []models.Setup {
	l.mu.Lock()
	defer l.mu.Unlock()
	book, ok := l.states[symbol]
	if !ok {
		return nil
	}
	out := make([]models.Setup, 0, len(book.active))
	for _, ts := range book.active {
		out = append(out, ts.setup)
	}
	return out
}

// ClearAll cancels every active setup, for the manual console command.
func (l *Lifecycle) ClearAll(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, book := range l.states {
		for id, ts := range book.active {
			l.transitionLocked(book, ts, models.SetupCancelled, now, "manual clear")
			delete(book.active, id)
			n++
		}
	}
	return n
}

func (l *Lifecycle) onSignal(e repository.Event) {
	ev, ok := e.(models.SignalEvent)
	if !ok {
		return
	}
	sig := ev.Signal

	l.mu.Lock()
	defer l.mu.Unlock()

	book := l.book(sig.Symbol)
	ctx := Context{
		Regime:  l.regimes.Current(sig.Symbol),
		History: book.history,
	}
	if st, ok := l.cvd.State(sig.Symbol); ok {
		ctx.CVD = st
	}

	candidate, found := l.detectors.Evaluate(sig, ctx)
	l.pushHistory(book, sig)
	if !found {
		return
	}

	if !l.admitLocked(book, candidate, sig.DetectedAt) {
		return
	}

	ts := &trackedSetup{setup: candidate}
	book.active[candidate.ID] = ts
	l.publishTransition(ts.setup, "")

	// The detectors only emit once the full signal combination exists,
	// so confirmation follows creation immediately.
	prev := ts.setup.State
	ts.setup.State = models.SetupConfirmed
	ts.setup.ConfirmedAt = sig.DetectedAt
	l.recordTransition(ts.setup, prev)
	l.bus.Publish(models.SetupEvent{Setup: ts.setup, Previous: prev})
}

// admitLocked applies the pre-creation gates.
func (l *Lifecycle) admitLocked(book *symbolBook, s models.Setup, now time.Time) bool {
	if s.Score < l.cfg.MinScore {
		return false
	}
	if !l.regimes.Current(s.Symbol).Tradeable() {
		return false
	}
	if l.suppress != nil && l.suppress.Suppressed(s.Symbol, now) {
		return false
	}
	for _, ts := range book.active {
		if ts.setup.Kind == s.Kind && ts.setup.Direction == s.Direction {
			return false
		}
	}
	return true
}

// tryTriggerLocked runs the confluence and risk gates for a confirmed
// setup whose entry has been touched. It returns the setup to publish
// as approved, if any; the caller publishes after releasing the lock so
// the position manager's acknowledgment can re-enter.
func (l *Lifecycle) tryTriggerLocked(book *symbolBook, ts *trackedSetup, now time.Time) (models.Setup, bool) {
	if ts.awaitingOpen {
		return models.Setup{}, false
	}

	if blocked, reason := l.confluenceBlocked(ts.setup, now); blocked {
		ts.retryAt = now.Add(l.cfg.RetryAfter)
		if l.log != nil {
			l.log.Debug("trigger blocked by confluence",
				logger.String("symbol", ts.setup.Symbol),
				logger.String("setup", ts.setup.ID),
				logger.String("reason", reason))
		}
		return models.Setup{}, false
	}

	verdict, reason := l.risk.Approve(ts.setup, now)
	switch verdict {
	case models.ApprovalCancelled:
		l.transitionLocked(book, ts, models.SetupCancelled, now, reason)
		delete(book.active, ts.setup.ID)
		return models.Setup{}, false
	case models.ApprovalDeferred:
		ts.retryAt = now.Add(l.cfg.RetryAfter)
		if l.log != nil {
			l.log.Debug("trigger deferred",
				logger.String("symbol", ts.setup.Symbol),
				logger.String("setup", ts.setup.ID),
				logger.String("reason", reason))
		}
		return models.Setup{}, false
	}

	ts.awaitingOpen = true
	return ts.setup, true
}

// confluenceBlocked checks the correlated instruments. A peer blocks
// when it carries a contradictory confirmed setup, or when its delta is
// fresh and pointing the other way beyond MinOpposition.
func (l *Lifecycle) confluenceBlocked(s models.Setup, now time.Time) (bool, string) {
	if !l.cfg.ConfluenceEnabled {
		return false, ""
	}
	for _, peer := range l.cfg.Peers[s.Symbol] {
		if book, ok := l.states[peer]; ok {
			for _, pts := range book.active {
				if pts.setup.State == models.SetupConfirmed && pts.setup.Direction == s.Direction.Opposite() {
					return true, "contradictory setup on " + peer
				}
			}
		}

		st, ok := l.cvd.State(peer)
		if !ok || now.Sub(st.UpdatedAt) > l.cfg.MaxCVDAge {
			continue // no fresh delta, no flow vote
		}
		if s.Direction == models.DirectionBuy && st.ROC < -l.cfg.MinOpposition {
			return true, "peer " + peer + " flow opposed"
		}
		if s.Direction == models.DirectionSell && st.ROC > l.cfg.MinOpposition {
			return true, "peer " + peer + " flow opposed"
		}
	}
	return false, ""
}

func (l *Lifecycle) onTrade(e repository.Event) {
	ev, ok := e.(models.TradeEvent)
	if !ok {
		return
	}
	trade := ev.Trade

	l.mu.Lock()
	book, ok := l.states[trade.Symbol]
	if !ok {
		l.mu.Unlock()
		return
	}
	var approved []models.Setup
	for _, ts := range book.active {
		// Only the first touch attempts the gates here; blocked and
		// deferred setups are retried by the sweeper.
		if ts.setup.State != models.SetupConfirmed || ts.touched {
			continue
		}
		if !triggered(ts.setup, trade.Price) {
			continue
		}
		ts.touched = true
		if s, ok := l.tryTriggerLocked(book, ts, trade.Timestamp); ok {
			approved = append(approved, s)
		}
	}
	l.mu.Unlock()

	for _, s := range approved {
		l.bus.Publish(models.SetupApprovedEvent{Setup: s, At: trade.Timestamp})
	}
}

func (l *Lifecycle) onSweep(e repository.Event) {
	ev, ok := e.(models.SweepEvent)
	if !ok {
		return
	}

	l.mu.Lock()
	book, ok := l.states[ev.Symbol]
	if !ok {
		l.mu.Unlock()
		return
	}
	var approved []models.Setup
	for id, ts := range book.active {
		if ts.setup.ExpiredBy(ev.At) {
			l.transitionLocked(book, ts, models.SetupExpired, ev.At, "deadline")
			delete(book.active, id)
			continue
		}
		if !ts.touched || ts.retryAt.IsZero() || ev.At.Before(ts.retryAt) {
			continue
		}
		ts.retryAt = time.Time{}
		if s, ok := l.tryTriggerLocked(book, ts, ev.At); ok {
			approved = append(approved, s)
		}
	}
	l.mu.Unlock()

	for _, s := range approved {
		l.bus.Publish(models.SetupApprovedEvent{Setup: s, At: ev.At})
	}
}

// onPosition acknowledges opens: the matching setup becomes triggered.
func (l *Lifecycle) onPosition(e repository.Event) {
	ev, ok := e.(models.PositionEvent)
	if !ok || !ev.Opened {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.states[ev.Position.Symbol]
	if !ok {
		return
	}
	if ts, ok := book.active[ev.Position.SetupID]; ok {
		l.transitionLocked(book, ts, models.SetupTriggered, ev.Position.OpenedAt, "")
		delete(book.active, ev.Position.SetupID)
	}
}

func (l *Lifecycle) onWarning(e repository.Event) {
	ev, ok := e.(models.WarningEvent)
	if !ok {
		return
	}
	w := ev.Warning

	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.states[w.Symbol]
	if !ok {
		return
	}

	// A rejected approval leaves its setup confirmed; clear the pending
	// acknowledgment so a later sweep can try again.
	if w.Kind == models.WarningPositionRejected {
		for _, ts := range book.active {
			if ts.awaitingOpen {
				ts.awaitingOpen = false
				ts.retryAt = w.IssuedAt.Add(l.cfg.RetryAfter)
			}
		}
		return
	}

	if w.Severity < models.SeverityHigh {
		return
	}
	switch w.Kind {
	case models.WarningLayering, models.WarningSpoofing:
		if !l.cfg.CancelOnWarning {
			return
		}
	case models.WarningEmergency:
	default:
		return
	}

	for id, ts := range book.active {
		l.transitionLocked(book, ts, models.SetupCancelled, w.IssuedAt, string(w.Kind)+" warning")
		delete(book.active, id)
	}
}

func (l *Lifecycle) transitionLocked(book *symbolBook, ts *trackedSetup, to models.SetupState, at time.Time, reason string) {
	prev := ts.setup.State
	ts.setup.State = to
	ts.setup.ResolvedAt = at
	ts.setup.CancelReason = reason
	l.recordTransition(ts.setup, prev)
	l.bus.Publish(models.SetupEvent{Setup: ts.setup, Previous: prev})
}

func (l *Lifecycle) publishTransition(s models.Setup, prev models.SetupState) {
	l.recordTransition(s, prev)
	l.bus.Publish(models.SetupEvent{Setup: s, Previous: prev})
}

func (l *Lifecycle) recordTransition(s models.Setup, prev models.SetupState) {
	if l.metrics != nil {
		l.metrics.RecordSetupTransition(s.Symbol, string(s.Kind), string(s.State))
	}
	if l.log != nil {
		l.log.Info("setup transition",
			logger.String("symbol", s.Symbol),
			logger.String("setup", s.ID),
			logger.String("kind", string(s.Kind)),
			logger.String("from", string(prev)),
			logger.String("to", string(s.State)),
			logger.Float64("score", s.Score))
	}
}

func (l *Lifecycle) book(symbol string) *symbolBook {
	book, ok := l.states[symbol]
	if !ok {
		book = &symbolBook{active: make(map[string]*trackedSetup)}
		l.states[symbol] = book
	}
	return book
}

func (l *Lifecycle) pushHistory(book *symbolBook, sig models.TacticalSignal) {
	book.history = append(book.history, sig)
	cutoff := sig.DetectedAt.Add(-l.cfg.HistoryWindow)
	trim := 0
	for trim < len(book.history) && book.history[trim].DetectedAt.Before(cutoff) {
		trim++
	}
	if over := len(book.history) - trim - l.cfg.HistorySize; over > 0 {
		trim += over
	}
	if trim > 0 {
		book.history = append(book.history[:0], book.history[trim:]...)
	}
}

// triggered decides whether a trade price fires a confirmed setup.
// Continuation setups fire when price pushes through the entry in the
// trade direction; reversal style setups fire when price comes back to
// the entry or better.
func triggered(s models.Setup, price float64) bool {
	continuation := s.Kind == models.SetupBreakoutIgnition || s.Kind == models.SetupPullbackRejection
	if s.Direction == models.DirectionBuy {
		if continuation {
			return price >= s.Entry
		}
		return price <= s.Entry
	}
	if continuation {
		return price <= s.Entry
	}
	return price >= s.Entry
}
