package setups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// syncBus dispatches inline, which makes lifecycle tests deterministic.
type syncBus struct {
	handlers map[string][]func(e repository.Event)
	events   []repository.Event
}

func newSyncBus() *syncBus {
	return &syncBus{handlers: make(map[string][]func(e repository.Event))}
}

func (b *syncBus) Publish(e repository.Event) {
	b.events = append(b.events, e)
	for _, h := range b.handlers[e.Topic()] {
		h(e)
	}
}

func (b *syncBus) Subscribe(topic string, h func(e repository.Event)) {
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *syncBus) Close() error { return nil }

func (b *syncBus) setupEvents() []models.SetupEvent {
	var out []models.SetupEvent
	for _, e := range b.events {
		if se, ok := e.(models.SetupEvent); ok {
			out = append(out, se)
		}
	}
	return out
}

func (b *syncBus) approvedEvents() []models.SetupApprovedEvent {
	var out []models.SetupApprovedEvent
	for _, e := range b.events {
		if ae, ok := e.(models.SetupApprovedEvent); ok {
			out = append(out, ae)
		}
	}
	return out
}

// fakeApprover hands out verdicts in order; the last one repeats.
type fakeApprover struct {
	verdicts []models.ApprovalVerdict
	reason   string
	calls    int
}

func (a *fakeApprover) Approve(models.Setup, time.Time) (models.ApprovalVerdict, string) {
	a.calls++
	v := models.ApprovalApproved
	if len(a.verdicts) > 0 {
		v = a.verdicts[0]
		if len(a.verdicts) > 1 {
			a.verdicts = a.verdicts[1:]
		}
	}
	return v, a.reason
}

type fakeSuppression struct{ blocked bool }

func (s *fakeSuppression) Suppressed(string, time.Time) bool { return s.blocked }

type fakeRegimes struct{ regime models.MarketRegime }

func (r *fakeRegimes) Current(symbol string) models.MarketRegime {
	out := r.regime
	out.Symbol = symbol
	return out
}

type fakeCVD struct{ states map[string]models.CVDState }

func (c *fakeCVD) State(symbol string) (models.CVDState, bool) {
	st, ok := c.states[symbol]
	return st, ok
}

func detectorConfig() DetectorConfig {
	return DetectorConfig{
		ViolentChainWindow: 5 * time.Second,
		CVDReversalWindow:  2 * time.Minute,
		PullbackWindow:     time.Minute,
		IgnitionWindow:     time.Second,
		ExtremeDivergence:  0.85,
		TTL: map[models.SetupKind]time.Duration{
			models.SetupReversalSlow:      2 * time.Minute,
			models.SetupReversalViolent:   15 * time.Second,
			models.SetupBreakoutIgnition:  30 * time.Second,
			models.SetupPullbackRejection: time.Minute,
			models.SetupDivergence:        90 * time.Second,
		},
		StopPoints: map[models.SetupKind]float64{
			models.SetupReversalSlow:      3,
			models.SetupReversalViolent:   2,
			models.SetupBreakoutIgnition:  2,
			models.SetupPullbackRejection: 2.5,
			models.SetupDivergence:        3,
		},
	}
}

type fixture struct {
	bus      *syncBus
	approver *fakeApprover
	suppress *fakeSuppression
	regimes  *fakeRegimes
	cvd      *fakeCVD
	life     *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:      newSyncBus(),
		approver: &fakeApprover{},
		suppress: &fakeSuppression{},
		regimes: &fakeRegimes{regime: models.MarketRegime{
			Trend: models.TrendLateral, Volatility: models.VolatilityNormal,
		}},
		cvd: &fakeCVD{states: map[string]models.CVDState{}},
	}
	f.life = NewLifecycle(
		LifecycleConfig{
			Peers:             map[string][]string{"WDO": {"DOL"}, "DOL": {"WDO"}},
			ConfluenceEnabled: true,
			MaxCVDAge:         10 * time.Second,
			MinOpposition:     20,
			RetryAfter:        2 * time.Second,
			CancelOnWarning:   true,
			MinScore:          0.5,
		},
		NewDetectors(detectorConfig()),
		f.bus,
		f.approver,
		f.suppress,
		f.regimes,
		f.cvd,
		nil, nil,
	)
	f.life.Register()
	return f
}

func sigOn(symbol string, kind models.PatternKind, dir models.Direction, at time.Time, strength float64) models.TacticalSignal {
	return models.TacticalSignal{
		ID: symbol + string(kind) + at.String(), Symbol: symbol, Kind: kind,
		Direction: dir, Strength: strength, Price: 5500, DetectedAt: at,
	}
}

func sig(kind models.PatternKind, dir models.Direction, at time.Time, strength float64) models.TacticalSignal {
	return sigOn("WDO", kind, dir, at, strength)
}

func (f *fixture) emit(s models.TacticalSignal) {
	f.bus.Publish(models.SignalEvent{Signal: s})
}

// confirmBuy drives a violent reversal buy setup to confirmed on WDO.
func (f *fixture) confirmBuy(t *testing.T) {
	t.Helper()
	f.emit(sig(models.PatternVolumeSpike, models.DirectionBuy, t0, 0.8))
	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(time.Second), 0.7))
	events := f.bus.setupEvents()
	require.NotEmpty(t, events)
	require.Equal(t, models.SetupConfirmed, events[len(events)-1].Setup.State)
}

// touch puts a trade at the buy setup's entry.
func (f *fixture) touch(at time.Time) {
	f.bus.Publish(models.TradeEvent{Trade: models.Trade{
		Symbol: "WDO", Timestamp: at,
		Side: models.SideSell, Price: 5499.5, Volume: 10,
	}})
}

func (f *fixture) ackOpen(setupID string, at time.Time) {
	f.bus.Publish(models.PositionEvent{
		Position: models.Position{Symbol: "WDO", SetupID: setupID, OpenedAt: at},
		Opened:   true,
	})
}

func TestViolentReversalChainConfirms(t *testing.T) {
	f := newFixture(t)

	f.emit(sig(models.PatternVolumeSpike, models.DirectionBuy, t0, 0.8))
	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(3*time.Second), 0.7))

	events := f.bus.setupEvents()
	require.Len(t, events, 2)
	require.Equal(t, models.SetupReversalViolent, events[0].Setup.Kind)
	require.Equal(t, models.SetupPending, events[0].Setup.State)
	require.Equal(t, models.SetupConfirmed, events[1].Setup.State)
	require.Zero(t, f.approver.calls, "risk gate runs at the trigger, not at confirmation")
}

func TestViolentReversalOutsideChainWindow(t *testing.T) {
	f := newFixture(t)

	f.emit(sig(models.PatternVolumeSpike, models.DirectionBuy, t0, 0.8))
	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(6*time.Second), 0.7))

	require.Empty(t, f.bus.setupEvents(), "spike and momentum further apart than the chain window")
}

func TestExpiryOnSweep(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)

	// Deadline is 15s for violent reversals.
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(10 * time.Second)})
	require.Len(t, f.bus.setupEvents(), 2, "sweep before deadline must not expire")

	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(20 * time.Second)})
	events := f.bus.setupEvents()
	require.Len(t, events, 3)
	require.Equal(t, models.SetupExpired, events[2].Setup.State)
	require.Empty(t, f.life.Active("WDO"))
}

func TestEntryTouchPublishesApproval(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))

	approved := f.bus.approvedEvents()
	require.Len(t, approved, 1)
	require.Equal(t, 1, f.approver.calls)
	require.Equal(t, t0.Add(2*time.Second), approved[0].At)

	// Still confirmed until a position open acknowledges it.
	active := f.life.Active("WDO")
	require.Len(t, active, 1)
	require.Equal(t, models.SetupConfirmed, active[0].State)
}

func TestPositionOpenAckTriggers(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	f.touch(t0.Add(2 * time.Second))

	approved := f.bus.approvedEvents()
	require.Len(t, approved, 1)
	f.ackOpen(approved[0].Setup.ID, t0.Add(2*time.Second))

	events := f.bus.setupEvents()
	require.Equal(t, models.SetupTriggered, events[len(events)-1].Setup.State)
	require.Empty(t, f.life.Active("WDO"))
}

func TestApprovalNotRepeatedWhileAwaitingOpen(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	f.touch(t0.Add(2 * time.Second))
	require.Equal(t, 1, f.approver.calls)

	// More trades at the entry while the open is pending.
	f.touch(t0.Add(3 * time.Second))
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(5 * time.Second)})

	require.Len(t, f.bus.approvedEvents(), 1)
	require.Equal(t, 1, f.approver.calls)
}

func TestConfluenceBlockHoldsUntilPeerTurns(t *testing.T) {
	f := newFixture(t)
	// Peer flow opposes a buy.
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0}
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))
	require.Empty(t, f.bus.approvedEvents())
	require.Zero(t, f.approver.calls)

	// Still opposed at the retry: blocked again, never cancelled.
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0.Add(4 * time.Second)}
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(5 * time.Second)})
	require.Empty(t, f.bus.approvedEvents())
	require.Len(t, f.life.Active("WDO"), 1)

	// Peer turns around before the next retry.
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: 80, UpdatedAt: t0.Add(7 * time.Second)}
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(8 * time.Second)})

	require.Len(t, f.bus.approvedEvents(), 1)
	require.Equal(t, 1, f.approver.calls)
}

func TestConfluenceBlockedSetupExpiresAtDeadline(t *testing.T) {
	f := newFixture(t)
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0}
	f.confirmBuy(t)
	f.touch(t0.Add(2 * time.Second))

	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0.Add(4 * time.Second)}
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(5 * time.Second)})
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0.Add(8 * time.Second)}
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(9 * time.Second)})

	require.Len(t, f.life.Active("WDO"), 1, "blocked setup stays confirmed")

	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(20 * time.Second)})
	events := f.bus.setupEvents()
	require.Equal(t, models.SetupExpired, events[len(events)-1].Setup.State)
	require.Zero(t, f.approver.calls)
	require.Empty(t, f.bus.approvedEvents())
}

func TestContradictoryPeerSetupBlocks(t *testing.T) {
	f := newFixture(t)
	// A confirmed sell on the peer instrument.
	f.emit(sigOn("DOL", models.PatternVolumeSpike, models.DirectionSell, t0, 0.8))
	f.emit(sigOn("DOL", models.PatternMomentum, models.DirectionSell, t0.Add(time.Second), 0.7))
	require.Len(t, f.life.Active("DOL"), 1)

	f.confirmBuy(t)
	f.touch(t0.Add(2 * time.Second))

	require.Empty(t, f.bus.approvedEvents())
	require.Zero(t, f.approver.calls)
	require.Len(t, f.life.Active("WDO"), 1)
}

func TestStalePeerDeltaDoesNotVote(t *testing.T) {
	f := newFixture(t)
	// Opposed but older than MaxCVDAge: ignored.
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -50, UpdatedAt: t0.Add(-time.Minute)}
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))
	require.Len(t, f.bus.approvedEvents(), 1)
}

func TestWeakOppositionDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	// Opposed, but below the opposition threshold of 20.
	f.cvd.states["DOL"] = models.CVDState{Symbol: "DOL", ROC: -10, UpdatedAt: t0}
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))
	require.Len(t, f.bus.approvedEvents(), 1)
}

func TestRiskRejectionCancels(t *testing.T) {
	f := newFixture(t)
	f.approver.verdicts = []models.ApprovalVerdict{models.ApprovalCancelled}
	f.approver.reason = "score below floor"
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))

	events := f.bus.setupEvents()
	require.Equal(t, models.SetupCancelled, events[len(events)-1].Setup.State)
	require.Equal(t, "score below floor", events[len(events)-1].Setup.CancelReason)
	require.Empty(t, f.life.Active("WDO"))
}

func TestRiskDeferralRetriesOnSweep(t *testing.T) {
	f := newFixture(t)
	f.approver.verdicts = []models.ApprovalVerdict{models.ApprovalDeferred, models.ApprovalApproved}
	f.confirmBuy(t)

	f.touch(t0.Add(2 * time.Second))
	require.Equal(t, 1, f.approver.calls)
	require.Empty(t, f.bus.approvedEvents())
	require.Len(t, f.life.Active("WDO"), 1, "deferred setup stays confirmed")

	// Sweep before the retry delay elapses does nothing.
	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(3 * time.Second)})
	require.Equal(t, 1, f.approver.calls)

	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(5 * time.Second)})
	require.Equal(t, 2, f.approver.calls)
	require.Len(t, f.bus.approvedEvents(), 1)
}

func TestPositionRejectionRearmsSetup(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	f.touch(t0.Add(2 * time.Second))
	require.Len(t, f.bus.approvedEvents(), 1)

	// The position manager is full; the setup goes back to waiting.
	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningPositionRejected,
		Severity: models.SeverityMedium, IssuedAt: t0.Add(2 * time.Second),
	}})
	require.Len(t, f.life.Active("WDO"), 1)

	f.bus.Publish(models.SweepEvent{Symbol: "WDO", At: t0.Add(5 * time.Second)})
	require.Len(t, f.bus.approvedEvents(), 2)
	require.Equal(t, 2, f.approver.calls)
}

func TestSuppressionBlocksCreation(t *testing.T) {
	f := newFixture(t)
	f.suppress.blocked = true

	f.emit(sig(models.PatternVolumeSpike, models.DirectionBuy, t0, 0.8))
	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(time.Second), 0.7))

	require.Empty(t, f.bus.setupEvents())
}

func TestExtremeRegimeBlocksCreation(t *testing.T) {
	f := newFixture(t)
	f.regimes.regime.Volatility = models.VolatilityExtreme

	f.emit(sig(models.PatternVolumeSpike, models.DirectionBuy, t0, 0.8))
	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(time.Second), 0.7))

	require.Empty(t, f.bus.setupEvents())
}

func TestDuplicateActiveSetupSkipped(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	require.Len(t, f.bus.setupEvents(), 2)

	f.emit(sig(models.PatternMomentum, models.DirectionBuy, t0.Add(2*time.Second), 0.7))
	require.Len(t, f.bus.setupEvents(), 2, "same kind and direction already active")
}

func TestManipulationWarningCancelsActive(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	require.NotEmpty(t, f.life.Active("WDO"))

	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningSpoofing,
		Severity: models.SeverityHigh, IssuedAt: t0.Add(2 * time.Second),
	}})

	events := f.bus.setupEvents()
	require.Equal(t, models.SetupCancelled, events[len(events)-1].Setup.State)
	require.Empty(t, f.life.Active("WDO"))
}

func TestManipulationCancelCanBeDisabled(t *testing.T) {
	f := newFixture(t)
	f.life.cfg.CancelOnWarning = false
	f.confirmBuy(t)

	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningSpoofing,
		Severity: models.SeverityHigh, IssuedAt: t0.Add(2 * time.Second),
	}})
	require.Len(t, f.life.Active("WDO"), 1)

	// An emergency still clears everything.
	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningEmergency,
		Severity: models.SeverityCritical, IssuedAt: t0.Add(3 * time.Second),
	}})
	require.Empty(t, f.life.Active("WDO"))
}

func TestBreakoutIgnition(t *testing.T) {
	f := newFixture(t)

	f.emit(sig(models.PatternPressure, models.DirectionSell, t0, 0.9))
	f.emit(sig(models.PatternMomentum, models.DirectionSell, t0.Add(500*time.Millisecond), 0.8))

	events := f.bus.setupEvents()
	require.NotEmpty(t, events)
	require.Equal(t, models.SetupBreakoutIgnition, events[0].Setup.Kind)
}

func TestDivergenceSetupNeedsExtreme(t *testing.T) {
	f := newFixture(t)

	f.emit(sig(models.PatternDivergence, models.DirectionSell, t0, 0.7))
	require.Empty(t, f.bus.setupEvents())

	f.emit(sig(models.PatternDivergence, models.DirectionSell, t0.Add(time.Second), 0.9))
	events := f.bus.setupEvents()
	require.NotEmpty(t, events)
	require.Equal(t, models.SetupDivergence, events[0].Setup.Kind)
}

func TestClearAll(t *testing.T) {
	f := newFixture(t)
	f.confirmBuy(t)
	require.NotEmpty(t, f.life.Active("WDO"))

	n := f.life.ClearAll(t0.Add(2 * time.Second))
	require.Equal(t, 1, n)
	require.Empty(t, f.life.Active("WDO"))
}
