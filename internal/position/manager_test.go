package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

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

type fakeRegimes struct{ vol models.VolatilityBucket }

func (r *fakeRegimes) Current(symbol string) models.MarketRegime {
	return models.MarketRegime{Symbol: symbol, Trend: models.TrendLateral, Volatility: r.vol}
}

type outcomeRecorder struct{ pnls []float64 }

func (o *outcomeRecorder) RecordOutcome(pnl float64, _ time.Time) {
	o.pnls = append(o.pnls, pnl)
}

func cfg() Config {
	return Config{
		MaxPositions:        2,
		BaseContracts:       2,
		MaxContracts:        5,
		TrailingEnabled:     true,
		TrailingStartPoints: 3,
		TrailingDistance:    2,
		EmergencyRiskCap:    1000,
		VolatilityAdjustments: map[string]float64{
			"low":     1.5,
			"normal":  1,
			"high":    0.5,
			"extreme": 0,
		},
	}
}

type fixture struct {
	bus      *syncBus
	regimes  *fakeRegimes
	outcomes *outcomeRecorder
	mgr      *Manager
}

func newFixture(t *testing.T, c Config) *fixture {
	t.Helper()
	f := &fixture{
		bus:      newSyncBus(),
		regimes:  &fakeRegimes{vol: models.VolatilityNormal},
		outcomes: &outcomeRecorder{},
	}
	f.mgr = NewManager(c, f.bus, f.regimes, f.outcomes, nil, nil)
	f.mgr.Register()
	return f
}

func approvedSetup(id string, dir models.Direction, entry, stop float64, at time.Time) models.SetupApprovedEvent {
	sign := 1.0
	if dir == models.DirectionSell {
		sign = -1
	}
	risk := sign * (entry - stop)
	return models.SetupApprovedEvent{
		Setup: models.Setup{
			ID: id, Symbol: "WDO", Kind: models.SetupBreakoutIgnition,
			Direction: dir, State: models.SetupConfirmed,
			Entry: entry, Stop: stop,
			Targets: []float64{entry + sign*risk, entry + sign*2*risk},
		},
		At: at,
	}
}

func (f *fixture) rejections() []models.Warning {
	var out []models.Warning
	for _, e := range f.bus.events {
		if we, ok := e.(models.WarningEvent); ok && we.Warning.Kind == models.WarningPositionRejected {
			out = append(out, we.Warning)
		}
	}
	return out
}

func (f *fixture) tick(price float64, at time.Time) {
	f.bus.Publish(models.TradeEvent{Trade: models.Trade{
		Symbol: "WDO", Timestamp: at, Side: models.SideBuy, Price: price, Volume: 10,
	}})
}

func TestOpenOnApprovedSetup(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	open := f.mgr.Open()
	require.Len(t, open, 1)
	require.Equal(t, 2, open[0].Contracts)
	require.Equal(t, models.PositionOpen, open[0].Status)
	require.Equal(t, t0, open[0].OpenedAt)
}

func TestMaxPositionsCap(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	f.bus.Publish(approvedSetup("s2", models.DirectionSell, 5510, 5512, t0.Add(time.Second)))
	f.bus.Publish(approvedSetup("s3", models.DirectionBuy, 5490, 5488, t0.Add(2*time.Second)))

	require.Len(t, f.mgr.Open(), 2, "third entry must be refused at the cap")

	rejected := f.rejections()
	require.Len(t, rejected, 1, "the refused approval raises a rejection warning")
	require.Equal(t, models.SeverityMedium, rejected[0].Severity)
	require.Equal(t, t0.Add(2*time.Second), rejected[0].IssuedAt)
}

func TestVolatilityScaledSizing(t *testing.T) {
	c := cfg()

	f := newFixture(t, c)
	f.regimes.vol = models.VolatilityLow
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	require.Equal(t, 3, f.mgr.Open()[0].Contracts, "low volatility sizes up")

	f = newFixture(t, c)
	f.regimes.vol = models.VolatilityHigh
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	require.Equal(t, 1, f.mgr.Open()[0].Contracts, "high volatility sizes down")

	f = newFixture(t, c)
	f.regimes.vol = models.VolatilityExtreme
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	require.Empty(t, f.mgr.Open(), "extreme volatility skips the entry")
	require.Len(t, f.rejections(), 1, "the skipped entry raises a rejection warning")
}

func TestStopHitCloses(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	f.tick(5497.5, t0.Add(time.Second))
	require.Empty(t, f.mgr.Open())
	require.Len(t, f.outcomes.pnls, 1)
	require.InDelta(t, -4, f.outcomes.pnls[0], 1e-9, "2 points times 2 contracts at the stop")
}

func TestTargetHitCloses(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	f.tick(5504, t0.Add(time.Second))
	require.Empty(t, f.mgr.Open())
	require.Len(t, f.outcomes.pnls, 1)
	require.InDelta(t, 8, f.outcomes.pnls[0], 1e-9)
}

func TestTrailingStopAdvancesOnly(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	// Not enough profit yet: stop unchanged.
	f.tick(5502, t0.Add(time.Second))
	require.InDelta(t, 5498, f.mgr.Open()[0].Stop, 1e-9)

	// Profit reaches the trailing start: stop advances to price minus distance.
	f.tick(5503.5, t0.Add(2*time.Second))
	require.InDelta(t, 5501.5, f.mgr.Open()[0].Stop, 1e-9)

	// Price backs off: stop must not retreat.
	f.tick(5503, t0.Add(3*time.Second))
	require.InDelta(t, 5501.5, f.mgr.Open()[0].Stop, 1e-9)
}

func TestTrailingDisabledKeepsStop(t *testing.T) {
	c := cfg()
	c.TrailingEnabled = false
	f := newFixture(t, c)
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	f.tick(5503.5, t0.Add(time.Second))
	require.InDelta(t, 5498, f.mgr.Open()[0].Stop, 1e-9, "stop stays where the setup placed it")
}

func TestDefensiveCloseOnWarning(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	f.tick(5501, t0.Add(time.Second))

	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningSpoofing,
		Severity: models.SeverityHigh, IssuedAt: t0.Add(2 * time.Second),
	}})

	require.Empty(t, f.mgr.Open())
	stats := f.mgr.SessionStats()
	require.Equal(t, 1, stats.Closed)
}

func TestLowSeverityWarningIgnored(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))

	f.bus.Publish(models.WarningEvent{Warning: models.Warning{
		Symbol: "WDO", Kind: models.WarningDivergence,
		Severity: models.SeverityLow, IssuedAt: t0.Add(time.Second),
	}})

	require.Len(t, f.mgr.Open(), 1)
}

func TestEmergencyRiskCap(t *testing.T) {
	c := cfg()
	c.EmergencyRiskCap = 10
	f := newFixture(t, c)

	// Each position risks 3 points x 2 contracts = 6; the second takes
	// the aggregate to 12, over the cap.
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5497, t0))
	f.bus.Publish(approvedSetup("s2", models.DirectionBuy, 5500, 5497, t0.Add(time.Second)))

	require.Len(t, f.mgr.Open(), 1, "cap breach closes the riskiest position")

	var emergencies int
	for _, e := range f.bus.events {
		if we, ok := e.(models.WarningEvent); ok && we.Warning.Kind == models.WarningEmergency {
			emergencies++
		}
	}
	require.NotZero(t, emergencies)
}

func TestCloseAllOnShutdown(t *testing.T) {
	f := newFixture(t, cfg())
	f.bus.Publish(approvedSetup("s1", models.DirectionBuy, 5500, 5498, t0))
	f.tick(5501, t0.Add(time.Second))

	f.mgr.CloseAll(models.CloseShutdown, t0.Add(2*time.Second))
	require.Empty(t, f.mgr.Open())
	stats := f.mgr.SessionStats()
	require.Equal(t, 1, stats.Closed)
	require.InDelta(t, 2, stats.TotalPnL, 1e-9, "closed at the last seen price")
}
