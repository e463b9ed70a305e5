package position

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Config bounds position management.
type Config struct {
	MaxPositions  int
	BaseContracts int
	MaxContracts  int
	// TrailingEnabled turns the trailing stop on; when off, stops stay
	// where the setup placed them.
	TrailingEnabled     bool
	TrailingStartPoints float64
	TrailingDistance    float64
	EmergencyRiskCap    float64
	// VolatilityAdjustments scales the base size per volatility bucket.
	// Missing buckets default to 1. A factor of 0 skips the entry.
	VolatilityAdjustments map[string]float64
}

// RegimeSource exposes the current market regime per symbol.
type RegimeSource interface {
	Current(symbol string) models.MarketRegime
}

// OutcomeSink receives realized results of closed positions.
type OutcomeSink interface {
	RecordOutcome(pnl float64, now time.Time)
}

// Stats is the session summary kept by the manager.
type Stats struct {
	Opened   int
	Closed   int
	Wins     int
	Losses   int
	TotalPnL float64
}

// Manager opens positions from approved setups and manages them on
// every tick: trailing stops that only advance, stop and target exits,
// defensive closes on warnings, and an aggregate risk cap that force
// closes the riskiest exposure. The opened PositionEvent it publishes
// is what moves the setup to triggered; an approval it cannot honor
// raises a position_rejected warning instead.
type Manager struct {
	cfg     Config
	bus     repository.Bus
	regimes RegimeSource
	risk    OutcomeSink
	log     *logger.Logger
	metrics repository.Metrics

	mu        sync.Mutex
	open      map[string]*models.Position
	lastPrice map[string]float64
	stats     Stats
}

func NewManager(
	cfg Config,
	b repository.Bus,
	regimes RegimeSource,
	risk OutcomeSink,
	log *logger.Logger,
	metrics repository.Metrics,
) *Manager {
	return &Manager{
		cfg:       cfg,
		bus:       b,
		regimes:   regimes,
		risk:      risk,
		log:       log,
		metrics:   metrics,
		open:      make(map[string]*models.Position),
		lastPrice: make(map[string]float64),
	}
}

// Register subscribes the manager to its input topics.
func (m *Manager) Register() {
	m.bus.Subscribe(models.TopicApprovals, m.onApproval)
	m.bus.Subscribe(models.TopicTrades, m.onTrade)
	m.bus.Subscribe(models.TopicWarnings, m.onWarning)
}

// Open returns copies of the open positions.
func (m *Manager) Open() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// SessionStats returns the running session summary.
func (m *Manager) SessionStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// CloseAll closes every open position at its last seen price, for
// shutdown and the emergency path.
func (m *Manager) CloseAll(reason models.CloseReason, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.open {
		price, ok := m.lastPrice[p.Symbol]
		if !ok {
			price = p.Entry
		}
		m.closeLocked(id, p, price, reason, now)
	}
}

func (m *Manager) onApproval(e repository.Event) {
	ev, ok := e.(models.SetupApprovedEvent)
	if !ok {
		return
	}

	m.mu.Lock()
	warnings := m.openLocked(ev.Setup, ev.At)
	m.mu.Unlock()

	// Publishing a warning re-enters onWarning, so it happens outside
	// the lock.
	for _, w := range warnings {
		m.bus.Publish(models.WarningEvent{Warning: w})
	}
}

// openLocked admits an approved setup. It returns the warnings to
// publish: a rejection when the approval cannot be honored, or any
// emergencies raised by the aggregate risk cap after the open.
func (m *Manager) openLocked(s models.Setup, at time.Time) []models.Warning {
	if len(m.open) >= m.cfg.MaxPositions {
		if m.log != nil {
			m.log.Debug("entry skipped, position cap reached",
				logger.String("symbol", s.Symbol),
				logger.String("setup", s.ID))
		}
		return []models.Warning{{
			Symbol:   s.Symbol,
			Kind:     models.WarningPositionRejected,
			Severity: models.SeverityMedium,
			Message:  "position cap reached",
			IssuedAt: at,
			Details:  map[string]float64{"open": float64(len(m.open))},
		}}
	}

	contracts := m.size(s.Symbol)
	if contracts <= 0 {
		return []models.Warning{{
			Symbol:   s.Symbol,
			Kind:     models.WarningPositionRejected,
			Severity: models.SeverityMedium,
			Message:  "volatility bucket sized to zero",
			IssuedAt: at,
		}}
	}

	p := &models.Position{
		ID:        uuid.NewString(),
		SetupID:   s.ID,
		Symbol:    s.Symbol,
		Kind:      s.Kind,
		Direction: s.Direction,
		Status:    models.PositionOpen,
		Contracts: contracts,
		Entry:     s.Entry,
		Stop:      s.Stop,
		Targets:   s.Targets,
		OpenedAt:  at,
	}
	m.open[p.ID] = p
	m.stats.Opened++

	if m.metrics != nil {
		m.metrics.SetOpenPositions(len(m.open))
	}
	if m.log != nil {
		m.log.Info("position opened",
			logger.String("symbol", p.Symbol),
			logger.String("position", p.ID),
			logger.String("kind", string(p.Kind)),
			logger.String("direction", string(p.Direction)),
			logger.Int("contracts", p.Contracts),
			logger.Float64("entry", p.Entry),
			logger.Float64("stop", p.Stop))
	}
	m.bus.Publish(models.PositionEvent{Position: *p, Opened: true})

	return m.enforceRiskCapLocked(at)
}

func (m *Manager) onTrade(e repository.Event) {
	ev, ok := e.(models.TradeEvent)
	if !ok {
		return
	}
	trade := ev.Trade

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPrice[trade.Symbol] = trade.Price

	for id, p := range m.open {
		if p.Symbol != trade.Symbol {
			continue
		}
		if p.StopDistance(trade.Price) <= 0 {
			m.closeLocked(id, p, p.Stop, models.CloseStopHit, trade.Timestamp)
			continue
		}
		if targetHit(p, trade.Price) {
			m.closeLocked(id, p, trade.Price, models.CloseTargetHit, trade.Timestamp)
			continue
		}
		m.trailLocked(p, trade.Price)
	}
}

func (m *Manager) onWarning(e repository.Event) {
	ev, ok := e.(models.WarningEvent)
	if !ok {
		return
	}
	w := ev.Warning
	if w.Severity < models.SeverityHigh {
		return
	}
	// Emergency warnings originate here; the risk cap path has already
	// closed what it needed to.
	switch w.Kind {
	case models.WarningDivergence, models.WarningLayering, models.WarningSpoofing:
	default:
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.open {
		if p.Symbol != w.Symbol {
			continue
		}
		price, ok := m.lastPrice[p.Symbol]
		if !ok {
			price = p.Entry
		}
		if m.log != nil {
			m.log.Warn("defensive close",
				logger.String("symbol", p.Symbol),
				logger.String("position", id),
				logger.String("warning", string(w.Kind)))
		}
		m.closeLocked(id, p, price, models.CloseDefensive, w.IssuedAt)
	}
}

// size scales the base contract count by the volatility bucket factor.
func (m *Manager) size(symbol string) int {
	factor := 1.0
	bucket := string(m.regimes.Current(symbol).Volatility)
	if f, ok := m.cfg.VolatilityAdjustments[bucket]; ok {
		factor = f
	}
	contracts := int(float64(m.cfg.BaseContracts) * factor)
	if contracts > m.cfg.MaxContracts {
		contracts = m.cfg.MaxContracts
	}
	return contracts
}

// trailLocked advances the stop once price has moved TrailingStartPoints
// in favor. The stop never retreats.
func (m *Manager) trailLocked(p *models.Position, price float64) {
	if !m.cfg.TrailingEnabled {
		return
	}
	var profit, candidate float64
	if p.Direction == models.DirectionBuy {
		profit = price - p.Entry
		candidate = price - m.cfg.TrailingDistance
		if profit >= m.cfg.TrailingStartPoints && candidate > p.Stop {
			p.Stop = candidate
		}
		return
	}
	profit = p.Entry - price
	candidate = price + m.cfg.TrailingDistance
	if profit >= m.cfg.TrailingStartPoints && candidate < p.Stop {
		p.Stop = candidate
	}
}

// enforceRiskCapLocked closes the riskiest positions until the aggregate
// risk at stop is back under the emergency cap. The warnings raised are
// returned for the caller to publish once the lock is released.
func (m *Manager) enforceRiskCapLocked(now time.Time) []models.Warning {
	if m.cfg.EmergencyRiskCap <= 0 {
		return nil
	}
	var raised []models.Warning
	for {
		var total float64
		var worstID string
		var worst *models.Position
		var worstRisk float64
		for id, p := range m.open {
			r := p.RiskAtStop()
			total += r
			if worst == nil || r > worstRisk {
				worstID, worst, worstRisk = id, p, r
			}
		}
		if total <= m.cfg.EmergencyRiskCap || worst == nil {
			return raised
		}

		raised = append(raised, models.Warning{
			Symbol:   worst.Symbol,
			Kind:     models.WarningEmergency,
			Severity: models.SeverityCritical,
			Message:  "aggregate risk cap exceeded",
			IssuedAt: now,
			Details:  map[string]float64{"total_risk": total, "cap": m.cfg.EmergencyRiskCap},
		})
		price, ok := m.lastPrice[worst.Symbol]
		if !ok {
			price = worst.Entry
		}
		m.closeLocked(worstID, worst, price, models.CloseEmergency, now)
	}
}

func (m *Manager) closeLocked(id string, p *models.Position, price float64, reason models.CloseReason, now time.Time) {
	p.Status = models.PositionClosed
	p.ClosedAt = now
	p.ExitPrice = price
	p.Reason = reason
	p.PnL = p.UnrealizedPnL(price)
	delete(m.open, id)

	m.stats.Closed++
	m.stats.TotalPnL += p.PnL
	if p.PnL >= 0 {
		m.stats.Wins++
	} else {
		m.stats.Losses++
	}

	if m.metrics != nil {
		m.metrics.SetOpenPositions(len(m.open))
	}
	if m.log != nil {
		m.log.Info("position closed",
			logger.String("symbol", p.Symbol),
			logger.String("position", id),
			logger.String("reason", string(reason)),
			logger.Float64("exit", price),
			logger.Float64("pnl", p.PnL))
	}
	if m.risk != nil {
		m.risk.RecordOutcome(p.PnL, now)
	}
	m.bus.Publish(models.PositionEvent{Position: *p, Opened: false})
}

// targetHit reports whether price reached the final target.
func targetHit(p *models.Position, price float64) bool {
	if len(p.Targets) == 0 {
		return false
	}
	last := p.Targets[len(p.Targets)-1]
	if p.Direction == models.DirectionBuy {
		return price >= last
	}
	return price <= last
}
