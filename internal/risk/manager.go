package risk

import (
	"fmt"
	"sync"
	"time"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Config bounds the approval gates.
type Config struct {
	MaxSignalsPerMinute  int
	MaxSignalsPerHour    int
	MinQuality           float64
	ConsecutiveLossLimit int
	DrawdownLimit        float64
	BreakerCooldown      time.Duration
}

// Manager gates setup confirmations. Gates run in a fixed order and
// short-circuit: rate limits first, then quality, then the circuit
// breaker. A rejected setup consumes no rate budget.
type Manager struct {
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics

	mu          sync.Mutex
	approvals   []time.Time // sliding window of approvals
	losses      int         // consecutive losing positions
	sessionPnL  float64
	peakPnL     float64
	breakerOpen bool
	breakerAt   time.Time
	reason      string
}

func NewManager(cfg Config, log *logger.Logger, metrics repository.Metrics) *Manager {
	return &Manager{cfg: cfg, log: log, metrics: metrics}
}

// Approve runs the gate chain for a setup at time now. Rate windows and
// an open breaker defer the setup (the lifecycle retries it on a later
// sweep); only the quality gate cancels, since a setup's score does not
// improve with time.
func (m *Manager) Approve(s models.Setup, now time.Time) (models.ApprovalVerdict, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(now)

	if n := m.countSince(now.Add(-time.Minute)); n >= m.cfg.MaxSignalsPerMinute {
		return m.deferred(s, fmt.Sprintf("rate limit: %d approvals in the last minute", n))
	}
	if n := len(m.approvals); n >= m.cfg.MaxSignalsPerHour {
		return m.deferred(s, fmt.Sprintf("rate limit: %d approvals in the last hour", n))
	}

	if s.Score < m.cfg.MinQuality {
		return m.cancelled(s, fmt.Sprintf("quality %.2f below %.2f", s.Score, m.cfg.MinQuality))
	}

	if m.breakerOpen {
		if now.Sub(m.breakerAt) < m.cfg.BreakerCooldown {
			return m.deferred(s, "circuit breaker open: "+m.reason)
		}
		// Cooldown elapsed: half-open, the next approval goes through.
		m.breakerOpen = false
		m.reason = ""
		if m.log != nil {
			m.log.Info("circuit breaker reset after cooldown")
		}
	}

	m.approvals = append(m.approvals, now)
	return models.ApprovalApproved, ""
}

func (m *Manager) deferred(s models.Setup, reason string) (models.ApprovalVerdict, string) {
	if m.metrics != nil {
		m.metrics.RecordError("risk_defer")
	}
	if m.log != nil {
		m.log.Debug("setup deferred",
			logger.String("symbol", s.Symbol),
			logger.String("kind", string(s.Kind)),
			logger.String("reason", reason))
	}
	return models.ApprovalDeferred, reason
}

func (m *Manager) cancelled(s models.Setup, reason string) (models.ApprovalVerdict, string) {
	if m.metrics != nil {
		m.metrics.RecordError("risk_reject")
	}
	if m.log != nil {
		m.log.Debug("setup rejected",
			logger.String("symbol", s.Symbol),
			logger.String("kind", string(s.Kind)),
			logger.String("reason", reason))
	}
	return models.ApprovalCancelled, reason
}

// RecordOutcome folds a closed position's result into the breaker state.
func (m *Manager) RecordOutcome(pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionPnL += pnl
	if m.sessionPnL > m.peakPnL {
		m.peakPnL = m.sessionPnL
	}

	if pnl < 0 {
		m.losses++
	} else if pnl > 0 {
		m.losses = 0
	}

	if m.breakerOpen {
		return
	}
	if m.cfg.ConsecutiveLossLimit > 0 && m.losses >= m.cfg.ConsecutiveLossLimit {
		m.trip(now, fmt.Sprintf("%d consecutive losses", m.losses))
		return
	}
	if m.cfg.DrawdownLimit > 0 && m.peakPnL-m.sessionPnL >= m.cfg.DrawdownLimit {
		m.trip(now, fmt.Sprintf("drawdown %.1f", m.peakPnL-m.sessionPnL))
	}
}

// EmergencyStop trips the breaker immediately, regardless of outcomes.
func (m *Manager) EmergencyStop(now time.Time, why string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trip(now, "emergency: "+why)
}

// Reset clears the breaker manually, the operator override.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerOpen = false
	m.losses = 0
	m.reason = ""
	if m.log != nil {
		m.log.Info("circuit breaker manually reset")
	}
}

// BreakerOpen reports the breaker state and its reason.
func (m *Manager) BreakerOpen() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerOpen, m.reason
}

// SessionPnL returns the running realized result.
func (m *Manager) SessionPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionPnL
}

func (m *Manager) trip(now time.Time, reason string) {
	m.breakerOpen = true
	m.breakerAt = now
	m.reason = reason
	if m.metrics != nil {
		m.metrics.RecordError("circuit_breaker_trip")
	}
	if m.log != nil {
		m.log.Warn("circuit breaker tripped", logger.String("reason", reason))
	}
}

// prune drops approvals outside the hour window.
func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.approvals) && m.approvals[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.approvals = append(m.approvals[:0], m.approvals[i:]...)
	}
}

func (m *Manager) countSince(cutoff time.Time) int {
	n := 0
	for i := len(m.approvals) - 1; i >= 0; i-- {
		if m.approvals[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
