package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/position"
	"TapeFlow/internal/risk"
	"TapeFlow/internal/setups"
	"TapeFlow/internal/tape"
	xhttp "TapeFlow/pkg/http"
	xlogger "TapeFlow/pkg/logger"
)

// StatusHandler exposes read-only operational state over HTTP: active
// setups, open positions, market regime, and session risk stats.
type StatusHandler struct {
	logger    *xlogger.Logger
	symbols   []string
	tape      *tape.Service
	lifecycle *setups.Lifecycle
	risk      *risk.Manager
	positions *position.Manager
}

func NewStatusHandler(
	logger *xlogger.Logger,
	symbols []string,
	tapeSvc *tape.Service,
	lifecycle *setups.Lifecycle,
	riskMgr *risk.Manager,
	positions *position.Manager,
) *StatusHandler {
	return &StatusHandler{
		logger:    logger,
		symbols:   symbols,
		tape:      tapeSvc,
		lifecycle: lifecycle,
		risk:      riskMgr,
		positions: positions,
	}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/setups", h.Setups)
	g.GET("/positions", h.Positions)
	g.GET("/regime", h.Regime)
	g.POST("/risk/override", h.RiskOverride)
	g.POST("/risk/stop", h.RiskStop)
}

type symbolRegime struct {
	Symbol      string  `json:"symbol"`
	Trend       string  `json:"trend"`
	Volatility  string  `json:"volatility"`
	TrendSlope  float64 `json:"trend_slope"`
	RealizedVol float64 `json:"realized_vol"`
	Tradeable   bool    `json:"tradeable"`
}

type statusResponse struct {
	Time          time.Time      `json:"time"`
	Symbols       []string       `json:"symbols"`
	SessionPnL    float64        `json:"session_pnl"`
	BreakerOpen   bool           `json:"breaker_open"`
	BreakerReason string         `json:"breaker_reason,omitempty"`
	Positions     position.Stats `json:"positions"`
	OpenPositions int            `json:"open_positions"`
	ActiveSetups  int            `json:"active_setups"`
	Regimes       []symbolRegime `json:"regimes"`
}

// Status reports a one-shot view of the whole session.
func (h *StatusHandler) Status(c echo.Context) error {
	open, reason := h.risk.BreakerOpen()

	active := 0
	regimes := make([]symbolRegime, 0, len(h.symbols))
	for _, sym := range h.symbols {
		active += len(h.lifecycle.Active(sym))
		regimes = append(regimes, toSymbolRegime(sym, h.tape.Regime(sym)))
	}

	return xhttp.SuccessResponse(c, statusResponse{
		Time:          time.Now(),
		Symbols:       h.symbols,
		SessionPnL:    h.risk.SessionPnL(),
		BreakerOpen:   open,
		BreakerReason: reason,
		Positions:     h.positions.SessionStats(),
		OpenPositions: len(h.positions.Open()),
		ActiveSetups:  active,
		Regimes:       regimes,
	})
}

type setupsRequest struct {
	Symbol string `query:"symbol"`
}

// Setups lists active (non-terminal) setups, optionally for one symbol.
func (h *StatusHandler) Setups(c echo.Context) error {
	req := &setupsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	symbols := h.symbols
	if req.Symbol != "" {
		symbols = []string{req.Symbol}
	}
	out := make([]models.Setup, 0)
	for _, sym := range symbols {
		out = append(out, h.lifecycle.Active(sym)...)
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

// Positions lists open positions. Accepts `since` (RFC3339 or unix
// seconds) to drop positions opened earlier, and `limit`.
func (h *StatusHandler) Positions(c echo.Context) error {
	since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{})
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 0)

	open := h.positions.Open()
	out := make([]models.Position, 0, len(open))
	for _, p := range open {
		if !since.IsZero() && p.OpenedAt.Before(since) {
			continue
		}
		out = append(out, p)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

type regimeRequest struct {
	Symbol string `query:"symbol" validate:"required"`
}

// Regime reports the current market regime for one symbol.
func (h *StatusHandler) Regime(c echo.Context) error {
	req := &regimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, toSymbolRegime(req.Symbol, h.tape.Regime(req.Symbol)))
}

type breakerResponse struct {
	BreakerOpen   bool   `json:"breaker_open"`
	BreakerReason string `json:"breaker_reason,omitempty"`
}

// RiskOverride clears a tripped circuit breaker. Deferred setups pick
// up again on their next sweep.
func (h *StatusHandler) RiskOverride(c echo.Context) error {
	wasOpen, reason := h.risk.BreakerOpen()
	h.risk.Reset()
	h.logger.Warn("circuit breaker reset over http",
		xlogger.Bool("was_open", wasOpen),
		xlogger.String("was_reason", reason))

	open, r := h.risk.BreakerOpen()
	return xhttp.SuccessResponse(c, breakerResponse{BreakerOpen: open, BreakerReason: r})
}

// RiskStop trips the breaker manually and closes every open position at
// its last seen price.
func (h *StatusHandler) RiskStop(c echo.Context) error {
	now := time.Now()
	h.risk.EmergencyStop(now, "manual stop over http")
	h.positions.CloseAll(models.CloseManual, now)

	open, r := h.risk.BreakerOpen()
	return xhttp.SuccessResponse(c, breakerResponse{BreakerOpen: open, BreakerReason: r})
}

func toSymbolRegime(symbol string, r models.MarketRegime) symbolRegime {
	return symbolRegime{
		Symbol:      symbol,
		Trend:       string(r.Trend),
		Volatility:  string(r.Volatility),
		TrendSlope:  r.TrendSlope,
		RealizedVol: r.RealizedVol,
		Tradeable:   r.Tradeable(),
	}
}
