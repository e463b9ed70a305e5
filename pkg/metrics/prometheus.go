package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tradesIngested *prometheus.CounterVec
	signalsTotal   *prometheus.CounterVec
	setupsTotal    *prometheus.CounterVec
	warningsTotal  *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	cvdValue       *prometheus.GaugeVec
	openPositions  prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		tradesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_trades_ingested_total",
				Help: "Total number of trades ingested from the feed",
			},
			[]string{"symbol"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_signals_total",
				Help: "Total number of tactical signals detected",
			},
			[]string{"symbol", "kind"},
		),
		setupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_setups_total",
				Help: "Total number of setup lifecycle transitions",
			},
			[]string{"symbol", "kind", "state"},
		),
		warningsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_warnings_total",
				Help: "Total number of warnings issued",
			},
			[]string{"symbol", "kind"},
		),
		busDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_bus_dropped_total",
				Help: "Total number of events dropped by full bus partitions",
			},
			[]string{"topic"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapeflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tapeflow_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		cvdValue: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tapeflow_cvd",
				Help: "Current cumulative volume delta for a symbol",
			},
			[]string{"symbol"},
		),
		openPositions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tapeflow_open_positions",
				Help: "Number of currently open positions",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tapeflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTradeIngested records a trade accepted from the feed.
func (r *Recorder) RecordTradeIngested(symbol string) {
	r.tradesIngested.WithLabelValues(symbol).Inc()
}

// RecordSignal records a detected tactical signal.
func (r *Recorder) RecordSignal(symbol, kind string) {
	r.signalsTotal.WithLabelValues(symbol, kind).Inc()
}

// RecordSetupTransition records a setup entering a lifecycle state.
func (r *Recorder) RecordSetupTransition(symbol, kind, state string) {
	r.setupsTotal.WithLabelValues(symbol, kind, state).Inc()
}

// RecordWarning records an issued warning.
func (r *Recorder) RecordWarning(symbol, kind string) {
	r.warningsTotal.WithLabelValues(symbol, kind).Inc()
}

// RecordBusDrop records an event dropped by a full partition queue.
func (r *Recorder) RecordBusDrop(topic string) {
	r.busDropped.WithLabelValues(topic).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordCVD records the current cumulative volume delta for a symbol.
func (r *Recorder) RecordCVD(symbol string, value float64) {
	r.cvdValue.WithLabelValues(symbol).Set(value)
}

// SetOpenPositions records the current open position count.
func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
