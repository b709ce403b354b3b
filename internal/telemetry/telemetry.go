// Package telemetry records run observability: append-only telemetry
// events in the store plus prometheus metrics for scraping.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/store"
)

// Metrics holds the prometheus instruments. Each Metrics instance owns
// its own registry so concurrent orchestrators and tests do not
// interfere through global state.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal    *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec
	ModelSpend   prometheus.Counter
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "missiond_runs_total",
			Help: "Mission runs by terminal state.",
		}, []string{"state"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "missiond_step_duration_seconds",
			Help:    "Step duration by role and runtime.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"role", "runtime"}),
		StepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "missiond_step_errors_total",
			Help: "Step failures by error class.",
		}, []string{"class"}),
		ModelSpend: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missiond_model_spend_usd_total",
			Help: "Cumulative estimated model spend in USD.",
		}),
	}
	reg.MustRegister(m.RunsTotal, m.StepDuration, m.StepErrors, m.ModelSpend)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Recorder persists telemetry events and mirrors them into metrics.
// Recording never fails the run: store errors are logged and dropped,
// since telemetry is an observability sink the orchestrator never
// reads back.
type Recorder struct {
	store   *store.Store
	metrics *Metrics
	logger  *zap.Logger
}

// NewRecorder builds a Recorder over st and metrics.
func NewRecorder(st *store.Store, metrics *Metrics, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: st, metrics: metrics, logger: logger}
}

// Metrics returns the recorder's instrument set.
func (r *Recorder) Metrics() *Metrics { return r.metrics }

// Record appends ev to the store's telemetry table.
func (r *Recorder) Record(ev *store.TelemetryEvent) {
	if err := r.store.SaveTelemetry(ev); err != nil {
		r.logger.Warn("dropping telemetry event",
			zap.String("name", ev.Name),
			zap.String("run_id", ev.RunID),
			zap.Error(err))
	}
}
