package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the contest's Prometheus collectors. A nil *Registry is valid and records nothing,
// so services can run without metrics.
type Registry struct {
	reg *prometheus.Registry

	Submissions        *prometheus.CounterVec
	Settlements        *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	OracleRequests     *prometheus.CounterVec
	WindowOpen         prometheus.Gauge
	PredictionsScored  *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contest_submissions_total",
				Help: "Prediction submissions by result",
			},
			[]string{"result"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contest_settlements_total",
				Help: "Settlement runs by outcome",
			},
			[]string{"outcome"},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "contest_settlement_duration_seconds",
				Help:    "Wall time of settlement runs that claimed rows",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		OracleRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contest_oracle_requests_total",
				Help: "Price oracle calls by result",
			},
			[]string{"result"},
		),
		WindowOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "contest_window_open",
				Help: "1 while the submission window is open",
			},
		),
		PredictionsScored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contest_predictions_scored_total",
				Help: "Settled prediction rows by status",
			},
			[]string{"status"},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Submissions,
		r.Settlements,
		r.SettlementDuration,
		r.OracleRequests,
		r.WindowOpen,
		r.PredictionsScored,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) Submission(result string) {
	if r == nil {
		return
	}
	r.Submissions.WithLabelValues(result).Inc()
}

func (r *Registry) Settlement(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.Settlements.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		r.SettlementDuration.Observe(seconds)
	}
}

func (r *Registry) OracleRequest(result string) {
	if r == nil {
		return
	}
	r.OracleRequests.WithLabelValues(result).Inc()
}

func (r *Registry) SetWindowOpen(open bool) {
	if r == nil {
		return
	}
	if open {
		r.WindowOpen.Set(1)
		return
	}
	r.WindowOpen.Set(0)
}

func (r *Registry) Scored(status string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.PredictionsScored.WithLabelValues(status).Add(float64(n))
}
