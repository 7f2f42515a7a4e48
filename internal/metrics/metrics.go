package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the engine's Prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	predictions  *prometheus.CounterVec
	validations  *prometheus.CounterVec
	accuracy     *prometheus.GaugeVec
	retrains     *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	intelligence *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_predictions_total",
				Help: "Total number of forecasts produced",
			},
			[]string{"ticker", "logged"},
		),
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_validations_total",
				Help: "Total number of validated predictions",
			},
			[]string{"ticker", "outcome"},
		),
		accuracy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricecast_last_accuracy_pct",
				Help: "Most recent validated accuracy for a ticker",
			},
			[]string{"ticker"},
		),
		retrains: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_retrain_triggered_total",
				Help: "Total number of retrain decisions that fired",
			},
			[]string{"ticker"},
		),
		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_degraded_total",
				Help: "Total number of calls that fell back to defaults",
			},
			[]string{"reason"},
		),
		intelligence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricecast_intelligence_score",
				Help: "Latest intelligence score for a ticker",
			},
			[]string{"ticker"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPrediction counts a forecast and whether it reached the journal.
func (r *Recorder) RecordPrediction(ticker string, logged bool) {
	l := "false"
	if logged {
		l = "true"
	}
	r.predictions.WithLabelValues(ticker, l).Inc()
}

// RecordValidation counts a validation and tracks its accuracy.
func (r *Recorder) RecordValidation(ticker, outcome string, accuracy float64) {
	r.validations.WithLabelValues(ticker, outcome).Inc()
	r.accuracy.WithLabelValues(ticker).Set(accuracy)
}

func (r *Recorder) RecordRetrain(ticker string) {
	r.retrains.WithLabelValues(ticker).Inc()
}

// Degraded counts a fallback; it satisfies signals.DegradedRecorder.
func (r *Recorder) Degraded(reason string) {
	r.degraded.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordIntelligence(ticker string, score float64) {
	r.intelligence.WithLabelValues(ticker).Set(score)
}

// RecordRequest counts an HTTP request.
func (r *Recorder) RecordRequest(method, route, status string) {
	r.requests.WithLabelValues(method, route, status).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
