// Package telemetry exposes Prometheus counters for optimization runs.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Optimization engine metrics
var (
	// Evaluations counts every fitness evaluation, successful or not
	Evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuner_evaluations_total",
		Help: "Total number of fitness evaluations",
	})

	// EvaluationFailures counts fitness calls that errored or panicked
	EvaluationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuner_evaluation_failures_total",
		Help: "Fitness evaluations that failed and received the sentinel fitness",
	})

	// Generations counts completed optimizer generations
	Generations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuner_generations_total",
		Help: "Total number of completed optimizer generations",
	})

	// WindowsSkipped counts walk-forward windows that could not execute
	WindowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuner_windows_skipped_total",
		Help: "Walk-forward windows skipped because their backtest could not execute",
	})
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterHandlers registers the metrics endpoint on an HTTP mux
func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", Handler())
}
