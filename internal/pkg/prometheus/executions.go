package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "launchpad"

var (
	executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Executions that reached a terminal status.",
	}, []string{"status", "cause"})

	executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executions_in_flight",
		Help:      "Executions holding a concurrency slot.",
	})

	executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall time from submission to terminal status.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})
)

func init() {
	registry.MustRegister(executionsTotal, executionsInFlight, executionDuration)
}

func ExecutionStarted() { executionsInFlight.Inc() }

func ExecutionReleased() { executionsInFlight.Dec() }

// ExecutionFinished records one terminal execution.
func ExecutionFinished(status, cause string, took time.Duration) {
	if cause == "" {
		cause = "none"
	}
	executionsTotal.WithLabelValues(status, cause).Inc()
	executionDuration.WithLabelValues(status).Observe(took.Seconds())
}
