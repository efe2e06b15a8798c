package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	recoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_recovery_attempts_total",
			Help: "Total number of recovery dispatches by failure category",
		},
		[]string{"category"},
	)

	sanitizeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_sanitize_results_total",
			Help: "Total number of sanitized generator outputs by outcome",
		},
		[]string{"outcome"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_execution_duration_seconds",
			Help:    "Engine execution duration in seconds for successful runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)
