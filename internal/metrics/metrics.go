package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"call-assist-go/internal/errs"
)

var (
	StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		},
		[]string{"stage", "provider", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "provider"},
	)

	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_lookups_total",
			Help: "Submission lookups by outcome",
		},
		[]string{"outcome"},
	)

	CallsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_calls_started_total",
			Help: "Outbound calls requested from the telephony provider",
		},
		[]string{"outcome"},
	)
)

// ObserveStage records one stage execution.
func ObserveStage(stage, provider string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage, provider).Observe(time.Since(start).Seconds())
	StageRuns.WithLabelValues(stage, provider, Outcome(err)).Inc()
}

// Outcome classifies err for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errs.IsConfig(err):
		return "config_error"
	case errs.IsProvider(err):
		return "provider_error"
	case errs.IsParse(err):
		return "parse_error"
	default:
		return "error"
	}
}
