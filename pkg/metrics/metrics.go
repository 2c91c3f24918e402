// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StageDuration tracks analysis stage duration.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_stage_duration_seconds",
			Help:    "Analysis stage duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"stage", "status"},
	)

	// StageErrorsTotal tracks stage failures by error kind.
	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_stage_errors_total",
			Help: "Total analysis stage failures",
		},
		[]string{"stage", "kind"},
	)

	// StageRetriesTotal tracks retried stage attempts.
	StageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_stage_retries_total",
			Help: "Total retried analysis service calls",
		},
		[]string{"stage"},
	)

	// PipelineTurnsTotal tracks pipeline turns by outcome.
	PipelineTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_turns_total",
			Help: "Total pipeline turns by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineTurnDuration tracks end-to-end turn duration.
	PipelineTurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_turn_duration_seconds",
			Help:    "End-to-end pipeline turn duration",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// LLMInFlight tracks calls currently holding a concurrency permit.
	LLMInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_in_flight",
			Help: "Analysis service calls currently in flight",
		},
	)

	// DraftsTotal tracks outbound drafts created by kind.
	DraftsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_drafts_total",
			Help: "Total outbound drafts created",
		},
		[]string{"kind"},
	)

	// DraftsSuppressedTotal tracks drafts suppressed by scheduling policy.
	DraftsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_drafts_suppressed_total",
			Help: "Total drafts suppressed by scheduling policy",
		},
		[]string{"kind", "reason"},
	)

	// InsightsTotal tracks insights generated by kind.
	InsightsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_total",
			Help: "Total insights generated",
		},
		[]string{"kind"},
	)

	// NATSStreamMessages tracks messages in the NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStage records metrics for one analysis service call.
func RecordStage(stage, status string, duration float64) {
	StageDuration.WithLabelValues(stage, status).Observe(duration)
}

// RecordTokens records LLM token usage.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
