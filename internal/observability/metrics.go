// Package observability provides Prometheus metrics for the gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's operational counters and histograms:
// chat turn volume, model request performance, tool execution outcomes,
// and streaming event delivery.
type Metrics struct {
	// ChatTurns counts processed chat turns.
	// Labels: mode (stream|sync), status (success|error)
	ChatTurns *prometheus.CounterVec

	// ModelRequests counts model endpoint calls.
	// Labels: provider, status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: provider
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// StreamEvents counts emitted stream events.
	// Labels: type (delta|stop)
	StreamEvents *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set with reg. A nil registerer
// falls back to the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChatTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_chat_turns_total",
				Help: "Total chat turns processed",
			},
			[]string{"mode", "status"},
		),
		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_requests_total",
				Help: "Total model endpoint requests",
			},
			[]string{"provider", "status"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_model_request_duration_seconds",
				Help:    "Model endpoint call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Tool execution time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		StreamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_stream_events_total",
				Help: "Total streaming events emitted to callers",
			},
			[]string{"type"},
		),
	}
}
