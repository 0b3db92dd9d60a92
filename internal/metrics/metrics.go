// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's collectors. One instance is created at
// startup and threaded through the server.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	RateLimitDenied *prometheus.CounterVec
	ActiveSockets   prometheus.Gauge
}

// New creates the collector set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tokens_total",
			Help: "Model tokens consumed by direction.",
		}, []string{"direction"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_tool_duration_seconds",
			Help:    "Tool execution latency by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_rate_limit_denied_total",
			Help: "Requests denied by the rate limiter, by reason.",
		}, []string{"reason"}),
		ActiveSockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_websockets",
			Help: "Open chat WebSocket connections.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveUsage records token consumption for one completed run.
func (m *Metrics) ObserveUsage(inputTokens, outputTokens int) {
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}
