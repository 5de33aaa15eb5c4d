// Package observability exposes the gateway's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's instrument set.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	ToolExecutions    *prometheus.CounterVec
	ToolRetries       prometheus.Counter
	Approvals         *prometheus.CounterVec
	SandboxContainers *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the instrument set on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rustyclaw_messages_processed_total",
			Help: "Messages processed, by channel.",
		}, []string{"channel"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rustyclaw_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "status"}),
		ToolRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rustyclaw_tool_retries_total",
			Help: "Tool execution retries.",
		}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rustyclaw_approvals_total",
			Help: "Approval requests, by decision.",
		}, []string{"decision"}),
		SandboxContainers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rustyclaw_sandbox_containers_total",
			Help: "Sandbox container lifecycle events.",
		}, []string{"event"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rustyclaw_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
