// Package observability groups the Prometheus instruments for the service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	TasksCreated    prometheus.Counter
	TaskTransitions *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
}

// NewMetrics creates a Metrics set backed by its own registry, so multiple
// instances (one per server, one per test) never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2a_tasks_created_total",
			Help: "A2A tasks created.",
		}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_task_transitions_total",
			Help: "A2A task state transitions by target state.",
		}, []string{"state"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_events_emitted_total",
			Help: "A2A stream events emitted by type.",
		}, []string{"type"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "MCP tool calls made by the agent, by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler exposes this instance's registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
