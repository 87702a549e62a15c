// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring sandbox traffic and the tool surface.
package observability

import "github.com/prometheus/client_golang/prometheus"

// SandboxBuckets covers sandbox call latencies from 10ms (file API) up to
// the multi-minute ceiling of long-running commands.
var SandboxBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 180}

var (
	// RequestsTotal counts HTTP requests served by the tool surface.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boyong_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boyong_request_duration_seconds",
			Help:    "Request duration",
			Buckets: SandboxBuckets,
		},
		[]string{"method"},
	)

	// SandboxRequestsTotal counts calls to the remote sandbox REST API by
	// endpoint and outcome ("ok", "refused", "transport_error" or the HTTP
	// status class).
	SandboxRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boyong_sandbox_requests_total",
			Help: "Sandbox API requests",
		},
		[]string{"endpoint", "status"},
	)

	// SandboxLatency records sandbox REST call latency in seconds.
	SandboxLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boyong_sandbox_latency_seconds",
			Help:    "Sandbox API latency",
			Buckets: SandboxBuckets,
		},
		[]string{"endpoint"},
	)

	// SandboxSessionsActive tracks remote sessions opened and not yet ended.
	SandboxSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boyong_sandbox_sessions_active",
			Help: "Active sandbox sessions",
		},
	)

	// ToolExecutionsTotal counts code execution tool calls by runtime and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boyong_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"runtime", "status"},
	)

	// TerminalRetriesTotal counts terminal commands retried after a state reset.
	TerminalRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boyong_terminal_retries_total",
			Help: "Terminal command retries",
		},
	)

	// AuthRejectedTotal counts requests rejected by the auth middleware,
	// labelled by reason (unauthenticated, rate_limited).
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boyong_auth_rejected_total",
			Help: "Requests rejected by authentication or rate limiting",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SandboxRequestsTotal,
		SandboxLatency,
		SandboxSessionsActive,
		ToolExecutionsTotal,
		TerminalRetriesTotal,
		AuthRejectedTotal,
	)
}
