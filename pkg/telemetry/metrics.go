package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        prometheus.Histogram
	ToolCalls           *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec
	FragmentsTotal      *prometheus.CounterVec
	StreamRetries       *prometheus.CounterVec
	StreamExhausted     *prometheus.CounterVec
	TaskOutcomes        *prometheus.CounterVec
	PushNotifications   *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
	RouterRequestsTotal *prometheus.CounterVec
	RouterLatency       *prometheus.HistogramVec
	TokensUsed          *prometheus.CounterVec
	ScheduledJobs       *prometheus.CounterVec
}{
	TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "turns_total",
		Help:      "Total user turns by routing result (chat, tool, error).",
	}, []string{"result"}),

	TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "switchboard",
		Name:      "turn_duration_seconds",
		Help:      "Duration of a user turn from routing to the last fragment.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}),

	ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "tool_calls_total",
		Help:      "Total agent tool invocations by tool name and status.",
	}, []string{"tool", "status"}),

	ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "switchboard",
		Name:      "tool_duration_seconds",
		Help:      "Agent tool invocation duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"tool"}),

	FragmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "fragments_total",
		Help:      "Total fragments published by message type and visibility.",
	}, []string{"message_type", "visibility"}),

	StreamRetries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "stream_retries_total",
		Help:      "Reconnects after a truncated agent stream.",
	}, []string{"tool"}),

	StreamExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "stream_exhausted_total",
		Help:      "Streams abandoned after the retry budget was spent.",
	}, []string{"tool"}),

	TaskOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "task_outcomes_total",
		Help:      "Remote task outcomes by tool and outcome.",
	}, []string{"tool", "outcome"}),

	PushNotifications: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "push_notifications_total",
		Help:      "Push notifications received by verification status.",
	}, []string{"status"}),

	ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "switchboard",
		Name:      "active_websocket_connections",
		Help:      "Number of active WebSocket connections.",
	}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),

	RouterRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "router_requests_total",
		Help:      "Total routing requests by provider and model.",
	}, []string{"provider", "model"}),

	RouterLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "switchboard",
		Name:      "router_latency_seconds",
		Help:      "Routing decision latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider", "model"}),

	TokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "tokens_used_total",
		Help:      "Total tokens consumed by direction (input/output) and model.",
	}, []string{"direction", "model"}),

	ScheduledJobs: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "scheduled_jobs_total",
		Help:      "Housekeeping job runs by job name and status.",
	}, []string{"job", "status"}),
}
