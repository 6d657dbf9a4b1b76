// Package observability collects the Prometheus metrics the agent
// exposes on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the application metric set. Components receive the whole
// struct and record through the helper methods, which tolerate a nil
// receiver so tests can pass nothing.
type Metrics struct {
	// PromptCounter counts prompts accepted by the monitor.
	// Labels: source (terminal|bot|web|bus|once)
	PromptCounter *prometheus.CounterVec

	// PromptsDropped counts prompts the monitor could not queue.
	// Labels: reason (queue_full|invalid)
	PromptsDropped *prometheus.CounterVec

	// ActiveConversations gauges conversations with a live worker.
	ActiveConversations prometheus.Gauge

	// RunsFailed counts runs that never produced a healthy stream.
	// Labels: reason (resolve|start|run)
	RunsFailed *prometheus.CounterVec

	// RunDuration measures full run latency in seconds.
	// Labels: agent_id
	RunDuration *prometheus.HistogramVec

	// ApprovalCounter counts tool approval resolutions.
	// Labels: result (approved|approved_and_remember|rejected|auto_approved)
	ApprovalCounter *prometheus.CounterVec

	// ToolExecutions counts tool calls served by the MCP server side.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// BusMessages counts bus traffic.
	// Labels: direction (inbound|outbound), status (ok|error)
	BusMessages *prometheus.CounterVec

	// BusDeadLetters counts messages routed to the dead-letter subject.
	// Labels: reason
	BusDeadLetters *prometheus.CounterVec

	// ResourceNotifications counts MCP resource notifications sent.
	// Labels: kind (updated|list_changed)
	ResourceNotifications *prometheus.CounterVec

	// WSConnections gauges connected browser clients.
	WSConnections prometheus.Gauge

	// HTTPRequestCounter counts HTTP API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers the metric set. A nil registerer
// means the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PromptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_prompts_total",
				Help: "Total prompts accepted by the conversation monitor",
			},
			[]string{"source"},
		),
		PromptsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_prompts_dropped_total",
				Help: "Prompts the monitor dropped instead of queueing",
			},
			[]string{"reason"},
		),
		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_active_conversations",
				Help: "Conversations with a live monitor worker",
			},
		),
		RunsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_failed_total",
				Help: "Runs that failed before or while streaming",
			},
			[]string{"reason"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of full agent runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent_id"},
		),
		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_approvals_total",
				Help: "Tool approval resolutions by result",
			},
			[]string{"result"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_executions_total",
				Help: "Tool executions served to MCP clients",
			},
			[]string{"tool", "status"},
		),
		BusMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bus_messages_total",
				Help: "Message bus traffic by direction and status",
			},
			[]string{"direction", "status"},
		),
		BusDeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bus_dead_letters_total",
				Help: "Bus messages routed to the dead-letter subject",
			},
			[]string{"reason"},
		),
		ResourceNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_resource_notifications_total",
				Help: "MCP resource notifications pushed to subscribers",
			},
			[]string{"kind"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_ws_connections",
				Help: "Currently connected browser clients",
			},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_http_requests_total",
				Help: "Total HTTP API requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// PromptReceived counts an accepted prompt.
func (m *Metrics) PromptReceived(source string) {
	if m == nil {
		return
	}
	m.PromptCounter.WithLabelValues(source).Inc()
}

// PromptDropped counts a prompt the monitor discarded.
func (m *Metrics) PromptDropped(reason string) {
	if m == nil {
		return
	}
	m.PromptsDropped.WithLabelValues(reason).Inc()
}

// ConversationStarted bumps the live-conversation gauge.
func (m *Metrics) ConversationStarted() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

// ConversationsStopped zeroes the live-conversation gauge at shutdown.
func (m *Metrics) ConversationsStopped() {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(0)
}

// RunFailed counts a failed run.
func (m *Metrics) RunFailed(reason string) {
	if m == nil {
		return
	}
	m.RunsFailed.WithLabelValues(reason).Inc()
}

// RunCompleted records the latency of a finished run.
func (m *Metrics) RunCompleted(agentID string, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(agentID).Observe(seconds)
}

// ApprovalResolved counts one approval decision.
func (m *Metrics) ApprovalResolved(result string) {
	if m == nil {
		return
	}
	m.ApprovalCounter.WithLabelValues(result).Inc()
}

// ToolExecuted counts one served tool call.
func (m *Metrics) ToolExecuted(tool, status string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}

// BusMessage counts one bus message.
func (m *Metrics) BusMessage(direction, status string) {
	if m == nil {
		return
	}
	m.BusMessages.WithLabelValues(direction, status).Inc()
}

// BusDeadLetter counts one dead-lettered message.
func (m *Metrics) BusDeadLetter(reason string) {
	if m == nil {
		return
	}
	m.BusDeadLetters.WithLabelValues(reason).Inc()
}

// ResourceNotified counts one resource notification.
func (m *Metrics) ResourceNotified(kind string) {
	if m == nil {
		return
	}
	m.ResourceNotifications.WithLabelValues(kind).Inc()
}

// ClientConnected bumps the websocket connection gauge.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// ClientDisconnected drops the websocket connection gauge.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
