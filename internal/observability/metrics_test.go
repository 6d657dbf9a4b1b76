package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromptCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.PromptReceived("terminal")
	m.PromptReceived("terminal")
	m.PromptReceived("bus")
	m.PromptDropped("queue_full")

	expected := `
		# HELP agent_prompts_total Total prompts accepted by the conversation monitor
		# TYPE agent_prompts_total counter
		agent_prompts_total{source="bus"} 1
		agent_prompts_total{source="terminal"} 2
	`
	if err := testutil.CollectAndCompare(m.PromptCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected prompt counter state: %v", err)
	}
	if got := testutil.ToFloat64(m.PromptsDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("dropped counter = %v, want 1", got)
	}
}

func TestConversationGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConversationStarted()
	m.ConversationStarted()
	if got := testutil.ToFloat64(m.ActiveConversations); got != 2 {
		t.Errorf("active conversations = %v, want 2", got)
	}
	m.ConversationsStopped()
	if got := testutil.ToFloat64(m.ActiveConversations); got != 0 {
		t.Errorf("active conversations after stop = %v, want 0", got)
	}
}

func TestRunMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RunFailed("resolve")
	m.RunFailed("resolve")
	m.RunFailed("start")
	m.RunCompleted("downloader", 1.5)

	if got := testutil.ToFloat64(m.RunsFailed.WithLabelValues("resolve")); got != 2 {
		t.Errorf("resolve failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RunsFailed.WithLabelValues("start")); got != 1 {
		t.Errorf("start failures = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.RunDuration); count != 1 {
		t.Errorf("run duration series = %d, want 1", count)
	}
}

func TestBusMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.BusMessage("inbound", "ok")
	m.BusDeadLetter("missing_field")
	m.BusDeadLetter("missing_field")

	if got := testutil.ToFloat64(m.BusMessages.WithLabelValues("inbound", "ok")); got != 1 {
		t.Errorf("bus inbound ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BusDeadLetters.WithLabelValues("missing_field")); got != 2 {
		t.Errorf("dead letters = %v, want 2", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.PromptReceived("terminal")
	m.PromptDropped("queue_full")
	m.ConversationStarted()
	m.ConversationsStopped()
	m.RunFailed("run")
	m.RunCompleted("downloader", 1)
	m.ApprovalResolved("approved")
	m.ToolExecuted("chat", "success")
	m.BusMessage("outbound", "error")
	m.BusDeadLetter("invalid_agent_id")
	m.ResourceNotified("updated")
	m.ClientConnected()
	m.ClientDisconnected()
	m.RecordHTTPRequest("GET", "/healthz", "200", 0.01)
}
