package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMessagingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("message", "queued")
	m.ObserveOutbound("template", "sent")
	m.ObserveWebhookLatency("message", 0.2)
}

func TestAgentMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAgentMetrics(reg)
	m.ObserveTurn("final_reply", 2)
	m.ObserveTurn("aborted", 5)
	m.ObserveTurn("aborted", 5)
	m.ObserveToolCall("book_appointment", "success")

	if got := counterValue(t, reg, "dental_agent_turns_total", "outcome", "aborted"); got != 2 {
		t.Fatalf("expected 2 aborted turns, got %v", got)
	}
	if got := counterValue(t, reg, "dental_agent_tool_calls_total", "tool", "book_appointment"); got != 1 {
		t.Fatalf("expected 1 tool call, got %v", got)
	}
}

func TestJobAndBookingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs := NewJobMetrics(reg)
	booking := NewBookingMetrics(reg)
	jobs.ObserveItem("reminder", "sent")
	jobs.ObserveRun("reminder", 1.5)
	booking.ObserveConflict("book")

	if got := counterValue(t, reg, "dental_booking_conflicts_total", "operation", "book"); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var msg *MessagingMetrics
	msg.ObserveInbound("event", "status")
	msg.ObserveOutbound("text", "sent")
	msg.ObserveWebhookLatency("event", 0.1)

	var agent *AgentMetrics
	agent.ObserveTurn("final_reply", 1)
	agent.ObserveToolCall("x", "y")

	var booking *BookingMetrics
	booking.ObserveConflict("book")

	var jobs *JobMetrics
	jobs.ObserveItem("review", "sent")
	jobs.ObserveRun("review", 1)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
