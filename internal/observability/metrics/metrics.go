package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dental"

// MessagingMetrics exposes counters/histograms for channel traffic.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound channel webhook events",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound channel sends",
		}, []string{"kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

// ObserveOutbound records a send; kind is "text" or "template".
func (m *MessagingMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

// AgentMetrics tracks the conversational tool-calling loop.
type AgentMetrics struct {
	turnsTotal     *prometheus.CounterVec
	modelRounds    prometheus.Histogram
	toolCallsTotal *prometheus.CounterVec
}

func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	m := &AgentMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Inbound messages processed by terminal state",
		}, []string{"outcome"}),
		modelRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "model_rounds",
			Help:      "Model round-trips per inbound message",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations requested by the model",
		}, []string{"tool", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.modelRounds, m.toolCallsTotal)
	return m
}

func (m *AgentMetrics) ObserveTurn(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.modelRounds.Observe(float64(rounds))
}

func (m *AgentMetrics) ObserveToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, result).Inc()
}

// BookingMetrics counts slot conflicts reported by the store.
type BookingMetrics struct {
	conflictsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "conflicts_total",
			Help:      "Bookings rejected by the slot exclusion constraint",
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.conflictsTotal)
	return m
}

func (m *BookingMetrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(operation).Inc()
}

// JobMetrics counts per-item outcomes of the scheduled jobs.
type JobMetrics struct {
	itemsTotal  *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "items_total",
			Help:      "Items handled by scheduled jobs",
		}, []string{"job", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of scheduled job runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.itemsTotal, m.runDuration)
	return m
}

func (m *JobMetrics) ObserveItem(job, result string) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(job, result).Inc()
}

func (m *JobMetrics) ObserveRun(job string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(job).Observe(seconds)
}
