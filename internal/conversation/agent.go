package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/audit"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var agentTracer = otel.Tracer("dental.internal.conversation")

// TurnState is the position of one inbound message in the agent loop.
type TurnState string

const (
	StateLoadingContext TurnState = "LOADING_CONTEXT"
	StateModelTurn      TurnState = "MODEL_TURN"
	StateToolExecution  TurnState = "TOOL_EXECUTION"
	StateFinalReply     TurnState = "FINAL_REPLY"
	StateAborted        TurnState = "ABORTED"
)

const defaultMaxToolRounds = 5

var (
	// ErrTurnBudgetExceeded aborts a turn whose model kept requesting tools.
	ErrTurnBudgetExceeded = errors.New("conversation: tool round budget exhausted")
	// ErrEmptyReply aborts a turn whose model produced neither text nor tool calls.
	ErrEmptyReply = errors.New("conversation: model returned an empty reply")
)

// InboundMessage is one patient message delivered by the channel.
type InboundMessage struct {
	SenderID          string `json:"sender_id"`
	Text              string `json:"text"`
	DisplayName       string `json:"display_name,omitempty"`
	TenantID          string `json:"tenant_id,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ButtonPayload     string `json:"button_payload,omitempty"`
}

// TurnResult reports how a turn ended. Reply is empty unless State is FINAL_REPLY.
type TurnResult struct {
	State     TurnState
	Reply     string
	Rounds    int
	TenantID  string
	ClientID  uuid.UUID
	MessageID string
}

// ClientDirectory resolves and updates patients.
type ClientDirectory interface {
	FindLatestByPhone(ctx context.Context, phone string) (*clients.Client, error)
	GetOrCreateLead(ctx context.Context, tenantID, phone, name string) (*clients.Client, error)
	SetPreferredClinic(ctx context.Context, tenantID string, clientID uuid.UUID, clinicID string) error
}

// TenantDirectory reads tenant configuration and clinics.
type TenantDirectory interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	ListClinics(ctx context.Context, tenantID string) ([]tenancy.Clinic, error)
}

// ReplySender delivers free text over the channel. Zero credentials select
// the process default.
type ReplySender interface {
	SendText(ctx context.Context, to, body string, creds tenancy.Credentials) (string, error)
}

// RescheduleRequester queues an appointment for the negotiation job.
type RescheduleRequester interface {
	RequestReschedule(ctx context.Context, appt *appointments.Appointment, reason string) error
}

// AgentDeps are the collaborators of the agent loop. Reschedule is optional;
// without it decline buttons go to the model like any other text.
type AgentDeps struct {
	LLM          ToolChatClient
	Clients      ClientDirectory
	Tenants      TenantDirectory
	Booking      BookingService
	Availability AvailabilityChecker
	Knowledge    KnowledgeSearcher
	History      messages.Log
	Sender       ReplySender
	Reschedule   RescheduleRequester
	Audit        *audit.Store
	Metrics      *metrics.AgentMetrics
	Logger       *logging.Logger
}

type agentConfig struct {
	maxRounds       int
	defaultTenantID string
	model           string
	maxTokens       int
	temperature     float32
}

// AgentOption customizes agent behavior.
type AgentOption func(*agentConfig)

// WithMaxToolRounds caps the model calls per inbound message.
func WithMaxToolRounds(n int) AgentOption {
	return func(cfg *agentConfig) {
		if n > 0 {
			cfg.maxRounds = n
		}
	}
}

// WithDefaultTenant sets the tenant used when routing and history give none.
func WithDefaultTenant(tenantID string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.defaultTenantID = strings.TrimSpace(tenantID)
	}
}

// WithModel overrides the chat model name.
func WithModel(model string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.model = strings.TrimSpace(model)
	}
}

// WithSampling sets max tokens and temperature for each round.
func WithSampling(maxTokens int, temperature float32) AgentOption {
	return func(cfg *agentConfig) {
		if maxTokens > 0 {
			cfg.maxTokens = maxTokens
		}
		if temperature >= 0 {
			cfg.temperature = temperature
		}
	}
}

// Agent runs the tool-calling loop for inbound patient messages.
type Agent struct {
	llm          ToolChatClient
	clients      ClientDirectory
	tenants      TenantDirectory
	booking      BookingService
	availability AvailabilityChecker
	knowledge    KnowledgeSearcher
	history      messages.Log
	sender       ReplySender
	reschedule   RescheduleRequester
	audit        *audit.Store
	metrics      *metrics.AgentMetrics
	logger       *logging.Logger
	tools        []ToolSpec
	cfg          agentConfig
}

// NewAgent validates the dependencies and builds an agent.
func NewAgent(deps AgentDeps, opts ...AgentOption) (*Agent, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("conversation: llm client is required")
	case deps.Clients == nil:
		return nil, errors.New("conversation: client directory is required")
	case deps.Tenants == nil:
		return nil, errors.New("conversation: tenant directory is required")
	case deps.Booking == nil || deps.Availability == nil:
		return nil, errors.New("conversation: booking and availability are required")
	case deps.Knowledge == nil:
		return nil, errors.New("conversation: knowledge searcher is required")
	case deps.History == nil:
		return nil, errors.New("conversation: message log is required")
	case deps.Sender == nil:
		return nil, errors.New("conversation: reply sender is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	cfg := agentConfig{maxRounds: defaultMaxToolRounds, maxTokens: 600, temperature: 0.3}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Agent{
		llm:          deps.LLM,
		clients:      deps.Clients,
		tenants:      deps.Tenants,
		booking:      deps.Booking,
		availability: deps.Availability,
		knowledge:    deps.Knowledge,
		history:      deps.History,
		sender:       deps.Sender,
		reschedule:   deps.Reschedule,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		logger:       logger,
		tools:        Catalog(),
		cfg:          cfg,
	}, nil
}

// Receive processes one inbound message. The returned result is always
// non-nil; err is set when the turn aborted.
func (a *Agent) Receive(ctx context.Context, msg InboundMessage) (*TurnResult, error) {
	ctx, span := agentTracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("tenant.id", msg.TenantID),
	))
	defer span.End()

	result := &TurnResult{State: StateLoadingContext}
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.SenderID == "" || msg.Text == "" {
		result.State = StateAborted
		return result, errors.New("conversation: inbound message needs a sender and text")
	}

	tc, err := a.loadContext(ctx, msg)
	if err != nil {
		return a.abort(ctx, span, result, nil, msg, "load_context", err)
	}
	result.TenantID, result.ClientID = tc.tenantID, tc.client.ID
	ctx = tenancy.WithTenantID(ctx, tc.tenantID)
	logger := a.logger.With("tenant_id", tc.tenantID, "client_id", tc.client.ID.String())

	if err := a.history.Append(ctx, &messages.Message{
		TenantID: tc.tenantID,
		ClientID: tc.client.ID,
		Role:     messages.RoleUser,
		Content:  msg.Text,
	}); err != nil {
		return a.abort(ctx, span, result, tc, msg, "log_inbound", err)
	}

	clock := a.booking.Clock()
	if appt := a.declinedAppointment(tc, msg); appt != nil {
		if err := a.reschedule.RequestReschedule(ctx, appt, msg.Text); err != nil {
			logger.Warn("reschedule request failed, handing turn to the model", "appointment_id", appt.ID.String(), "error", err)
		} else {
			logger.Info("reschedule requested by patient", "appointment_id", appt.ID.String())
			ack := fmt.Sprintf("Entendido. Buscaremos otro horario para tu cita del %s y te escribiremos con opciones en breve.",
				FormatSpanishSlot(clock.Local(appt.StartTime)))
			return a.deliver(ctx, span, result, tc, msg, ack, "reschedule_requested")
		}
	}

	conv := make([]ChatMessage, 0, len(tc.history)+8)
	conv = append(conv, ChatMessage{Role: ChatRoleSystem, Content: buildSystemPrompt(tc, clock)})
	for _, m := range tc.history {
		switch m.Role {
		case messages.RoleUser:
			conv = append(conv, ChatMessage{Role: ChatRoleUser, Content: m.Content})
		case messages.RoleAssistant:
			conv = append(conv, ChatMessage{Role: ChatRoleAssistant, Content: m.Content})
		}
	}
	conv = append(conv, ChatMessage{Role: ChatRoleUser, Content: msg.Text})

	var reply string
	for result.Rounds < a.cfg.maxRounds {
		result.State = StateModelTurn
		result.Rounds++
		resp, err := a.llm.Chat(ctx, ChatRequest{
			Model:       a.cfg.model,
			Messages:    conv,
			Tools:       a.tools,
			MaxTokens:   a.cfg.maxTokens,
			Temperature: a.cfg.temperature,
		})
		if err != nil {
			return a.abort(ctx, span, result, tc, msg, "model_turn", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			reply = strings.TrimSpace(resp.Message.Content)
			break
		}

		result.State = StateToolExecution
		conv = append(conv, ChatMessage{
			Role:      ChatRoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})
		for _, call := range resp.Message.ToolCalls {
			res, err := a.runTool(ctx, tc, call)
			if err != nil {
				return a.abort(ctx, span, result, tc, msg, "tool_execution", fmt.Errorf("%s: %w", call.Name, err))
			}
			logger.Debug("tool executed", "tool", call.Name, "ok", res.ok(), "round", result.Rounds)
			conv = append(conv, ChatMessage{Role: ChatRoleTool, ToolCallID: call.ID, Content: res.encode()})
		}
	}

	if result.State != StateModelTurn {
		result.State = StateAborted
		a.metrics.ObserveTurn("budget_exhausted", result.Rounds)
		logger.Warn("turn aborted: tool round budget exhausted", "rounds", result.Rounds)
		a.audit.Record(ctx, audit.Entry{
			TenantID: tc.tenantID,
			ClientID: tc.client.ID.String(),
			Step:     "turn_budget",
			Level:    audit.LevelError,
			Message:  ErrTurnBudgetExceeded.Error(),
			Details:  map[string]any{"rounds": result.Rounds, "sender_id": msg.SenderID},
		})
		return result, ErrTurnBudgetExceeded
	}
	if reply == "" {
		return a.abort(ctx, span, result, tc, msg, "model_turn", ErrEmptyReply)
	}

	return a.deliver(ctx, span, result, tc, msg, reply, "reply")
}

// deliver sends the final reply and logs it to the conversation history.
func (a *Agent) deliver(ctx context.Context, span trace.Span, result *TurnResult, tc *turnContext, msg InboundMessage, reply, outcome string) (*TurnResult, error) {
	logger := a.logger.With("tenant_id", tc.tenantID, "client_id", tc.client.ID.String())
	var creds tenancy.Credentials
	if tc.tenant != nil && tc.tenant.Config.Credentials.Configured() {
		creds = tc.tenant.Config.Credentials
	}
	messageID, err := a.sender.SendText(ctx, msg.SenderID, reply, creds)
	if err != nil {
		return a.abort(ctx, span, result, tc, msg, "send_reply", err)
	}
	result.State = StateFinalReply
	result.Reply = reply
	result.MessageID = messageID

	if err := a.history.Append(ctx, &messages.Message{
		TenantID: tc.tenantID,
		ClientID: tc.client.ID,
		Role:     messages.RoleAssistant,
		Content:  reply,
	}); err != nil {
		logger.Error("failed to log outbound reply", "error", err)
		a.audit.Record(ctx, audit.Entry{
			TenantID: tc.tenantID,
			ClientID: tc.client.ID.String(),
			Step:     "log_outbound",
			Level:    audit.LevelError,
			Message:  err.Error(),
		})
	}

	a.metrics.ObserveTurn(outcome, result.Rounds)
	logger.Info("turn completed", "rounds", result.Rounds, "message_id", messageID)
	return result, nil
}

// declinedAppointment returns the visit a decline button refers to: the
// soonest upcoming appointment, if it still expects the patient.
func (a *Agent) declinedAppointment(tc *turnContext, msg InboundMessage) *appointments.Appointment {
	if a.reschedule == nil || msg.ButtonPayload == "" || tc.tenant == nil {
		return nil
	}
	if !tc.tenant.Config.Templates.Reminder.IsDecline(msg.ButtonPayload) {
		return nil
	}
	if len(tc.upcoming) == 0 {
		return nil
	}
	// A visit already awaiting a new time means the tap was repeated.
	switch appt := tc.upcoming[0]; appt.Status {
	case appointments.StatusScheduled, appointments.StatusConfirmed, appointments.StatusRescheduled:
		return &appt
	}
	return nil
}

func (a *Agent) runTool(ctx context.Context, tc *turnContext, call ToolCall) (toolResult, error) {
	inv, err := parseToolCall(call)
	if err != nil {
		a.metrics.ObserveToolCall(call.Name, "invalid")
		return failure(err.Error()), nil
	}
	res, err := a.dispatch(ctx, tc, inv)
	if err != nil {
		a.metrics.ObserveToolCall(call.Name, "failed")
		return nil, err
	}
	if res.ok() {
		a.metrics.ObserveToolCall(call.Name, "success")
	} else {
		a.metrics.ObserveToolCall(call.Name, "error")
	}
	return res, nil
}

// abort ends the turn without a reply and leaves a durable trace.
func (a *Agent) abort(ctx context.Context, span trace.Span, result *TurnResult, tc *turnContext, msg InboundMessage, step string, err error) (*TurnResult, error) {
	span.RecordError(err)
	result.State = StateAborted

	entry := audit.Entry{
		TenantID: msg.TenantID,
		Step:     step,
		Level:    audit.LevelError,
		Message:  err.Error(),
		Details:  map[string]any{"sender_id": msg.SenderID, "rounds": result.Rounds},
	}
	if tc != nil {
		entry.TenantID = tc.tenantID
		if tc.client != nil {
			entry.ClientID = tc.client.ID.String()
		}
	}
	a.audit.Record(ctx, entry)
	a.metrics.ObserveTurn("error", result.Rounds)
	a.logger.Error("turn aborted", "step", step, "error", err,
		"tenant_id", entry.TenantID, "client_id", entry.ClientID, "sender_id", msg.SenderID)
	return result, fmt.Errorf("conversation: %s: %w", step, err)
}
