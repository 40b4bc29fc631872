package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var webhookTracer = otel.Tracer("dental.internal.messaging.webhook")

const maxWebhookBody = 1 << 20

// InboundPublisher hands inbound messages to the conversation worker.
type InboundPublisher interface {
	EnqueueInbound(ctx context.Context, msg conversation.InboundMessage) (string, error)
}

// TenantResolver maps the receiving phone number id to a tenant.
type TenantResolver interface {
	GetTenantByRoutingID(ctx context.Context, routingID string) (*tenancy.Tenant, error)
}

// InboundEvent is one patient message extracted from a webhook delivery.
type InboundEvent struct {
	MessageID   string
	SenderID    string
	DisplayName string
	RoutingID   string
	Type        string
	Text        string
	Payload     string
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Button struct {
			Text    string `json:"text"`
			Payload string `json:"payload"`
		} `json:"button"`
		Interactive struct {
			ButtonReply struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"button_reply"`
			ListReply struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"list_reply"`
		} `json:"interactive"`
	} `json:"messages"`
}

// ParseWebhook extracts text-bearing message events. Status callbacks and
// media without text are ignored.
func ParseWebhook(body []byte) ([]InboundEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	var events []InboundEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				var text, payload string
				switch m.Type {
				case "text":
					text = m.Text.Body
				case "button":
					text, payload = m.Button.Text, m.Button.Payload
				case "interactive":
					text, payload = m.Interactive.ButtonReply.Title, m.Interactive.ButtonReply.ID
					if text == "" {
						text = m.Interactive.ListReply.Title
					}
				}
				text = strings.TrimSpace(text)
				if text == "" || m.From == "" {
					continue
				}
				events = append(events, InboundEvent{
					MessageID:   m.ID,
					SenderID:    RecipientID(m.From),
					DisplayName: names[m.From],
					RoutingID:   v.Metadata.PhoneNumberID,
					Type:        m.Type,
					Text:        text,
					Payload:     strings.TrimSpace(payload),
				})
			}
		}
	}
	return events, nil
}

// WebhookHandler serves the channel webhook.
type WebhookHandler struct {
	verifyToken string
	publisher   InboundPublisher
	tenants     TenantResolver
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(verifyToken string, publisher InboundPublisher, tenants TenantResolver, m *metrics.MessagingMetrics, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		publisher:   publisher,
		tenants:     tenants,
		metrics:     m,
		logger:      logger,
	}
}

// Verify answers the subscription handshake (GET).
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// Receive handles message deliveries (POST). It always answers 200 so the
// provider does not redeliver; failures are logged.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook.receive")
	defer span.End()
	defer func() {
		h.metrics.ObserveWebhookLatency("message", time.Since(start).Seconds())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		span.RecordError(err)
		h.metrics.ObserveInbound("message", "read_error")
		return
	}
	events, err := ParseWebhook(body)
	if err != nil {
		h.logger.Error("failed to parse webhook", "error", err)
		span.RecordError(err)
		h.metrics.ObserveInbound("message", "parse_error")
		return
	}
	span.SetAttributes(attribute.Int("dental.webhook.events", len(events)))

	for _, ev := range events {
		msg := conversation.InboundMessage{
			SenderID:          ev.SenderID,
			Text:              ev.Text,
			DisplayName:       ev.DisplayName,
			TenantID:          h.resolveTenant(ctx, ev.RoutingID),
			ProviderMessageID: ev.MessageID,
			ButtonPayload:     ev.Payload,
		}
		publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		jobID, err := h.publisher.EnqueueInbound(publishCtx, msg)
		cancel()
		if err != nil {
			h.logger.Error("failed to enqueue inbound message", "error", err, "tenant_id", msg.TenantID, "message_id", ev.MessageID)
			span.RecordError(err)
			h.metrics.ObserveInbound(ev.Type, "enqueue_error")
			continue
		}
		h.metrics.ObserveInbound(ev.Type, "enqueued")
		h.logger.Debug("inbound message enqueued", "job_id", jobID, "tenant_id", msg.TenantID, "message_id", ev.MessageID)
	}
}

// resolveTenant returns "" when the routing id is unknown; the agent then
// falls back to the sender's stored tenant or the default.
func (h *WebhookHandler) resolveTenant(ctx context.Context, routingID string) string {
	if h.tenants == nil || routingID == "" {
		return ""
	}
	t, err := h.tenants.GetTenantByRoutingID(ctx, routingID)
	if err != nil {
		if !errors.Is(err, tenancy.ErrTenantNotFound) {
			h.logger.Warn("tenant lookup failed", "routing_id", routingID, "error", err)
		}
		return ""
	}
	return t.ID
}
