package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var sendTracer = otel.Tracer("dental.internal.messaging.cloud_send")

const (
	defaultBaseURL     = "https://graph.facebook.com"
	defaultAPIVersion  = "v20.0"
	defaultMaxAttempts = 3
)

// ErrNoCredentials is returned when neither tenant nor default credentials are set.
var ErrNoCredentials = errors.New("messaging: channel credentials missing")

// Template is a pre-approved provider template with ordered body parameters.
type Template struct {
	Name       string
	Language   string
	Parameters []string
}

// SenderConfig configures the Cloud API sender.
type SenderConfig struct {
	BaseURL    string
	APIVersion string
	// Default credentials apply when a call passes zero credentials.
	Default       tenancy.Credentials
	HTTPClient    *http.Client
	MaxAttempts   int
	RatePerSecond float64
	Metrics       *metrics.MessagingMetrics
	Logger        *logging.Logger
}

// CloudSender posts messages to the WhatsApp Cloud API.
type CloudSender struct {
	baseURL     string
	version     string
	defaults    tenancy.Credentials
	httpClient  *http.Client
	maxAttempts int
	limiter     *rate.Limiter
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewCloudSender builds a sender with sane defaults.
func NewCloudSender(cfg SenderConfig) *CloudSender {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	s := &CloudSender{
		baseURL:     baseURL,
		version:     version,
		defaults:    cfg.Default,
		httpClient:  httpClient,
		maxAttempts: attempts,
		metrics:     cfg.Metrics,
		logger:      logger,
		sleep:       sleepCtx,
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return s
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components,omitempty"`
	} `json:"template"`
}

// SendText sends a free-form text message and returns the provider message id.
func (s *CloudSender) SendText(ctx context.Context, to, body string, creds tenancy.Credentials) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", errors.New("messaging: body required")
	}
	p := textPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               RecipientID(to),
		Type:             "text",
	}
	p.Text.Body = body
	return s.send(ctx, "text", p.To, p, creds)
}

// SendTemplate sends a template message with body parameters in order.
func (s *CloudSender) SendTemplate(ctx context.Context, to string, tmpl Template, creds tenancy.Credentials) (string, error) {
	if strings.TrimSpace(tmpl.Name) == "" {
		return "", errors.New("messaging: template name required")
	}
	p := templatePayload{MessagingProduct: "whatsapp", To: RecipientID(to), Type: "template"}
	p.Template.Name = tmpl.Name
	p.Template.Language.Code = tmpl.Language
	if p.Template.Language.Code == "" {
		p.Template.Language.Code = "es"
	}
	if len(tmpl.Parameters) > 0 {
		comp := templateComponent{Type: "body"}
		for _, v := range tmpl.Parameters {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: v})
		}
		p.Template.Components = []templateComponent{comp}
	}
	return s.send(ctx, "template", p.To, p, creds)
}

func (s *CloudSender) send(ctx context.Context, kind, to string, payload any, creds tenancy.Credentials) (string, error) {
	if to == "" {
		return "", errors.New("messaging: recipient required")
	}
	if !creds.Configured() {
		creds = s.defaults
	}
	if !creds.Configured() {
		s.metrics.ObserveOutbound(kind, "no_credentials")
		return "", ErrNoCredentials
	}

	ctx, span := sendTracer.Start(ctx, "messaging.cloud.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.message.kind", kind),
		attribute.String("dental.phone_number_id", creds.PhoneNumberID),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("messaging: encode payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.version, creds.PhoneNumberID)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		id, retry, err := s.post(ctx, endpoint, creds.AccessToken, body)
		if err == nil {
			s.metrics.ObserveOutbound(kind, "sent")
			s.logger.Info("channel message sent", "kind", kind, "message_id", id, "attempt", attempt)
			return id, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		if attempt < s.maxAttempts {
			s.logger.Warn("channel send retry", "kind", kind, "attempt", attempt, "error", err)
			if err := s.sleep(ctx, time.Duration(200+rand.Intn(300))*time.Millisecond); err != nil {
				lastErr = err
				break
			}
		}
	}

	s.metrics.ObserveOutbound(kind, "failed")
	span.RecordError(lastErr)
	return "", lastErr
}

// post performs one request and reports whether a failure is worth retrying.
func (s *CloudSender) post(ctx context.Context, endpoint, token string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("messaging: http error: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Messages) == 0 {
			return "", false, fmt.Errorf("messaging: unexpected response: %s", strings.TrimSpace(string(data)))
		}
		return parsed.Messages[0].ID, false, nil
	}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return "", retry, fmt.Errorf("messaging: send failed: %s", formatAPIError(resp.StatusCode, data))
}

func formatAPIError(status int, body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		if parsed.Error.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Error.Code, parsed.Error.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Error.Message)
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
