package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func newTestSender(t *testing.T, srv *httptest.Server, defaults tenancy.Credentials) *CloudSender {
	t.Helper()
	s := NewCloudSender(SenderConfig{
		BaseURL:    srv.URL,
		APIVersion: "v20.0",
		Default:    defaults,
		HTTPClient: srv.Client(),
		Logger:     logging.Discard(),
	})
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestCloudSender_SendTextReturnsProviderID(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.123"}]}`))
	}))
	defer srv.Close()

	s := newTestSender(t, srv, tenancy.Credentials{})
	id, err := s.SendText(context.Background(), "+34 600 111 222", "Hola", tenancy.Credentials{PhoneNumberID: "pn-1", AccessToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", id)
	assert.Equal(t, "/v20.0/pn-1/messages", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "34600111222", gotBody["to"])
	assert.Equal(t, "text", gotBody["type"])
	assert.Equal(t, "Hola", gotBody["text"].(map[string]any)["body"])
}

func TestCloudSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
	}))
	defer srv.Close()

	s := newTestSender(t, srv, tenancy.Credentials{PhoneNumberID: "pn", AccessToken: "tok"})
	id, err := s.SendText(context.Background(), "34600111222", "Hola", tenancy.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "wamid.2", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCloudSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer srv.Close()

	s := newTestSender(t, srv, tenancy.Credentials{PhoneNumberID: "pn", AccessToken: "tok"})
	_, err := s.SendText(context.Background(), "34600111222", "Hola", tenancy.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 100: Invalid parameter")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCloudSender_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := newTestSender(t, srv, tenancy.Credentials{PhoneNumberID: "pn", AccessToken: "tok"})
	_, err := s.SendText(context.Background(), "34600111222", "Hola", tenancy.Credentials{})
	require.Error(t, err)
	assert.Equal(t, int32(defaultMaxAttempts), atomic.LoadInt32(&calls))
}

func TestCloudSender_NoCredentials(t *testing.T) {
	s := NewCloudSender(SenderConfig{Logger: logging.Discard()})
	_, err := s.SendText(context.Background(), "34600111222", "Hola", tenancy.Credentials{})
	assert.True(t, errors.Is(err, ErrNoCredentials))
}

func TestCloudSender_SendTemplatePayload(t *testing.T) {
	var got templatePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.t"}]}`))
	}))
	defer srv.Close()

	s := newTestSender(t, srv, tenancy.Credentials{PhoneNumberID: "pn", AccessToken: "tok"})
	id, err := s.SendTemplate(context.Background(), "34600111222", Template{
		Name:       "recordatorio_cita",
		Parameters: []string{"Ana", "2025-06-16", "10:00"},
	}, tenancy.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "wamid.t", id)
	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "recordatorio_cita", got.Template.Name)
	assert.Equal(t, "es", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	require.Len(t, got.Template.Components[0].Parameters, 3)
	assert.Equal(t, "Ana", got.Template.Components[0].Parameters[0].Text)
	assert.Equal(t, "10:00", got.Template.Components[0].Parameters[2].Text)
}

func TestCloudSender_RejectsEmptyBody(t *testing.T) {
	s := NewCloudSender(SenderConfig{Logger: logging.Discard()})
	_, err := s.SendText(context.Background(), "34600111222", "  ", tenancy.Credentials{PhoneNumberID: "pn", AccessToken: "tok"})
	assert.Error(t, err)
}
