package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpmiddleware "github.com/wolfman30/dental-booking-agent/internal/http/middleware"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const readyTimeout = 2 * time.Second

// WebhookHandler is the inbound channel surface.
type WebhookHandler interface {
	Verify(w http.ResponseWriter, r *http.Request)
	Receive(w http.ResponseWriter, r *http.Request)
}

// ReadyCheck reports whether a dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhook        WebhookHandler
	MetricsHandler http.Handler
	// ReadyChecks run on /ready, keyed by dependency name.
	ReadyChecks map[string]ReadyCheck
	// WebhookRatePerSecond limits webhook calls per source IP; zero disables it.
	WebhookRatePerSecond float64
	WebhookBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", readyHandler(cfg.ReadyChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhook != nil {
		r.Route("/webhook", func(wr chi.Router) {
			if cfg.WebhookRatePerSecond > 0 {
				wr.Use(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookBurst))
			}
			wr.Get("/", cfg.Webhook.Verify)
			wr.Post("/", cfg.Webhook.Receive)
		})
	}

	return otelhttp.NewHandler(r, "dental.http",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/health" && req.URL.Path != "/metrics"
		}),
	)
}

func readyHandler(checks map[string]ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		writeJSON(w, status, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
