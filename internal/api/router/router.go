package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/care-whatsapp-bot/internal/http/middleware"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// WebhookHandler serves a chat provider's webhook endpoints.
type WebhookHandler interface {
	HandleVerification(w http.ResponseWriter, r *http.Request)
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WhatsApp       WebhookHandler
	MetricsHandler http.Handler
	// WebhookRatePerMinute limits webhook calls per client IP. Zero disables it.
	WebhookRatePerMinute int
	// WebhookLimiter, when set, replaces the limiter built from WebhookRatePerMinute.
	WebhookLimiter *httpmiddleware.RateLimiter
	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsApp != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			if cfg.WebhookLimiter != nil {
				wh.Use(cfg.WebhookLimiter.Middleware)
			} else {
				wh.Use(httpmiddleware.RateLimit(cfg.WebhookRatePerMinute))
			}
			wh.Get("/", cfg.WhatsApp.HandleVerification)
			wh.Post("/", cfg.WhatsApp.HandleWebhook)
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
