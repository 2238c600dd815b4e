package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/triage-engine/internal/conversation"
	"github.com/wolfman30/triage-engine/internal/crisis"
	httpmiddleware "github.com/wolfman30/triage-engine/internal/http/middleware"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// HealthCheck reports a dependency problem, or nil.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	CrisisHandler       *crisis.Handler
	AlertStream         http.Handler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
	RateLimiter         *httpmiddleware.RateLimiter
	HealthChecks        map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminAuthSecret != "" && cfg.CrisisHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(scopeAdminOrg)

			h := cfg.CrisisHandler
			admin.Route("/crisis", func(c chi.Router) {
				c.Get("/alerts", h.ListAlerts)
				c.Put("/alerts/bulk-acknowledge", h.BulkAcknowledge)
				c.Get("/alerts/{id}", h.GetAlert)
				c.Put("/alerts/{id}/acknowledge", h.Acknowledge)
				c.Put("/alerts/{id}/escalate", h.Escalate)
				c.Put("/alerts/{id}/resolve", h.Resolve)
				c.Get("/stats", h.Stats)
				if cfg.AlertStream != nil {
					c.Handle("/stream", cfg.AlertStream)
				}
			})
			admin.Get("/responders/availability", h.Availability)
			admin.Put("/responders/{id}/status", h.UpdateResponderStatus)
		})
	}

	if cfg.ConversationHandler != nil {
		r.Route("/v1", func(tenant chi.Router) {
			tenant.Use(requireOrgID)
			if cfg.RateLimiter != nil {
				tenant.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			h := cfg.ConversationHandler
			tenant.Post("/turns", h.ProcessTurn)
			tenant.Post("/turns/async", h.EnqueueTurn)
			tenant.Get("/jobs/{id}", h.GetJob)
			tenant.Post("/sessions/{id}/end", h.EndSession)
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		resp := map[string]any{"status": "ok"}
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["checks"] = failed
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
