package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/convertscout/awesome-ai-prompts-sub000/internal/middleware"
)

// HandlerSet holds handler functions injected by the cli to avoid import cycles.
type HandlerSet struct {
	// Generator handlers
	GeneratePrompt http.HandlerFunc
	GetQuota       http.HandlerFunc
	ListUsage      http.HandlerFunc
	UsageStats     http.HandlerFunc
	PromptTypes    http.HandlerFunc

	// ListEvents is nil without the postgres ledger.
	ListEvents http.HandlerFunc

	// Auth middleware for the read endpoints
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck is one dependency probed by the readiness endpoint.
// A nil Check reports "not configured".
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins  []string
	GenerateRateLimiter func(http.Handler) http.Handler
	HealthChecks        []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, hc := range cfg.HealthChecks {
			switch {
			case hc.Check == nil:
				health[hc.Name] = "not configured"
			case hc.Check(ctx) != nil:
				health[hc.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			default:
				health[hc.Name] = "healthy"
			}
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The generate route authenticates inside the handler so that its
		// 401 body is part of the generator flow.
		r.Group(func(r chi.Router) {
			if cfg.GenerateRateLimiter != nil {
				r.Use(cfg.GenerateRateLimiter)
			}
			r.Post("/generate-prompt", h.GeneratePrompt)
		})

		r.Route("/generator", func(r chi.Router) {
			r.Get("/prompt-types", h.PromptTypes)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Get("/quota", h.GetQuota)
				r.Get("/usage", h.ListUsage)
				r.Get("/usage/stats", h.UsageStats)
				if h.ListEvents != nil {
					r.Get("/events", h.ListEvents)
				}
			})
		})
	})

	return r
}
