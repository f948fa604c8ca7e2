package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Ingest defaults used when the configuration leaves them unset.
const (
	defaultIngestConcurrency = 16
	defaultIngestTimeout     = 15 * time.Second

	// ingestBacklogTimeout is how long a notification may wait for a slot.
	ingestBacklogTimeout = 30 * time.Second
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Device pushes. Devices cannot send bearer tokens.
		r.Group(func(r chi.Router) {
			r.Use(s.ingestBodyLimitMiddleware)
			r.Use(middleware.ThrottleBacklog(s.ingestConcurrency(), s.cfg.Ingest.MaxBacklog, ingestBacklogTimeout))
			r.Use(middleware.Timeout(s.ingestTimeout()))
			r.Post("/notify/{brand}", s.handleNotify)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(s.bodySizeLimitMiddleware)
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Get("/{id}", s.handleGetEvent)
			})

			r.Post("/credentials/{id}/sync", s.handleSyncCredential)
			r.Post("/users/{id}/sync", s.handleSyncUser)

			r.Get("/audit", s.handleListAudit)

			r.Route("/devices/{id}", func(r chi.Router) {
				r.Get("/subjects/{subjectID}/image", s.handleSubjectImage)
				r.Post("/raw", s.handleRawRequest)
			})
		})
	})

	return r
}

func (s *Server) ingestConcurrency() int {
	if s.cfg.Ingest.MaxConcurrent > 0 {
		return s.cfg.Ingest.MaxConcurrent
	}
	return defaultIngestConcurrency
}

func (s *Server) ingestTimeout() time.Duration {
	if s.cfg.Ingest.Timeout > 0 {
		return time.Duration(s.cfg.Ingest.Timeout) * time.Second
	}
	return defaultIngestTimeout
}

// healthTimeout bounds each dependency check of the health endpoint.
const healthTimeout = 2 * time.Second

// handleHealth returns the server health status. Optional dependencies that
// fail their check make the status "degraded" but never fail the request.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{}
	check := func(name string, hc HealthChecker) {
		if hc == nil {
			return
		}
		if err := hc.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	check("mqtt", s.deps.MQTT)
	check("influxdb", s.deps.InfluxDB)
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	status := "ok"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.deps.Version,
		"checks":  checks,
	})
}
