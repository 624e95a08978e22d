package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/pixora-labs/pixora/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Legacy media endpoints, answering with a bare {message} on failure
	Generate http.HandlerFunc
	Upscale  http.HandlerFunc
	Upload   http.HandlerFunc

	// Async jobs
	CreateJob http.HandlerFunc
	GetJob    http.HandlerFunc
	CancelJob http.HandlerFunc
	Estimate  http.HandlerFunc

	GetQuota http.HandlerFunc

	ListHistory    http.HandlerFunc
	ListFavorites  http.HandlerFunc
	AddFavorite    http.HandlerFunc
	RemoveFavorite http.HandlerFunc

	ListAudit http.HandlerFunc

	AuthMiddleware   func(http.Handler) http.Handler
	MediaRateLimiter func(http.Handler) http.Handler

	// UploadsDir is served under /uploads/ when set.
	UploadsDir string
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	// Checks are run by /health/ready, keyed by dependency name. A nil
	// check marks the dependency as not configured.
	Checks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, ErrMethodNotAllowed)
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	readiness := readinessHandler(cfg.Checks)
	r.Get("/health/ready", readiness)
	r.Get("/health", readiness)

	r.Handle("/metrics", promhttp.Handler())

	if h.UploadsDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.UploadsDir)))
		r.Handle("/uploads/*", fs)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			if h.MediaRateLimiter != nil {
				r.Use(h.MediaRateLimiter)
			}
			r.Post("/generate", h.Generate)
			r.Post("/upscale", h.Upscale)
			r.Post("/upload", h.Upload)
		})

		r.Route("/v1", func(r chi.Router) {
			r.Get("/estimate", h.Estimate)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)

				r.Route("/jobs", func(r chi.Router) {
					if h.MediaRateLimiter != nil {
						r.With(h.MediaRateLimiter).Post("/", h.CreateJob)
					} else {
						r.Post("/", h.CreateJob)
					}
					r.Get("/{id}", h.GetJob)
					r.Delete("/{id}", h.CancelJob)
				})

				r.Get("/quota", h.GetQuota)
				r.Get("/history", h.ListHistory)

				r.Route("/favorites", func(r chi.Router) {
					r.Get("/", h.ListFavorites)
					r.Post("/", h.AddFavorite)
					r.Delete("/", h.RemoveFavorite)
				})

				r.Get("/audit", h.ListAudit)
			})
		})
	})

	return r
}

func readinessHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for name, check := range checks {
			if check == nil {
				health[name] = "not configured"
				continue
			}
			if err := check(r.Context()); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}
}

// writeRouteError answers in the legacy {message} shape outside /api/v1.
func writeRouteError(w http.ResponseWriter, r *http.Request, err *AppError) {
	if strings.HasPrefix(r.URL.Path, "/api/v1") {
		HandleError(w, err)
		return
	}
	HandleMessageError(w, err)
}
