// Package web provides the HTTP API for imports, exports and scheduled
// exports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/bulkio/internal/config"
	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/delivery"
	"github.com/JonMunkholm/bulkio/internal/schedule"
	webmw "github.com/JonMunkholm/bulkio/internal/web/middleware"
)

// Server is the HTTP server for the bulk import/export API.
type Server struct {
	service   *core.Service
	schedules *schedule.Registry
	downloads *delivery.DownloadStore
	cfg       *config.Config
	router    *chi.Mux
	server    *http.Server
	started   time.Time
}

// NewServer creates a Server. schedules and downloads may be nil when the
// scheduler is disabled; their routes then answer 503.
func NewServer(service *core.Service, schedules *schedule.Registry, downloads *delivery.DownloadStore, cfg *config.Config) *Server {
	s := &Server{
		service:   service,
		schedules: schedules,
		downloads: downloads,
		cfg:       cfg,
		router:    chi.NewRouter(),
		started:   time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes. Progress streams sit outside the
// timeout and compression middleware.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(webmw.APIKeyAuth(&s.cfg.Security))

		r.Get("/operations/{operationID}/progress", s.handleOperationProgress)
		r.Get("/jobs/{jobID}/progress", s.handleJobProgress)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/status", s.handleStatus)
			r.Get("/entities", s.handleListEntities)

			// Imports
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(newRateLimiter(s.cfg.Rate.ImportLimit, time.Minute).middleware)
				}
				r.Post("/imports/{entityType}", s.handleStartImport)
			})
			r.Get("/imports/{operationID}/result", s.handleImportResult)

			// Exports
			r.Post("/exports", s.handleStartExport)
			r.Get("/exports/{operationID}/download", s.handleExportDownload)

			r.Get("/operations/{operationID}", s.handleOperation)

			// Scheduled exports
			r.Get("/schedules", s.handleListSchedules)
			r.Post("/schedules", s.handleCreateSchedule)
			r.Get("/schedules/{configID}", s.handleGetSchedule)
			r.Put("/schedules/{configID}", s.handleUpdateSchedule)
			r.Delete("/schedules/{configID}", s.handleDeleteSchedule)
			r.Post("/schedules/{configID}/enable", s.handleSetScheduleEnabled(true))
			r.Post("/schedules/{configID}/disable", s.handleSetScheduleEnabled(false))
			r.Post("/schedules/{configID}/trigger", s.handleTriggerSchedule)
			r.Get("/schedules/{configID}/jobs", s.handleListJobs)
			r.Get("/jobs/{jobID}", s.handleGetJob)

			r.Get("/artifacts/{filename}", s.handleArtifactDownload)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window request counter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	now      func() time.Time
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// allow consumes a token for ip. Stale visitors are swept on the way.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.visitors) > 1024 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastReset) > rl.window*2 {
				delete(rl.visitors, k)
			}
		}
	}

	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// TrustedRealIP has already rewritten RemoteAddr for proxied requests.
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondErrorJSON(w, core.MapError(errRateLimited), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
