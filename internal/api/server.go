// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the gateway: the public object
// routes under /o/ plus the token-scoped admin API under /api/v1.
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thumbgate/thumbgate/internal/api/middleware"
	"github.com/thumbgate/thumbgate/internal/auth"
	"github.com/thumbgate/thumbgate/internal/config"
)

// adminRequestLimit is the per-IP one-minute budget for authenticated
// admin calls. It is fixed and generous so gateway traffic spikes can
// never starve operators out of their own API.
const adminRequestLimit = 600

// Server routes gateway and admin requests to the wired subsystems.
type Server struct {
	deps    Deps
	rwToken string
	roToken string

	mu  sync.RWMutex
	cfg config.Config

	gatewayLimit *middleware.RetunableLimit

	startTime time.Time
	handler   http.Handler
}

// New validates deps and assembles the router once.
func New(deps Deps) (*Server, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		deps:         deps,
		rwToken:      deps.Config.API.Token,
		roToken:      deps.Config.API.ReadToken,
		cfg:          deps.Config,
		gatewayLimit: middleware.NewRetunableLimit(deps.Config.API.RateRPS, deps.Config.API.RateBurst),
		startTime:    time.Now(),
	}
	h, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = h
	return s, nil
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.handler }

// config returns the current configuration snapshot.
func (s *Server) config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ApplyConfig installs a reloaded configuration: the status endpoint
// reflects it and the gateway limiter is retuned. Tokens and the router
// shape stay as built.
func (s *Server) ApplyConfig(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.gatewayLimit.Retune(cfg.API.RateRPS, cfg.API.RateBurst)
}

func (s *Server) routes() (http.Handler, error) {
	r, err := s.newRouter()
	if err != nil {
		return nil, err
	}
	s.registerPublicRoutes(r)
	s.registerAdminRoutes(r)
	return r, nil
}

// newRouter assembles the shared middleware stack. Rate limiting is not
// part of it: the gateway and admin subtrees carry separate budgets.
func (s *Server) newRouter() (*chi.Mux, error) {
	apiCfg := s.deps.Config.API
	trusted, err := middleware.ParseTrustedProxies(apiCfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	tracing := ""
	if s.deps.Config.Telemetry.Enabled {
		tracing = s.deps.Config.Telemetry.ServiceName
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            len(apiCfg.CORSOrigins) > 0,
		AllowedOrigins:        apiCfg.CORSOrigins,
		EnableSecurityHeaders: true,
		TrustedProxies:        trusted,
		EnableMetrics:         true,
		TracingService:        tracing,
		EnableLogging:         true,
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, http.StatusNotFound, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, http.StatusMethodNotAllowed, ErrMethodNotAllowed)
	})
	return r, nil
}

// registerPublicRoutes mounts the unauthenticated surface: liveness and
// readiness, the OpenAPI document, and the object gateway.
func (s *Server) registerPublicRoutes(r chi.Router) {
	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Get("/api/openapi.yaml", handleOpenAPI)

	r.Route("/o", func(r chi.Router) {
		r.Use(s.gatewayLimit.Middleware)
		r.Get("/*", s.handleObject)
		r.Head("/*", s.handleObject)
	})
}

// registerAdminRoutes mounts /api/v1. Reads need the ro scope, mutations
// the rw scope plus the tight mutation budget.
func (s *Server) registerAdminRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: adminRequestLimit,
			WindowSize:   time.Minute,
			Name:         "admin",
		}))

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))
			r.Get("/stats", s.handleStats)
			r.Get("/entries", s.handleEntries)
			r.Get("/status", s.handleStatus)
			r.Get("/verify/latest", s.handleVerifyLatest)
			r.Get("/verify/runs", s.handleVerifyRuns)
			r.Get("/verify/runs/{runID}", s.handleVerifyRun)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeWrite))
			r.Use(middleware.MutationRateLimit())
			r.Post("/purge", s.handlePurge)
			r.Post("/prewarm", s.handlePrewarm)
			r.Post("/verify", s.handleVerify)
		})
	})
}
