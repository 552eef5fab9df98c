// Package api implements the thin HTTP REST translation layer: CRUD over
// servers/tools/approvals, the policy-evaluate and tool-invoke endpoints,
// and the admin rollout surface, each a direct call into the core
// components (enforcement, registry, approval, cost, classifier,
// policy.Rollout). Authentication, persistence schemas, and the UI live
// outside this package — it only implements the boundary at which a
// verified principal (a JWT minted by an external IdP) enters the core.
//
// Routing is built on go-chi/chi because the route set combines path
// params with cursor query params and per-route RBAC, which outgrows
// bare http.ServeMux patterns quickly.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apathy-ca/sark/internal/adapter"
	"github.com/apathy-ca/sark/internal/approval"
	"github.com/apathy-ca/sark/internal/audit"
	"github.com/apathy-ca/sark/internal/budget"
	"github.com/apathy-ca/sark/internal/classifier"
	"github.com/apathy-ca/sark/internal/config"
	"github.com/apathy-ca/sark/internal/cost"
	"github.com/apathy-ca/sark/internal/enforcement"
	"github.com/apathy-ca/sark/internal/governance"
	"github.com/apathy-ca/sark/internal/policy"
	"github.com/apathy-ca/sark/internal/principal"
	"github.com/apathy-ca/sark/internal/ratelimit"
	"github.com/apathy-ca/sark/internal/registry"
)

// Server is the REST surface: a thin translation layer over the core
// components.
type Server struct {
	cfg config.ServerConfig
	rl  config.RateLimitConfig

	pipeline   *enforcement.Pipeline
	registry   *registry.Registry
	caps       *registry.CapabilityStore
	overrides  *classifier.OverrideStore
	approvals  *approval.Queue
	costReg    *cost.Registry
	budgetTrk  *budget.Tracker
	auditPipe  *audit.Pipeline
	rollout    *policy.Rollout
	adapters   *adapter.Registry
	emergency  *governance.EmergencySwitch
	allowlist  *governance.Allowlist
	bgOverride *governance.OverrideStore
	limiter    *ratelimit.Limiter
	verifier   *principal.Verifier
	jwtSecret  []byte
	policyLdr  *policy.DocumentLoader
	policyDir  string

	wsHub      *EventHub
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps bundles every core component the API layer calls into. Built once
// at startup (cmd/sark) and passed in, never constructed by Server
// itself, keeping dependency wiring explicit instead of relying on
// package-level globals.
type Deps struct {
	Pipeline   *enforcement.Pipeline
	Registry   *registry.Registry
	Caps       *registry.CapabilityStore
	Overrides  *classifier.OverrideStore
	Approvals  *approval.Queue
	CostReg    *cost.Registry
	BudgetTrk  *budget.Tracker
	Audit      *audit.Pipeline
	Rollout    *policy.Rollout
	Adapters   *adapter.Registry
	Emergency  *governance.EmergencySwitch
	Allowlist  *governance.Allowlist
	BGOverride *governance.OverrideStore
	Limiter    *ratelimit.Limiter
	Verifier   *principal.Verifier
	// JWTSecret signs tokens minted by handleLogin/handleRefresh in dev
	// mode and by `sark token issue`. Production deployments that verify
	// an external IdP's asymmetric signatures leave this nil and disable
	// the login/refresh routes (see handleLogin).
	JWTSecret []byte
	// PolicyLoader and PolicyDir back /admin/policy/reload and `sark
	// policy reload`; the background policy.Watcher (cmd/sark) already
	// hot-reloads on fsnotify events, this route is for deployments that
	// disable the watcher or want an explicit operator-triggered reload.
	PolicyLoader *policy.DocumentLoader
	PolicyDir    string
}

// NewServer builds the Server and registers every route.
func NewServer(cfg config.ServerConfig, rl config.RateLimitConfig, d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		rl:         rl,
		pipeline:   d.Pipeline,
		registry:   d.Registry,
		caps:       d.Caps,
		overrides:  d.Overrides,
		approvals:  d.Approvals,
		costReg:    d.CostReg,
		budgetTrk:  d.BudgetTrk,
		auditPipe:  d.Audit,
		rollout:    d.Rollout,
		adapters:   d.Adapters,
		emergency:  d.Emergency,
		allowlist:  d.Allowlist,
		bgOverride: d.BGOverride,
		limiter:    d.Limiter,
		verifier:   d.Verifier,
		jwtSecret:  d.JWTSecret,
		policyLdr:  d.PolicyLoader,
		policyDir:  d.PolicyDir,
		wsHub:      NewEventHub(logger, cfg.CORS),
		logger:     logger.With("component", "api.Server"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.CORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-SARK-Override-PIN"},
		}))
	}

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	// Bypassed from rate limiting per ratelimit.IsBypassed and carries no
	// principal, so it sits outside the /api/v1 authenticated group.
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/auth/login/{provider}", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Post("/servers", s.handleRegisterServer)
		r.Get("/servers", s.handleListServers)
		r.Get("/servers/{id}", s.handleGetServer)
		r.Delete("/servers/{id}", s.handleDecommissionServer)

		r.Post("/bulk/servers/register", s.handleBulkRegisterServers)
		r.Patch("/bulk/servers/status", s.handleBulkUpdateStatus)

		r.Get("/tools", s.handleListTools)
		r.Get("/tools/{id}/sensitivity", s.handleGetToolSensitivity)
		r.Patch("/tools/{id}/sensitivity", s.handleSetToolSensitivity)

		r.Post("/policy/evaluate", s.handlePolicyEvaluate)
		r.Post("/tools/invoke", s.handleToolInvoke)

		r.Post("/approvals/request", s.handleRequestApproval)
		r.Get("/approvals", s.handleListApprovals)
		r.Post("/approvals/{id}/approve", s.handleDecideApproval(true))
		r.Post("/approvals/{id}/deny", s.handleDecideApproval(false))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireAdmin)

		r.Post("/rollout/set", s.handleRolloutSet)
		r.Post("/rollout/rollback", s.handleRolloutRollback)
		r.Post("/rollout/rollback-all", s.handleRolloutRollbackAll)
		r.Get("/rollout/status", s.handleRolloutStatus)

		r.Post("/emergency/activate", s.handleEmergencyActivate)
		r.Post("/emergency/deactivate", s.handleEmergencyDeactivate)

		r.Post("/overrides", s.handleMintOverride)

		r.Post("/policy/reload", s.handlePolicyReload)

		r.Get("/events/stream", s.wsHub.HandleWebSocket)
	})

	return r
}

// authenticate verifies the bearer token (when a Verifier is configured)
// and stores the resulting Principal on the request context. With no
// Verifier configured the server runs in single-tenant/dev mode and every
// request is attributed to a synthetic admin principal — useful for the
// CLI's own requests and for local development, never the production
// default, which always configures a Verifier.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			ctx := principal.WithContext(r.Context(), principal.Principal{ID: "dev", Roles: []principal.Role{principal.RoleAdmin}})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeSarkError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		p, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeSarkError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}
		ctx := principal.WithContext(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := principal.FromContext(r.Context())
		if !p.IsAdmin() {
			writeSarkError(w, http.StatusForbidden, "forbidden_policy", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces rate limiting at the HTTP boundary: a 429 with the
// standard X-RateLimit-* headers on denial, fail-open on an unconfigured
// limiter, and a bypass for health/metrics routes.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || !s.rl.Enabled || ratelimit.IsBypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		p, _ := principal.FromContext(r.Context())
		if p.IsAdmin() && s.rl.AdminBypass {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		ident := ratelimit.Identifier(apiKey, p.ID, "", r)
		limit := s.rl.PerIP
		switch {
		case apiKey != "":
			limit = s.rl.PerAPIKey
		case p.ID != "":
			limit = s.rl.PerUser
		}

		info := s.limiter.Check(ident, limit, s.rl.WindowSeconds)
		ratelimit.WriteHeaders(w, info)
		if !info.Allowed {
			writeSarkError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Start runs the HTTP server on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("api server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections and closes the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BroadcastAuditEvent pushes an event to every connected
// /admin/events/stream client.
func (s *Server) BroadcastAuditEvent(ev audit.Event) {
	s.wsHub.Broadcast(ev)
}
