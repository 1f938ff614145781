package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roomboard/passledger/internal/apikey"
	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/entitlements"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/idempotency"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/ratelimit"
	"github.com/roomboard/passledger/internal/reconcile"
	"github.com/roomboard/passledger/internal/storage"
	stripesvc "github.com/roomboard/passledger/internal/stripe"
)

var (
	serverStartTime = time.Now()
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Reconcile        *reconcile.Service
	Access           *entitlements.Service
	Store            storage.Store
	Catalog          entitlements.Catalog
	Resolver         auth.Resolver     // nil disables bearer-token identity
	Gateway          *gateway.Client
	Stripe           *stripesvc.Client // nil when Stripe is disabled
	IdempotencyStore idempotency.Store
	Breakers         *circuitbreaker.Manager
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	reconcile        *reconcile.Service
	access           *entitlements.Service
	store            storage.Store
	catalog          entitlements.Catalog
	resolver         auth.Resolver
	gateway          *gateway.Client
	stripe           *stripesvc.Client
	idempotencyStore idempotency.Store
	breakers         *circuitbreaker.Manager
	metrics          *metrics.Metrics
	logger           zerolog.Logger
	now              func() time.Time
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	return handlers{
		cfg:              cfg,
		reconcile:        deps.Reconcile,
		access:           deps.Access,
		store:            deps.Store,
		catalog:          deps.Catalog,
		resolver:         deps.Resolver,
		gateway:          deps.Gateway,
		stripe:           deps.Stripe,
		idempotencyStore: deps.IdempotencyStore,
		breakers:         deps.Breakers,
		metrics:          deps.Metrics,
		logger:           deps.Logger,
		now:              time.Now,
	}
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps)

	return s
}

// ConfigureRouter attaches passledger routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}
	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-API-Key"},
			ExposedHeaders:   []string{"X-Request-ID", idempotency.ReplayHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Logging runs before RequestID so the request-scoped logger is in context
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// API key tier lookup must precede rate limiting
	router.Use(apikey.Middleware(apikey.FromConfig(cfg.APIKey)))

	// Applied per route so gateway callbacks can skip them
	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	limiters := chi.Middlewares{
		ratelimit.GlobalLimiter(rateLimitCfg),
		ratelimit.UserLimiter(rateLimitCfg),
		ratelimit.IPLimiter(rateLimitCfg),
	}

	prefix := cfg.Server.RoutePrefix

	ttl := cfg.Idempotency.TTL.Duration
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	idempotencyMW := func(next http.Handler) http.Handler { return next }
	if deps.IdempotencyStore != nil {
		idempotencyMW = idempotency.Middleware(deps.IdempotencyStore, ttl)
	}

	for _, rt := range routeTable {
		rt := rt
		router.Group(func(r chi.Router) {
			if !rt.Callback {
				r.Use(limiters...)
			}
			r.Use(middleware.Timeout(rt.Timeout))
			if rt.Idempotent {
				r.Use(idempotencyMW)
			}
			r.Method(rt.Method, prefix+rt.Path, handler.handlerFor(rt.Kind))
		})
	}

	// Protected by the optional admin API key
	router.With(limiters...).
		With(middleware.Timeout(lightTimeout), adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
		Handle(prefix+"/metrics", promhttp.Handler())
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
