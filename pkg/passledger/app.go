package passledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/dbpool"
	"github.com/roomboard/passledger/internal/entitlements"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/httpserver"
	"github.com/roomboard/passledger/internal/idempotency"
	"github.com/roomboard/passledger/internal/lifecycle"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/notifications"
	"github.com/roomboard/passledger/internal/reconcile"
	"github.com/roomboard/passledger/internal/storage"
	stripesvc "github.com/roomboard/passledger/internal/stripe"
)

// Version is reported in logs and overridden at build time via -ldflags.
var Version = "dev"

// App wires the ledger components for embedding or standalone serving.
type App struct {
	Config           *config.Config
	Store            storage.Store
	Catalog          entitlements.Catalog
	Reconcile        *reconcile.Service
	Access           *entitlements.Service
	Notifier         notifications.Notifier
	Resolver         auth.Resolver
	Gateway          *gateway.Client
	Stripe           *stripesvc.Client
	Breakers         *circuitbreaker.Manager
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger

	router    chi.Router
	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	notifier   notifications.Notifier
	mailer     notifications.Mailer
	resolver   auth.Resolver
	router     chi.Router
	logger     *zerolog.Logger
	registerer prometheus.Registerer
}

// WithStore sets a custom ledger store. The caller keeps ownership of it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier replaces the built-in notification dispatcher.
func WithNotifier(notifier notifications.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithMailer overrides the configured email provider.
func WithMailer(mailer notifications.Mailer) Option {
	return func(o *options) {
		o.mailer = mailer
	}
}

// WithResolver injects the bearer-token identity resolver.
func WithResolver(resolver auth.Resolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithLogger sets the application logger instead of building one from config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// NewApp assembles the ledger services. Close releases what it opened.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("passledger: config required")
	}

	optState := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	var appLogger zerolog.Logger
	if optState.logger != nil {
		appLogger = *optState.logger
	} else {
		appLogger = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "passledger",
			Version:     Version,
			Environment: cfg.Logging.Environment,
		})
	}

	app := &App{
		Config:    cfg,
		Catalog:   entitlements.NewCatalog(cfg.Plans),
		Metrics:   metrics.New(optState.registerer),
		Logger:    appLogger,
		resources: lifecycle.NewManager(appLogger),
	}

	if err := app.init(optState); err != nil {
		_ = app.resources.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(o options) error {
	cfg := a.Config

	if o.store != nil {
		a.Store = o.store
	} else {
		store, err := OpenStore(context.Background(), cfg.Storage, a.resources)
		if err != nil {
			return err
		}
		a.Store = store
		if cfg.Storage.Backend == "memory" {
			a.Logger.Warn().Msg("passledger: in-memory ledger loses every pass on restart; do not use in production")
		}
	}
	backend := cfg.Storage.Backend
	if backend == "" {
		backend = "auto"
	}
	a.Store = storage.WithMetrics(a.Store, a.Metrics, backend)

	a.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, a.Logger)

	if o.notifier != nil {
		a.Notifier = o.notifier
	} else {
		mailer := o.mailer
		if mailer == nil {
			var err error
			if mailer, err = notifications.NewMailer(cfg.Notifications, a.Logger); err != nil {
				return err
			}
		}
		dispatcher, err := notifications.NewDispatcher(cfg.Notifications, a.Store, mailer,
			notifications.WithLogger(a.Logger),
			notifications.WithMetrics(a.Metrics),
			notifications.WithBreakers(a.Breakers),
		)
		if err != nil {
			return err
		}
		// Registered after the store so in-flight notices drain before it closes
		a.resources.Register("notifications", dispatcher)
		a.Notifier = dispatcher
	}

	verifier := auth.NewSignatureVerifier(cfg.Gateway.Passphrase, cfg.Gateway.Sandbox)
	if verifier.Sandbox() {
		a.Logger.Warn().Msg("passledger: gateway sandbox mode, webhook signatures are NOT verified")
	}

	a.Reconcile = reconcile.NewService(idempotency.NewGuard(a.Store), a.Catalog, verifier,
		reconcile.WithLogger(a.Logger),
		reconcile.WithMetrics(a.Metrics),
		reconcile.WithNotifier(a.Notifier),
	)
	a.Access = entitlements.NewService(a.Store, cfg.Ledger.QueryTimeout.Duration, a.Logger, a.Metrics)

	switch {
	case o.resolver != nil:
		a.Resolver = o.resolver
	default:
		// Assign only a non-nil pointer so the interface stays nil when identity is off
		if r := auth.NewHTTPResolver(cfg.Identity, a.Breakers, a.Logger); r != nil {
			a.Resolver = r
		}
	}

	a.Gateway = gateway.NewClient(cfg.Gateway)
	if cfg.Stripe.Enabled {
		a.Stripe = stripesvc.NewClient(cfg.Stripe, a.Breakers)
	}

	idem, err := openIdempotencyStore(cfg.Idempotency, a.Logger)
	if err != nil {
		return err
	}
	a.IdempotencyStore = idem
	a.resources.Register("idempotency-store", idem)

	a.router = o.router
	if a.router == nil {
		a.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(a.router, cfg, a.Deps())
	return nil
}

// OpenStore opens the configured ledger backend and registers it (and any shared
// Postgres pool) with resources. Database backends create their schema on open.
func OpenStore(ctx context.Context, cfg config.StorageConfig, resources *lifecycle.Manager) (storage.Store, error) {
	storeCfg := storage.StoreConfigFrom(cfg)

	var sharedDB *dbpool.SharedPool
	if (cfg.Backend == "postgres" || cfg.Backend == "") && cfg.PostgresURL != "" {
		pool, err := dbpool.NewSharedPool(ctx, cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		resources.Register("postgres-pool", pool)
		sharedDB = pool
	}

	var (
		store storage.Store
		err   error
	)
	if sharedDB != nil {
		store, err = storage.NewStoreWithDB(storeCfg, sharedDB.DB())
	} else {
		store, err = storage.NewStore(storeCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	resources.Register("storage", store)
	return store, nil
}

func openIdempotencyStore(cfg config.IdempotencyConfig, log zerolog.Logger) (idempotency.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		return idempotency.NewRedisStore(cfg.RedisURL, log)
	case "", "memory":
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

// Deps returns the services in the shape the HTTP layer expects.
func (a *App) Deps() httpserver.Deps {
	return httpserver.Deps{
		Reconcile:        a.Reconcile,
		Access:           a.Access,
		Store:            a.Store,
		Catalog:          a.Catalog,
		Resolver:         a.Resolver,
		Gateway:          a.Gateway,
		Stripe:           a.Stripe,
		IdempotencyStore: a.IdempotencyStore,
		Breakers:         a.Breakers,
		Metrics:          a.Metrics,
		Logger:           a.Logger,
	}
}

// Router returns the chi router with passledger routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// NewServer returns a standalone HTTP server bound to Config.Server.Address.
func (a *App) NewServer() *httpserver.Server {
	return httpserver.New(a.Config, a.Deps())
}

// Close drains the dispatcher and releases stores and connections.
func (a *App) Close() error {
	return a.resources.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding passledger.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
