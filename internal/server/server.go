// Package server builds the application's dependency graph from configuration
// and runs it under the lifecycle coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/api"
	"github.com/JakeFAU/certlookup/internal/archive"
	"github.com/JakeFAU/certlookup/internal/browser"
	"github.com/JakeFAU/certlookup/internal/clock/system"
	"github.com/JakeFAU/certlookup/internal/config"
	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/hash/sha256"
	"github.com/JakeFAU/certlookup/internal/id/uuid"
	"github.com/JakeFAU/certlookup/internal/lifecycle"
	"github.com/JakeFAU/certlookup/internal/lookup"
	memorypublisher "github.com/JakeFAU/certlookup/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/certlookup/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/certlookup/internal/storage/gcs"
	localstorage "github.com/JakeFAU/certlookup/internal/storage/local"
	memorystorage "github.com/JakeFAU/certlookup/internal/storage/memory"
	pgstore "github.com/JakeFAU/certlookup/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	coordinator *lifecycle.Coordinator
	httpServer  *http.Server
	pool        *browser.Pool
	lookups     *lookup.Orchestrator
	history     grading.LookupHistory
	apiServer   *api.Server

	factory grading.SessionFactory
}

// Option customises Build.
type Option func(*App)

// WithSessionFactory replaces the configured browser driver.
func WithSessionFactory(f grading.SessionFactory) Option {
	return func(a *App) {
		a.factory = f
	}
}

// Build creates the application's dependencies. Cleanup handlers run in
// registration order: the HTTP server drains first, then browser sessions,
// then the event, archive, and history backends.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		coordinator: lifecycle.New(lifecycle.Config{
			CleanupTimeout: cfg.Server.ShutdownTimeout,
		}, logger.Named("lifecycle")),
	}
	for _, opt := range opts {
		opt(app)
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("browser_driver", cfg.Browser.Driver),
		zap.String("history_backend", cfg.History.Backend),
		zap.String("events_backend", cfg.Events.Backend),
	)

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.coordinator.AddCleanupHandler("http-server", app.httpServer.Shutdown)

	if app.factory == nil {
		app.factory = newSessionFactory(cfg, logger)
	}
	app.pool = browser.NewPool(app.factory, app.coordinator, logger.Named("pool"))

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	snapshots, err := setupArchive(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	recorder, err := setupHistory(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}

	scrapers := setupScrapers(cfg, app.pool, newLimiter(cfg), snapshots, logger)
	app.lookups = lookup.New(
		scrapers,
		recorder,
		publisher,
		system.New(),
		uuid.New(),
		lookup.Config{Topic: cfg.Events.Topic},
		logger,
	)

	app.apiServer = api.NewServer(app.lookups, api.Options{
		History:        app.history,
		Ready:          app.ready,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)
	app.httpServer.Handler = app.apiServer.Handler()

	return app, nil
}

// abort releases whatever Build had already acquired.
func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.coordinator.ExecuteCleanup(ctx)
	return err
}

func (a *App) ready(context.Context) error {
	if a.pool.Closed() {
		return grading.ErrPoolClosed
	}
	return nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server until a signal, a fatal error, or ctx ends, then
// runs cleanup once and returns the process exit code.
func (a *App) Serve(ctx context.Context) int {
	a.coordinator.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return a.coordinator.Run(ctx)
}

// Lookup runs one aggregate lookup outside the HTTP server.
func (a *App) Lookup(ctx context.Context, cert grading.CertificationNumber) (grading.LookupResult, error) {
	return a.lookups.Lookup(ctx, cert)
}

// Sources lists the registered grading services.
func (a *App) Sources() []grading.ServiceKey {
	return a.lookups.Sources()
}

// Close runs every cleanup handler once.
func (a *App) Close(ctx context.Context) {
	a.coordinator.ExecuteCleanup(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func setupPublisher(ctx context.Context, app *App) (grading.Publisher, error) {
	switch app.cfg.Events.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, app.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client)
		app.coordinator.AddCleanupHandler("pubsub-publisher", pub.Close)
		app.coordinator.AddCleanupHandler("pubsub-client", func(context.Context) error {
			return client.Close()
		})
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.Events.ProjectID),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return pub, nil
	case "memory":
		app.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("event publication disabled")
		return nil, nil
	}
}

func setupArchive(ctx context.Context, app *App) (grading.Snapshotter, error) {
	cfg := app.cfg.Archive
	if !cfg.Enabled {
		app.logger.Info("snapshot archive disabled")
		return nil, nil
	}
	var store grading.BlobStore
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.coordinator.AddCleanupHandler("gcs-client", func(context.Context) error {
			return client.Close()
		})
		store, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot archive", zap.String("bucket", cfg.GCSBucket))
	case "local":
		var err error
		store, err = localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot archive", zap.String("path", cfg.BaseDir))
	default:
		app.logger.Info("using in-memory snapshot archive")
		store = memorystorage.NewBlobStore()
	}
	return archive.New(store, sha256.New(), cfg.Prefix), nil
}

func setupHistory(ctx context.Context, app *App) (grading.LookupRecorder, error) {
	if app.cfg.History.Backend != "postgres" {
		app.logger.Info("using in-memory lookup history")
		store := memorystorage.NewLookupStore()
		app.history = store
		return store, nil
	}
	store, err := pgstore.NewLookupStore(ctx, pgstore.LookupStoreConfig{
		DSN:      app.cfg.History.DSN,
		Table:    app.cfg.History.Table,
		MaxConns: app.cfg.History.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup store init failed: %w", err)
	}
	app.coordinator.AddCleanupHandler("lookup-store", func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("lookup store schema: %w", err)
	}
	app.logger.Info("lookup store initialized", zap.String("table", app.cfg.History.Table))
	app.history = store
	return store, nil
}
