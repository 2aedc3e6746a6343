// Package app provides the unified application lifecycle management for Strata.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/stratadb/strata/internal/api/http"
	"github.com/stratadb/strata/internal/cache"
	"github.com/stratadb/strata/internal/catalog"
	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/internal/events"
	"github.com/stratadb/strata/internal/ledger"
	"github.com/stratadb/strata/internal/rowstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/server"
	"github.com/stratadb/strata/internal/storage"
)

// App manages the Strata service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	db        *catalog.DB
	rows      *rowstore.Manager
	pageCache cache.PageCache
	objects   storage.ObjectStorage
	notifier  events.Notifier
	orch      *dataset.Orchestrator
	shutdown  *server.ShutdownManager

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.startHTTPServer(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Printf("Strata started")
	return nil
}

// initSharedResources opens the catalog and row store, and wires the cache,
// object storage, event notifier, and orchestrator.
func (a *App) initSharedResources(ctx context.Context) error {
	shutdownConfig := server.DefaultShutdownConfig()
	a.shutdown = server.NewShutdownManager(shutdownConfig)

	db, err := catalog.Open(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.db = db
	a.shutdown.RegisterCloser(db)
	log.Printf("Catalog initialized: %s", a.cfg.CatalogPath())

	rows, err := rowstore.Open(a.cfg.RowStorePath(), a.cfg.Ingest.ChunkSize)
	if err != nil {
		return fmt.Errorf("failed to open row store: %w", err)
	}
	a.rows = rows
	a.shutdown.RegisterCloser(rows)
	log.Printf("Row store initialized: %s (chunk_size=%d)", a.cfg.RowStorePath(), rows.ChunkSize())

	switch a.cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, a.cfg.Cache.Redis.Addr,
			a.cfg.Cache.Redis.Password, a.cfg.Cache.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.pageCache = rc
	default:
		a.pageCache = cache.NewMemoryCache()
	}
	a.shutdown.RegisterCloser(a.pageCache)
	log.Printf("Pagination cache initialized: type=%s ttl=%s", a.cfg.Cache.Type, a.cfg.Cache.TTL)

	switch a.cfg.Storage.Type {
	case "local":
		a.objects, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.objects, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
		})
	case "none":
		a.objects = nil
	}
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}
	if a.objects != nil {
		a.shutdown.RegisterCloser(a.objects)
	}
	log.Printf("Object storage initialized: type=%s", a.cfg.Storage.Type)

	if a.cfg.Events.Enabled {
		kn := events.NewKafkaNotifier(a.cfg.Events.Brokers, a.cfg.Events.Topic)
		a.notifier = kn
		a.shutdown.RegisterCloser(kn)
		log.Printf("Event notifier initialized: topic=%s brokers=%v", a.cfg.Events.Topic, a.cfg.Events.Brokers)
	} else {
		a.notifier = events.NopNotifier{}
	}

	a.orch = dataset.NewOrchestrator(a.db, schema.NewRegistry(a.db), ledger.NewLedger(a.db),
		a.rows, a.pageCache, a.objects, a.notifier)
	a.orch.SetCacheTTL(a.cfg.Cache.TTL)

	return nil
}

// startHTTPServer wires the API routes behind the middleware chain and
// starts listening.
func (a *App) startHTTPServer() error {
	router := httpapi.NewRouter(a.orch, a.cfg.HTTP.MaxUploadBytes)

	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux.Handle("/v1/", middleware(router))
	mux.HandleFunc("/health", a.healthHandler())

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the service and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	if a.shutdown != nil {
		if err := a.shutdown.Shutdown(ctx, "app stopped"); err != nil {
			log.Printf("Resource cleanup error: %v", err)
		}
	}

	log.Printf("Strata stopped")
	return nil
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.shutdown != nil {
		a.shutdown.Shutdown(context.Background(), "startup failed")
	}
}

// Orchestrator exposes the wired orchestrator, used by the CLI tools.
func (a *App) Orchestrator() *dataset.Orchestrator {
	return a.orch
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// healthHandler returns a health check handler.
func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"strata"}`)
	}
}
