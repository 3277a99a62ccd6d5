// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/assetgraph/internal/api"
	"github.com/starford/assetgraph/internal/assetservice"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/index"
	"github.com/starford/assetgraph/internal/mcpserver"
	"github.com/starford/assetgraph/internal/sse"
	"github.com/starford/assetgraph/internal/storage"
)

// runtime holds the components shared by every run mode.
type runtime struct {
	logger  *slog.Logger
	store   *storage.FS
	files   *storage.FileLoader
	fetcher *storage.HTTPLoader
	db      *index.DB
	svc     *assetservice.Service
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// setup opens the site and the index and builds the asset service. The
// caller closes rt.db.
func setup(cfg *Config, logger *slog.Logger, opts ...assetservice.Option) (*runtime, error) {
	if err := os.MkdirAll(cfg.Graph.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create site dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Graph.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	files := storage.NewFileLoader(store)
	fetcher := storage.NewHTTPLoader(
		storage.WithTimeout(cfg.Loader.HTTPTimeout),
		storage.WithBlockPrivate(cfg.Loader.BlockPrivate),
	)

	g := graph.New(
		graph.WithRoot(files.RootURL()),
		graph.WithCanonicalRoot(cfg.Graph.CanonicalRoot),
		graph.WithLoader(storage.Mux{
			"file":  files,
			"http":  fetcher,
			"https": fetcher,
		}),
		graph.WithLogger(logger),
	)

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	opts = append([]assetservice.Option{
		assetservice.WithLogger(logger),
		assetservice.WithFollow(assetservice.FollowPolicy(cfg.Graph.FollowSchemes, cfg.Graph.FollowCrossorigin)),
		assetservice.WithConcurrency(cfg.Loader.Concurrency),
		assetservice.WithWriteBack(cfg.Graph.WriteBack),
	}, opts...)
	svc := assetservice.New(g, store, db, opts...)

	return &runtime{
		logger:  logger,
		store:   store,
		files:   files,
		fetcher: fetcher,
		db:      db,
		svc:     svc,
	}, nil
}

// load builds the graph from the configured entry points.
func (rt *runtime) load(ctx context.Context, entries []string) (*assetservice.PopulateSummary, error) {
	start := time.Now()
	sum, err := rt.svc.Load(ctx, entries...)
	if err != nil {
		return sum, err
	}
	assets, relations := rt.svc.Counts()
	rt.logger.Info("graph loaded",
		slog.Int("assets", assets),
		slog.Int("relations", relations),
		slog.Int("failed", len(sum.Failed)),
		slog.Duration("took", time.Since(start)))
	for _, f := range sum.Failed {
		rt.logger.Warn("asset load failed", slog.String("url", f.URL), slog.String("error", f.Error))
	}
	return sum, nil
}

func configFrom(app *application) (*Config, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app.config, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	cfg, err := configFrom(app)
	if err != nil {
		return err
	}

	// Initialize structured JSON logger.
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("site_root", cfg.Graph.Root),
		slog.String("canonical_root", cfg.Graph.CanonicalRoot),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker doubles as the service notifier.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(cfg, logger, assetservice.WithNotifier(broker))
	if err != nil {
		return err
	}
	defer rt.db.Close()

	if _, err := rt.load(ctx, cfg.Graph.Entry); err != nil {
		logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := rt.db.Ping(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start site watcher with SSE callback.
	if cfg.Watch.Enabled {
		g.Go(func() error {
			err := index.Watch(gCtx, rt.store.Root(), rt.svc, logger, func(kind, path string) {
				broker.PublishAssetEvent(kind, rt.files.URL(path))
			}, index.WithDebounce(cfg.Watch.Debounce))
			if err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP loads the graph and serves MCP tools on stdin/stdout until the
// client disconnects. Logs go to stderr.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	cfg, err := configFrom(app)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	rt, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	if _, err := rt.load(ctx, cfg.Graph.Entry); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	srv := mcpserver.New(rt.svc,
		mcpserver.WithFetcher(rt.fetcher),
		mcpserver.WithLogger(logger),
	)
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Scan loads the graph once, refreshes the snapshot index and writes the
// population summary as JSON to out.
func Scan(ctx context.Context, out io.Writer, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	cfg, err := configFrom(app)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	rt, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	sum, err := rt.load(ctx, cfg.Graph.Entry)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if app.writeBack {
		n, err := rt.svc.WriteAll(ctx)
		if err != nil {
			return fmt.Errorf("write assets: %w", err)
		}
		logger.Info("assets written", slog.Int("count", n))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
