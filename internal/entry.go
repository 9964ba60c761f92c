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

	"github.com/starford/memoranda/internal/api"
	"github.com/starford/memoranda/internal/catalog"
	"github.com/starford/memoranda/internal/mcpserver"
	"github.com/starford/memoranda/internal/memostore"
	"github.com/starford/memoranda/internal/sse"
	"github.com/starford/memoranda/internal/storage"
	"github.com/starford/memoranda/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{
		version: "dev",
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. Stdout belongs to the protocol in
	// stdio mode.
	logger := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.App.Transport),
		slog.String("start_dir", cfg.Store.StartDir),
		slog.Bool("catalog", cfg.Catalog.Enabled),
		slog.Bool("watch", cfg.Store.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var broker *sse.Broker
	var storeOpts []memostore.Option
	if cfg.App.Transport == TransportHTTP {
		broker = sse.NewBroker(2 * time.Second)
		defer broker.Close()
		storeOpts = append(storeOpts, memostore.WithEventHook(broker.PublishMemoEvent))
	}

	env, err := openEnvironment(ctx, cfg, logger, storeOpts...)
	if err != nil {
		return err
	}
	defer env.Close()

	mcpSrv := mcpserver.New(env.store, app.version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Store.Watch {
		g.Go(func() error {
			if err := watcher.Watch(gCtx, env.store, logger); err != nil {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	var httpServer *http.Server
	switch cfg.App.Transport {
	case TransportHTTP:
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newHTTPHandler(cfg, env.store, mcpSrv, broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	default:
		g.Go(func() error {
			// The client closing stdin ends the session.
			defer cancel()
			logger.Info("Serving MCP over stdio")
			err := mcpSrv.ServeStdio(gCtx, app.stdin, app.stdout)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				return fmt.Errorf("stdio server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		if httpServer != nil {
			logger.Info("Shutting down server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
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

func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stdout
		if cfg.App.Transport != TransportHTTP {
			out = os.Stderr
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// environment is the opened storage stack shared by all commands.
type environment struct {
	fs     *storage.FS
	ledger *catalog.DB
	store  *memostore.Store
}

func (e *environment) Close() {
	if e.ledger != nil {
		_ = e.ledger.Close()
		e.ledger = nil
	}
}

func openEnvironment(ctx context.Context, cfg *Config, logger *slog.Logger, extra ...memostore.Option) (*environment, error) {
	startDir := cfg.Store.StartDir
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
		startDir = wd
	}

	fs, err := storage.Open(startDir, cfg.Store.ScopeOptions(),
		storage.WithRetryPolicy(cfg.Retry.Policy()),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	scope := fs.Scope()
	logger.Info("Memo scope discovered",
		slog.String("root", scope.Root),
		slog.String("primary", scope.Primary),
		slog.Int("dirs", len(scope.Dirs)))

	env := &environment{fs: fs}
	opts := []memostore.Option{
		memostore.WithLogger(logger),
		memostore.WithCacheCapacity(cfg.Cache.Capacity),
		memostore.WithSearchConfig(cfg.Search.Index()),
	}

	if cfg.Catalog.Enabled {
		path := cfg.Catalog.DatabasePath(scope.Primary)
		if cfg.Catalog.Path == "" {
			if err := os.MkdirAll(scope.Primary, 0o755); err != nil {
				return nil, fmt.Errorf("create memo dir: %w", err)
			}
		}
		db, err := catalog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		env.ledger = db
		opts = append(opts, memostore.WithLedger(db))
	}

	store, err := memostore.New(ctx, fs, append(opts, extra...)...)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	env.store = store
	return env, nil
}

func newHTTPHandler(cfg *Config, store *memostore.Store, mcpSrv *mcpserver.Server, broker *sse.Broker) http.Handler {
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
		stats := store.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"memos":       stats.Memos,
			"directories": stats.Directories,
		})
	})

	var sseHandler http.Handler
	if broker != nil {
		sseHandler = broker
	}
	r.Mount("/api", api.NewRouter(store, cfg.Auth.AuthEnabled(), cfg.Auth.Token, sseHandler))

	// MCP streamable HTTP transport.
	r.Handle("/mcp", api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)(mcpSrv.HTTPHandler()))

	return r
}
