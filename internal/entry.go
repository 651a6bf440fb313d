// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/threadnote/internal/api"
	"github.com/starford/threadnote/internal/enrich"
	"github.com/starford/threadnote/internal/inbox"
	"github.com/starford/threadnote/internal/live"
	"github.com/starford/threadnote/internal/mcpserver"
	"github.com/starford/threadnote/internal/metrics"
	"github.com/starford/threadnote/internal/recorder"
	"github.com/starford/threadnote/internal/storage"
	"github.com/starford/threadnote/internal/store"
	"github.com/starford/threadnote/internal/threadsync"
	"github.com/starford/threadnote/internal/transcribe"
)

const shutdownTimeout = 10 * time.Second

// components are the long-lived services shared by the HTTP and MCP modes.
type components struct {
	db     *store.DB
	broker *live.Broker
	svc    *threadsync.Service
	rec    *recorder.Service // nil when transcription is not configured
}

// close refuses new enrichment and drains the running ones, then stops the
// broker and the store.
func (c *components) close() {
	c.svc.Close()
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		slog.Error("close database", slog.String("error", err.Error()))
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (a *application) build(logger *slog.Logger) (*components, error) {
	cfg := a.config

	broker := live.NewBroker()
	db, err := store.Open(cfg.SQLite.Path, store.WithNotifier(broker))
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	syncOpts := []threadsync.Option{
		threadsync.WithLogger(logger),
		threadsync.WithEnrichmentTimeout(cfg.Enrichment.Timeout),
		threadsync.WithMaxConcurrentEnrichments(cfg.Enrichment.MaxConcurrency),
	}
	gen := a.generator
	if gen == nil && cfg.Enrichment.Enabled {
		gen = enrich.NewGeminiClient(enrich.GeminiConfig{
			BaseURL:          cfg.Enrichment.BaseURL,
			APIKey:           cfg.Enrichment.APIKey,
			Model:            cfg.Enrichment.Model,
			Timeout:          cfg.Enrichment.Timeout,
			FailureThreshold: cfg.Enrichment.FailureThreshold,
			CooldownPeriod:   cfg.Enrichment.Cooldown,
		})
	}
	if gen != nil {
		syncOpts = append(syncOpts, threadsync.WithEnricher(enrich.New(gen)))
	} else {
		logger.Warn("enrichment disabled; threads keep placeholder metadata")
	}
	svc := threadsync.New(db, broker, syncOpts...)

	c := &components{db: db, broker: broker, svc: svc}

	tr := a.transcriber
	if tr == nil && cfg.Transcription.Enabled() {
		tr = transcribe.NewDeepgram(transcribe.Config{
			APIKey:      cfg.Transcription.APIKey,
			BaseURL:     cfg.Transcription.BaseURL,
			StreamURL:   cfg.Transcription.StreamURL,
			Model:       cfg.Transcription.Model,
			Language:    cfg.Transcription.Language,
			SmartFormat: cfg.Transcription.SmartFormat,
			Timeout:     cfg.Transcription.Timeout,
		})
	}
	if tr == nil {
		logger.Warn("transcription disabled; recording endpoints answer 503")
		return c, nil
	}

	blobs, err := storage.NewFS(cfg.Recordings.Path)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("init recordings: %w", err)
	}
	c.rec = recorder.New(blobs, tr, svc,
		recorder.WithStreamer(tr),
		recorder.WithLogger(logger),
	)
	return c, nil
}

// newHandler builds the root router: health probes and metrics are public,
// everything else lives under /api.
func newHandler(cfg *Config, c *components) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api", api.NewRouter(c.svc, c.rec, cfg.Auth.AuthEnabled(), cfg.Auth.Token))
	return r
}

// newServer builds the HTTP server. Request contexts derive from a context
// that Shutdown cancels, so event streams and recording sockets end with it.
func newServer(cfg *Config, c *components) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHandler(cfg, c),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("recordings_path", cfg.Recordings.Path),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.Bool("enrichment_enabled", cfg.Enrichment.Enabled),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := app.build(logger)
	if err != nil {
		return err
	}
	defer c.close()

	httpServer := newServer(cfg, c)

	g, gCtx := errgroup.WithContext(ctx)

	// Audio drop folder.
	if cfg.Inbox.Enabled {
		if c.rec == nil {
			logger.Warn("inbox disabled: transcription not configured")
		} else {
			g.Go(func() error {
				return inbox.Watch(gCtx, cfg.Inbox.Path, c.rec, logger,
					func(rel string, res *recorder.Result, err error) {
						if err != nil {
							return
						}
						logger.Info("inbox recording saved",
							slog.String("file", rel),
							slog.String("thread_id", res.ThreadID))
					},
					inbox.WithDebounce(cfg.Inbox.Debounce),
				)
			})
		}
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdin/stdout. Logs go to stderr so they
// never interleave with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	logger := newLogger(os.Stderr, app.config.App.LogLevel)
	slog.SetDefault(logger)

	c, err := app.build(logger)
	if err != nil {
		return err
	}
	defer c.close()

	logger.Info("Starting MCP server on stdio")
	done := make(chan error, 1)
	go func() { done <- mcpserver.New(c.svc, c.rec).ServeStdio() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
