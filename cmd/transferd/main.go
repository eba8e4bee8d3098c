package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/transfer_scheduler/internal/cleanup"
	"github.com/italolelis/transfer_scheduler/internal/config"
	"github.com/italolelis/transfer_scheduler/internal/connection"
	"github.com/italolelis/transfer_scheduler/internal/executor"
	"github.com/italolelis/transfer_scheduler/internal/http/rest"
	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/notifier"
	"github.com/italolelis/transfer_scheduler/internal/remote"
	"github.com/italolelis/transfer_scheduler/internal/remote/putio"
	s3remote "github.com/italolelis/transfer_scheduler/internal/remote/s3"
	"github.com/italolelis/transfer_scheduler/internal/remote/webdav"
	"github.com/italolelis/transfer_scheduler/internal/scheduler"
	"github.com/italolelis/transfer_scheduler/internal/storage/sqlite"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewContextHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("transferd starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	files := sqlite.NewInstrumentedFileRepository(database, tel)

	// =========================================================================
	// Start Remote Client
	client, err := buildRemoteClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build remote client: %w", err)
	}

	rc := remote.NewInstrumentedClient(client, tel)

	// =========================================================================
	// Start Scheduler
	sched := scheduler.New(
		scheduler.NewAsyncRunner(logger),
		executor.NewDownloadFactory(rc, files, cfg.TargetDir, tel),
		executor.NewUploadFactory(rc, tel),
		scheduler.WithMaxRunning(cfg.MaxRunning),
		scheduler.WithSyntheticStepDelay(cfg.SyntheticStepDelay),
		scheduler.WithTelemetry(tel),
		scheduler.WithLogger(logger),
	)

	svc := scheduler.NewService(sched, logger)
	conn := connection.New(svc, logger)
	svc.Attach(func(s *scheduler.Scheduler) { conn.OnBound(s) }, conn.OnUnbound)

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	setupNotification(gctx, g, conn, cfg)

	svc.Start()

	// =========================================================================
	// Start API Service
	events := rest.NewEventsHandler(conn, logger)
	server := setupServer(ctx, conn, events, tel, cfg)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.Info("waiting for transfers...",
		"remote_backend", client.Name(),
		"target_dir", cfg.TargetDir,
		"max_running", cfg.MaxRunning,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		cleanup.Run(gctx, files, cfg.KeepDownloadedFor, cfg.CleanupInterval)

		return nil
	})

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests and transfers a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		events.Close()

		var errs []error

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				errs = append(errs, fmt.Errorf("could not stop server gracefully: %w", err))
			}
		}

		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("could not stop transfers gracefully: %w", err))
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}

func setupNotification(ctx context.Context, g *errgroup.Group, conn *connection.Connection, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL == "" {
		logger.Info("notifications disabled")

		return
	}

	tn := notifier.NewTransferNotifier(&notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}, logger)
	conn.RegisterTransferListener(tn)

	g.Go(func() error {
		tn.Run(ctx)

		return nil
	})
}

// This is an abstract factory for the remote client.
func buildRemoteClient(ctx context.Context, cfg *config.Config) (remote.Client, error) {
	switch cfg.RemoteBackend {
	case config.BackendWebDAV:
		return webdav.NewClient(cfg.WebDAVBaseURL, cfg.WebDAVUsername, cfg.WebDAVPassword, nil), nil
	case config.BackendPutio:
		c := putio.NewClient(cfg.PutioToken)
		if err := c.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return c, nil
	case config.BackendS3:
		return s3remote.NewClient(ctx, s3remote.Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	}

	return nil, fmt.Errorf("invalid remote backend: %s", cfg.RemoteBackend)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	conn *connection.Connection,
	events *rest.EventsHandler,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewTransferHandler(conn, events, cfg.Web.Username, cfg.Web.Password, tel)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "transferd"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
