package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/spf13/cobra"

	"docimage/docs"
	"docimage/internal/config"
	"docimage/internal/database"
	"docimage/internal/database/migration"
	handlers "docimage/internal/http/handler"
	"docimage/internal/http/middleware"
	"docimage/internal/logging"
	"docimage/internal/otel"
	"docimage/internal/recorder"
	"docimage/internal/repository/postgres"
	"docimage/internal/service"
	"docimage/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	watchDebounce   = 250 * time.Millisecond
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg := opts.cfg
	logger := logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		logger.Error("tracing_init_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing_shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	db, sinks := openMirror(ctx, cfg, logger)
	if db != nil {
		defer db.Close()
	}

	base, err := newCore(cfg, logger, opts.registry, sinks...)
	if err != nil {
		logger.Error("startup_failed", slog.String("error", err.Error()))
		return err
	}

	if cfg.Image.WatchMapping {
		w, err := base.cache.Watch(ctx, watchDebounce)
		if err != nil {
			logger.Warn("mapping_watch_unavailable", slog.String("error", err.Error()))
		} else {
			defer w.Close()
		}
	}

	imageOpts := []service.ImageOption{
		service.WithImageLogger(logger),
		service.WithImageMetrics(base.metrics),
	}
	if origin := openOrigin(ctx, cfg, logger); origin != nil {
		imageOpts = append(imageOpts, service.WithOrigin(origin))
	}
	imageSvc := service.NewImageService(base.cache, base.resolver, base.counter, base.recorder, imageOpts...)

	statsOpts := []service.StatsOption{service.WithStatsLogger(logger)}
	if db != nil {
		statsOpts = append(statsOpts, service.WithMirror(postgres.NewRequestLogPostgres(db)))
	}
	statsSvc := service.NewStatsService(base.counter, base.recorder, base.paths.LogFile, base.paths.CounterFile, statsOpts...)

	prom, err := middleware.NewPrometheusMiddleware(opts.registry)
	if err != nil {
		logger.Error("http_metrics_init_failed", slog.String("error", err.Error()))
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(prom.Handler())

	handlers.RegisterRoutes(app, handlers.Routes{
		Images: imageSvc,
		Stats:  statsSvc,
		Image: handlers.ImageOptions{
			PlaceholderURL: cfg.Image.PlaceholderURL,
			MaxAgeSec:      cfg.Image.MaxAgeSec,
		},
		StatsLimit:    cfg.Image.StatsLimit,
		MappingSource: base.paths.MappingCSV,
		DB:            db,
		Gatherer:      opts.gatherer,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("server_started", slog.String("addr", addr), slog.String("data_dir", cfg.Paths.DataDir))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server_failed", slog.String("error", err.Error()))
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// openMirror connects the optional Postgres request log mirror. Failures disable
// the mirror and are logged; the file-backed service runs without it.
func openMirror(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*sql.DB, []recorder.Sink) {
	if !cfg.Database.Enabled() {
		return nil, nil
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Warn("request_log_mirror_disabled", slog.String("error", err.Error()))
		return nil, nil
	}
	if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
		logger.Warn("request_log_mirror_disabled", slog.String("error", err.Error()))
		db.Close()
		return nil, nil
	}
	return db, []recorder.Sink{postgres.NewRequestLogPostgres(db)}
}

// openOrigin connects the optional object storage origin, or returns nil.
func openOrigin(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) storage.Storage {
	if !cfg.MinIO.Enabled() {
		return nil
	}
	origin, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		logger.Warn("image_origin_disabled", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("image_origin_enabled", slog.String("bucket", cfg.MinIO.Bucket))
	return origin
}
