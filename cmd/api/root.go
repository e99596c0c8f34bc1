package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"docimage/internal/config"
	"docimage/internal/counter"
	"docimage/internal/logging"
	"docimage/internal/mapping"
	"docimage/internal/metrics"
	"docimage/internal/recorder"
	"docimage/internal/resolver"
)

// rootOptions carries the configuration shared by every subcommand.
type rootOptions struct {
	cfg      *config.AppConfig
	dataDir  string
	port     string
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
	}

	rootCmd := &cobra.Command{
		Use:           "docimage",
		Short:         "Document image lookup service",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.Load()
			// Flags take precedence over the environment.
			if cmd.Flags().Changed("data-dir") {
				opts.cfg.Paths.DataDir = opts.dataDir
			}
			if cmd.Flags().Changed("port") {
				opts.cfg.Port = opts.port
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Base directory for relative data paths (overrides DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&opts.port, "port", "", "HTTP listen port (overrides PORT)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newStatsCmd(opts),
		newResetCmd(opts),
		newRebuildCacheCmd(opts),
		newResolveCmd(opts),
	)
	return rootCmd
}

// core is the file-backed part of the service shared by the server and the CLI.
type core struct {
	cfg      *config.AppConfig
	paths    config.PathsConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    *mapping.Cache
	resolver *resolver.Resolver
	counter  *counter.Store
	recorder *recorder.Recorder
}

// newCore resolves paths, creates their directories and builds the mapping cache,
// resolver, counter store and request recorder. Entries recorded are also sent to sinks.
func newCore(cfg *config.AppConfig, logger *slog.Logger, reg prometheus.Registerer, sinks ...recorder.Sink) (*core, error) {
	paths := cfg.Paths.Resolve()
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	cache := mapping.NewCache(paths.MappingCSV, paths.Snapshot,
		mapping.WithLogger(logger),
		mapping.WithMetrics(m),
	)
	res := resolver.New(paths.ImagesDir,
		resolver.WithMemo(cfg.Image.ResolverCacheTTL),
		resolver.WithConfinement(cfg.Image.Confine),
		resolver.WithLogger(logger),
	)
	cache.OnChange(func(mapping.Mapping) { res.Flush() })

	store := counter.NewStore(paths.CounterFile,
		counter.WithLockTimeout(cfg.Image.LockTimeout),
		counter.WithLogger(logger),
		counter.WithMetrics(m),
	)

	recOpts := []recorder.Option{
		recorder.WithLockTimeout(cfg.Image.LockTimeout),
		recorder.WithLogger(logger),
		recorder.WithMetrics(m),
	}
	for _, s := range sinks {
		recOpts = append(recOpts, recorder.WithSink(s))
	}

	return &core{
		cfg:      cfg,
		paths:    paths,
		logger:   logger,
		metrics:  m,
		cache:    cache,
		resolver: res,
		counter:  store,
		recorder: recorder.New(paths.LogFile, recOpts...),
	}, nil
}

// cliLogger writes to w so command output on stdout stays machine-readable.
func cliLogger(w io.Writer, cfg *config.AppConfig) *slog.Logger {
	return logging.New(w, cfg.LogLevel, time.Local)
}
