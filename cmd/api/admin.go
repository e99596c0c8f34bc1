package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"docimage/internal/repository/postgres"
	"docimage/internal/service"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var id, tag string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print request counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := newCore(opts.cfg, cliLogger(cmd.ErrOrStderr(), opts.cfg), opts.registry)
			if err != nil {
				return err
			}
			svc := service.NewStatsService(base.counter, base.recorder, base.paths.LogFile, base.paths.CounterFile,
				service.WithStatsLogger(base.logger))

			if id == "" && tag == "" {
				st, err := svc.Counts(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), st)
			}
			res, err := svc.Stats(cmd.Context(), service.StatsQuery{ID: id, Tag: tag})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res.Data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Only report this document ID")
	cmd.Flags().StringVar(&tag, "tag", "", "Only report this tag")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the request counter and truncate the request log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger(cmd.ErrOrStderr(), opts.cfg)
			base, err := newCore(opts.cfg, logger, opts.registry)
			if err != nil {
				return err
			}

			statsOpts := []service.StatsOption{service.WithStatsLogger(logger)}
			if db, _ := openMirror(cmd.Context(), opts.cfg, logger); db != nil {
				defer db.Close()
				statsOpts = append(statsOpts, service.WithMirror(postgres.NewRequestLogPostgres(db)))
			}
			svc := service.NewStatsService(base.counter, base.recorder, base.paths.LogFile, base.paths.CounterFile, statsOpts...)

			rr := svc.Reset(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), rr); err != nil {
				return err
			}
			if !rr.CounterReset || !rr.LogsReset {
				return errors.New("reset incomplete")
			}
			return nil
		},
	}
}

func newRebuildCacheCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cache",
		Short: "Reload the mapping CSV and rewrite its snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger(cmd.ErrOrStderr(), opts.cfg)
			base, err := newCore(opts.cfg, logger, opts.registry)
			if err != nil {
				return err
			}
			svc := service.NewImageService(base.cache, base.resolver, base.counter, base.recorder,
				service.WithImageLogger(logger))

			info, err := svc.RebuildMapping(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("mapping_rebuild_complete", slog.Int("entries", info.Entries))
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Print the image path mapped to a document ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := newCore(opts.cfg, cliLogger(cmd.ErrOrStderr(), opts.cfg), opts.registry)
			if err != nil {
				return err
			}
			svc := service.NewImageService(base.cache, base.resolver, base.counter, base.recorder,
				service.WithImageLogger(base.logger))

			p, err := svc.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
