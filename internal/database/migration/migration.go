// Package migration bootstraps the request_log schema used by the Postgres mirror.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_request_log",
		SQL: `CREATE TABLE IF NOT EXISTS request_log (
  id          BIGSERIAL   PRIMARY KEY,
  ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
  document_id TEXT        NOT NULL,
  tag         TEXT        NULL,
  client_ip   TEXT        NOT NULL DEFAULT '',
  user_agent  TEXT        NOT NULL DEFAULT ''
);`,
	},
	{
		Name: "create_index_request_log_document_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_request_log_document_id ON request_log (document_id);`,
	},
	{
		Name: "create_index_request_log_tag",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_request_log_tag ON request_log (tag) WHERE tag IS NOT NULL;`,
	},
	{
		Name: "create_index_request_log_ts",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_request_log_ts ON request_log (ts);`,
	},
}

// EnsureMigrated checks if the request_log table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *slog.Logger, dbHost string) error {
	start := time.Now()
	log := logger.With(
		slog.String("component", "database"),
		slog.String("db_host", dbHost),
	)

	log.Info("db_migration_check", slog.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass('public.request_log') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error("db_migration_failed",
			slog.String("status", "error"),
			slog.String("error_message", fmt.Sprintf("failed to check sentinel table: %v", err)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("db_migration_skip",
			slog.String("status", "success"),
			slog.String("detail", "schema already exists, skipping migration"),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.Info("db_migration_start", slog.String("status", "in_progress"))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db_migration_failed",
				slog.String("status", "error"),
				slog.String("migration_step", step.Name),
				slog.String("error_message", err.Error()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db_migration_step",
			slog.String("status", "success"),
			slog.String("migration_step", step.Name),
			slog.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db_migration_success",
		slog.String("status", "success"),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
