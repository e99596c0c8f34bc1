package postgres

import (
	"context"
	"database/sql"
	"time"

	"docimage/internal/model"
	"docimage/internal/repository"
)

// RequestLogPostgres is a PostgreSQL implementation of repository.RequestLogRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type RequestLogPostgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewRequestLogPostgres creates a new RequestLogPostgres repository.
func NewRequestLogPostgres(db *sql.DB) *RequestLogPostgres {
	return &RequestLogPostgres{db: db, now: time.Now}
}

var _ repository.RequestLogRepository = (*RequestLogPostgres)(nil)

// Insert adds one row to request_log. An empty tag is stored as NULL.
func (r *RequestLogPostgres) Insert(ctx context.Context, e model.LogEntry) error {
	const q = `
		INSERT INTO request_log (ts, document_id, tag, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`
	ts := e.Time
	if ts.IsZero() {
		ts = r.now()
	}
	tag := sql.NullString{String: e.Tag, Valid: e.Tag != ""}
	_, err := r.db.ExecContext(ctx, q, ts.UTC(), e.ID, tag, e.IP, e.UserAgent)
	return err
}

// Purge removes all mirrored rows.
func (r *RequestLogPostgres) Purge(ctx context.Context) (int64, error) {
	const q = `DELETE FROM request_log`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
