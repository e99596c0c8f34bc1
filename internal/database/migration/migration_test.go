package migration

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docimage/internal/logging"
)

const sentinelQuery = "SELECT to_regclass('public.request_log') IS NOT NULL"

func TestEnsureMigrated(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(mock sqlmock.Sqlmock)
		wantErr    string
	}{
		{
			name: "schema exists",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
		},
		{
			name: "runs every step",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				for _, step := range steps {
					mock.ExpectExec(regexp.QuoteMeta(step.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
				}
			},
		},
		{
			name: "sentinel check fails",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: "failed to check sentinel table: connection refused",
		},
		{
			name: "step fails",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
				mock.ExpectExec(regexp.QuoteMeta(steps[0].SQL)).WillReturnError(errors.New("permission denied"))
			},
			wantErr: "migration step create_table_request_log failed: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setupMocks(mock)

			err = EnsureMigrated(context.Background(), db, logging.Nop(), "localhost")
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
