// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
package repository

import (
	"context"

	"docimage/internal/model"
)

// RequestLogRepository mirrors request log entries into a database.
// No business logic here, strictly persistence operations.
type RequestLogRepository interface {
	// Insert stores one entry. A zero Time is stored as the insert time.
	Insert(ctx context.Context, e model.LogEntry) error

	// Purge deletes every mirrored entry and returns how many rows were removed.
	Purge(ctx context.Context) (int64, error)
}
