// Package service composes the mapping cache, resolver, counter and recorder into
// the image and stats use cases served over HTTP and the CLI.
package service

import (
	"context"
	"errors"

	"docimage/internal/mapping"
	"docimage/internal/model"
)

var (
	ErrIDRequired    = errors.New("id is required")
	ErrImageNotFound = errors.New("image not found")
	ErrBackingData   = errors.New("backing data unavailable")
)

// MappingCache is the load-or-rebuild mapping source.
type MappingCache interface {
	Get(ctx context.Context, forceRebuild bool) (mapping.Mapping, model.CacheInfo, error)
}

// PathResolver locates the image file mapped to an id.
type PathResolver interface {
	Resolve(id string, m mapping.Mapping) (string, bool)
}

// CounterStore keeps request totals.
type CounterStore interface {
	Increment(ctx context.Context, id, tag string) (model.RequestCount, error)
	Read(ctx context.Context) (*model.CounterState, error)
	Reset(ctx context.Context) (*model.CounterState, error)
}

// RequestRecorder appends and reads the request log.
type RequestRecorder interface {
	Append(ctx context.Context, id, tag, ip, userAgent string) bool
	Recent(ctx context.Context, limit int, id, tag string) ([]model.LogEntry, error)
	Reset(ctx context.Context) error
}
