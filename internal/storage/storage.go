// Package storage reads images from an S3-compatible object store. It is the origin
// consulted when an id is mapped but the file is not on local disk.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when the key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Storage is a read-only, S3-compatible object storage client.
// Methods use context and streaming readers; no local disk is used.
type Storage interface {
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Stat returns an object's info without fetching the content.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// KeyFor turns a mapped image path into an object key: forward slashes, cleaned,
// without a leading slash. It returns "" when nothing usable remains.
func KeyFor(imagePath string) string {
	k := strings.ReplaceAll(imagePath, "\\", "/")
	k = path.Clean("/" + k)
	k = strings.TrimPrefix(k, "/")
	if k == "." {
		return ""
	}
	return k
}
