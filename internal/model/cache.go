package model

import "time"

// CacheInfo describes the mapping cache state observed by one lookup.
type CacheInfo struct {
	SourcePath      string    `json:"csv_file"`
	SnapshotPath    string    `json:"snapshot_file"`
	SourceModTime   time.Time `json:"source_mod_time"`
	SnapshotExists  bool      `json:"cache_exists"`
	FreshnessMarker time.Time `json:"freshness_marker"`
	Entries         int       `json:"mapping_size"`
	Rebuilt         bool      `json:"rebuilt"`
	LoadTimeMS      float64   `json:"cache_time_ms"`
}

// DebugInfo is returned by the image endpoint instead of bytes when debug is requested.
// The cache fields are flattened into the same object.
type DebugInfo struct {
	Status     string        `json:"status"`
	ID         string        `json:"id"`
	Tag        string        `json:"tag,omitempty"`
	ImagePath  *string       `json:"image_path"`
	FileExists bool          `json:"file_exists"`
	CountStats *RequestCount `json:"count_stats"`
	CacheInfo
}
