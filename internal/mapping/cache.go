package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"docimage/internal/fsutil"
	"docimage/internal/metrics"
	"docimage/internal/model"
)

// SnapshotVersion identifies the on-disk snapshot layout.
const SnapshotVersion = 2

// Rebuild reasons, also used as metric labels.
const (
	ReasonMissing = "missing"
	ReasonStale   = "stale"
	ReasonForced  = "forced"
	ReasonCorrupt = "corrupt"
	ReasonWatch   = "watch"
)

var tracer = otel.Tracer("docimage/mapping")

// snapshotFile is the persisted form of a Mapping.
// SourceModTime is the freshness marker: the source mtime (UnixNano) the entries were read at.
// Pairs that are not valid UTF-8 go to RawEntries, base64-encoded, so their bytes survive.
type snapshotFile struct {
	Version       int        `json:"version"`
	Source        string     `json:"source"`
	SourceModTime int64      `json:"source_mod_time"`
	Entries       Mapping    `json:"entries"`
	RawEntries    []rawEntry `json:"raw_entries,omitempty"`
}

type rawEntry struct {
	ID   []byte `json:"id"`
	Path []byte `json:"image_path"`
}

// loaded is one immutable, decoded snapshot. It is swapped wholesale, never mutated.
type loaded struct {
	mapping     Mapping
	marker      time.Time
	snapModTime time.Time
	snapSize    int64
}

// Cache serves the mapping from a persisted snapshot, rebuilding it from the source
// CSV when the snapshot is missing, corrupt, older than the source, or forced.
//
// Concurrent rebuilds inside one process are collapsed into one. Separate processes
// may still rebuild at the same time; the snapshot is replaced by rename, so the
// last writer wins and no reader ever observes a partial file.
type Cache struct {
	source   string
	snapshot string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	current atomic.Pointer[loaded]
	flight  singleflight.Group

	mu        sync.Mutex
	listeners []func(Mapping)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for recovery warnings and rebuild events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics attaches domain collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache builds a cache over the CSV at source, persisting snapshots at snapshot.
func NewCache(source, snapshot string, opts ...Option) *Cache {
	c := &Cache{source: source, snapshot: snapshot, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "mapping_cache"))
	return c
}

// SourcePath returns the CSV path.
func (c *Cache) SourcePath() string { return c.source }

// SnapshotPath returns the persisted snapshot path.
func (c *Cache) SnapshotPath() string { return c.snapshot }

// OnChange registers fn to run whenever a different mapping becomes current.
func (c *Cache) OnChange(fn func(Mapping)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Get returns the current mapping. The persisted snapshot is used unless
// forceRebuild is set, it does not exist or cannot be decoded, or the source was
// modified after the snapshot's freshness marker.
func (c *Cache) Get(ctx context.Context, forceRebuild bool) (Mapping, model.CacheInfo, error) {
	ctx, span := tracer.Start(ctx, "mapping.Cache.Get")
	defer span.End()

	start := time.Now()
	info := model.CacheInfo{SourcePath: c.source, SnapshotPath: c.snapshot}

	srcStat, err := os.Stat(c.source)
	if err != nil {
		c.metrics.MappingLoadFailed()
		err = fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "source stat failed")
		return nil, info, err
	}
	srcMod := srcStat.ModTime()
	info.SourceModTime = srcMod

	reason := ReasonForced
	if !forceRebuild {
		l, r := c.fromSnapshot(srcMod)
		if l != nil {
			info.SnapshotExists = true
			info.FreshnessMarker = l.marker
			info.Entries = len(l.mapping)
			info.LoadTimeMS = elapsedMS(start)
			span.SetAttributes(attribute.Bool("mapping.rebuilt", false), attribute.Int("mapping.entries", len(l.mapping)))
			return l.mapping, info, nil
		}
		reason = r
	}

	l, err := c.rebuild(ctx, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rebuild failed")
		info.SnapshotExists = fsutil.Exists(c.snapshot)
		return nil, info, err
	}
	info.Rebuilt = true
	info.SnapshotExists = !l.snapModTime.IsZero()
	info.FreshnessMarker = l.marker
	info.Entries = len(l.mapping)
	info.LoadTimeMS = elapsedMS(start)
	span.SetAttributes(attribute.Bool("mapping.rebuilt", true), attribute.String("mapping.reason", reason), attribute.Int("mapping.entries", len(l.mapping)))
	return l.mapping, info, nil
}

// Rebuild forces a reload from the source and rewrites the snapshot.
func (c *Cache) Rebuild(ctx context.Context) (Mapping, model.CacheInfo, error) {
	return c.Get(ctx, true)
}

// Reset deletes the persisted snapshot so the next Get rebuilds regardless of timestamps.
func (c *Cache) Reset() error {
	c.current.Store(nil)
	if err := fsutil.RemoveIfExists(c.snapshot); err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	c.logger.Info("snapshot_reset", slog.String("snapshot", c.snapshot))
	return nil
}

// fromSnapshot returns a usable snapshot, or nil and the reason a rebuild is needed.
func (c *Cache) fromSnapshot(srcMod time.Time) (*loaded, string) {
	st, err := os.Stat(c.snapshot)
	if err != nil {
		return nil, ReasonMissing
	}

	if cur := c.current.Load(); cur != nil && cur.snapModTime.Equal(st.ModTime()) && cur.snapSize == st.Size() {
		if srcMod.After(cur.marker) {
			return nil, ReasonStale
		}
		return cur, ""
	}

	l, err := readSnapshot(c.snapshot)
	if err != nil {
		c.metrics.CorruptRecovered("snapshot")
		c.logger.Warn("snapshot_corrupt",
			slog.String("snapshot", c.snapshot),
			slog.String("error", err.Error()),
		)
		return nil, ReasonCorrupt
	}
	if srcMod.After(l.marker) {
		return nil, ReasonStale
	}
	l.snapModTime = st.ModTime()
	l.snapSize = st.Size()
	c.swap(l)
	return l, ""
}

// rebuild loads the source and persists a new snapshot. Callers in this process
// that arrive while a rebuild is running share its result.
func (c *Cache) rebuild(ctx context.Context, reason string) (*loaded, error) {
	v, err, _ := c.flight.Do(c.source, func() (any, error) {
		_, span := tracer.Start(ctx, "mapping.Cache.rebuild")
		defer span.End()
		start := time.Now()

		st, err := os.Stat(c.source)
		if err != nil {
			c.metrics.MappingLoadFailed()
			return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}
		m, err := LoadFile(c.source)
		if err != nil {
			c.metrics.MappingLoadFailed()
			c.logger.Error("mapping_load_failed",
				slog.String("source", c.source),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		l := &loaded{mapping: m, marker: st.ModTime()}
		if err := writeSnapshot(c.snapshot, c.source, l); err != nil {
			c.logger.Warn("snapshot_write_failed",
				slog.String("snapshot", c.snapshot),
				slog.String("error", err.Error()),
			)
		} else if sst, err := os.Stat(c.snapshot); err == nil {
			l.snapModTime = sst.ModTime()
			l.snapSize = sst.Size()
		}

		c.swap(l)
		c.metrics.MappingRebuilt(reason)
		c.logger.Info("mapping_rebuilt",
			slog.String("reason", reason),
			slog.Int("entries", len(m)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loaded), nil
}

func (c *Cache) swap(l *loaded) {
	prev := c.current.Swap(l)
	if prev != nil && prev.marker.Equal(l.marker) && prev.snapModTime.Equal(l.snapModTime) {
		return
	}
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(l.mapping)
	}
}

func readSnapshot(path string) (*loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	if sf.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, sf.Version)
	}
	if sf.Entries == nil {
		sf.Entries = Mapping{}
	}
	for _, e := range sf.RawEntries {
		sf.Entries[string(e.ID)] = string(e.Path)
	}
	return &loaded{mapping: sf.Entries, marker: time.Unix(0, sf.SourceModTime)}, nil
}

func writeSnapshot(path, source string, l *loaded) error {
	sf := snapshotFile{
		Version:       SnapshotVersion,
		Source:        source,
		SourceModTime: l.marker.UnixNano(),
		Entries:       make(Mapping, len(l.mapping)),
	}
	for id, p := range l.mapping {
		if utf8.ValidString(id) && utf8.ValidString(p) {
			sf.Entries[id] = p
			continue
		}
		sf.RawEntries = append(sf.RawEntries, rawEntry{ID: []byte(id), Path: []byte(p)})
	}
	data, err := json.Marshal(sf)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func elapsedMS(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/10) / 100
}
