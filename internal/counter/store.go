// Package counter keeps exact request totals (overall, per id and per tag) in a
// node-local JSON file shared by every worker process.
//
// Each increment is one read-modify-write cycle under an exclusive advisory lock on
// a sidecar lock file. When the lock cannot be obtained in time the cycle still runs
// unlocked; a lost update is acceptable for analytics and serving must not stall.
package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"docimage/internal/filelock"
	"docimage/internal/fsutil"
	"docimage/internal/metrics"
	"docimage/internal/model"
)

// ErrCounterCorrupt marks persisted content that could not be decoded.
// Store recovers from it by starting over from the empty state.
var ErrCounterCorrupt = errors.New("counter state corrupt")

const resourceName = "counter"

var tracer = otel.Tracer("docimage/counter")

// Store persists CounterState at a single path.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a caller waits for the lock before degrading.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches domain collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore returns a Store backed by the JSON file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		lockPath:    filelock.PathFor(path),
		lockTimeout: 2 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "counter_store"))
	return s
}

// Path returns the persisted state location.
func (s *Store) Path() string { return s.path }

// Increment counts one request for id, and for tag when it is non-empty, and
// returns the counts as they stand after this request.
func (s *Store) Increment(ctx context.Context, id, tag string) (model.RequestCount, error) {
	ctx, span := tracer.Start(ctx, "counter.Store.Increment")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id), attribute.String("document.tag", tag))

	lock := s.lock(ctx, filelock.Exclusive)
	defer lock.Release()

	st := s.load()
	st.Total++
	st.ByID[id]++

	rc := model.RequestCount{Total: st.Total, IDCount: st.ByID[id]}
	if tag != "" {
		tc, ok := st.ByTag[tag]
		if !ok {
			tc = &model.TagCounts{ByID: map[string]int64{}}
			st.ByTag[tag] = tc
		}
		tc.Total++
		tc.ByID[id]++
		rc.Tag = tag
		rc.TagTotal = tc.Total
		rc.TagIDCount = tc.ByID[id]
	}

	if err := s.write(st); err != nil {
		span.RecordError(err)
		return rc, err
	}
	return rc, nil
}

// Read returns the persisted state under a shared lock so readers only wait on an
// in-flight writer.
func (s *Store) Read(ctx context.Context) (*model.CounterState, error) {
	lock := s.lock(ctx, filelock.Shared)
	defer lock.Release()
	return s.load(), nil
}

// Reset replaces the persisted state with the empty default and returns it.
func (s *Store) Reset(ctx context.Context) (*model.CounterState, error) {
	lock := s.lock(ctx, filelock.Exclusive)
	defer lock.Release()

	st := model.NewCounterState()
	if err := s.write(st); err != nil {
		return nil, err
	}
	s.logger.Info("counter_reset", slog.String("path", s.path))
	return st, nil
}

// lock returns nil when the lock is unavailable; the caller proceeds unlocked.
func (s *Store) lock(ctx context.Context, mode filelock.Mode) *filelock.Lock {
	l, err := filelock.Acquire(ctx, s.lockPath, mode, s.lockTimeout)
	if err != nil {
		s.metrics.LockFallback(resourceName)
		s.logger.Warn("lock_unavailable",
			slog.String("path", s.lockPath),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return l
}

// load reads the persisted state, falling back to the empty state when it is
// absent or corrupt.
func (s *Store) load() *model.CounterState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("counter_read_failed", slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return model.NewCounterState()
	}
	st, err := Decode(data)
	if err != nil {
		s.metrics.CorruptRecovered(resourceName)
		s.logger.Warn("counter_corrupt", slog.String("path", s.path), slog.String("error", err.Error()))
		return model.NewCounterState()
	}
	return st
}

func (s *Store) write(st *model.CounterState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode counter state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write counter state: %w", err)
	}
	return nil
}

// persistedState mirrors CounterState with the maps left raw, so layouts that
// encode an empty map as [] still decode.
type persistedState struct {
	Version int             `json:"version"`
	Total   int64           `json:"total"`
	ByID    json.RawMessage `json:"by_id"`
	ByTag   json.RawMessage `json:"by_tag"`
}

type persistedTag struct {
	Total int64           `json:"total"`
	ByID  json.RawMessage `json:"by_id"`
}

// Decode parses persisted counter content, migrating older layouts to the current
// schema. Empty content decodes to the empty state. An empty JSON array is accepted
// wherever a map is expected.
func Decode(data []byte) (*model.CounterState, error) {
	if len(data) == 0 {
		return model.NewCounterState(), nil
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCounterCorrupt, err)
	}
	if ps.Version > model.CounterSchemaVersion {
		return nil, fmt.Errorf("%w: unknown schema version %d", ErrCounterCorrupt, ps.Version)
	}

	st := model.CounterState{Version: ps.Version, Total: ps.Total}
	if err := decodeMap(ps.ByID, &st.ByID); err != nil {
		return nil, fmt.Errorf("%w: by_id: %w", ErrCounterCorrupt, err)
	}
	var tags map[string]json.RawMessage
	if err := decodeMap(ps.ByTag, &tags); err != nil {
		return nil, fmt.Errorf("%w: by_tag: %w", ErrCounterCorrupt, err)
	}
	if len(tags) > 0 {
		st.ByTag = make(map[string]*model.TagCounts, len(tags))
	}
	for tag, raw := range tags {
		tc := &model.TagCounts{}
		if !isEmptyMap(raw) {
			var pt persistedTag
			if err := json.Unmarshal(raw, &pt); err != nil {
				return nil, fmt.Errorf("%w: by_tag[%q]: %w", ErrCounterCorrupt, tag, err)
			}
			tc.Total = pt.Total
			if err := decodeMap(pt.ByID, &tc.ByID); err != nil {
				return nil, fmt.Errorf("%w: by_tag[%q].by_id: %w", ErrCounterCorrupt, tag, err)
			}
		}
		st.ByTag[tag] = tc
	}

	migrate(&st)
	if err := validate(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// decodeMap unmarshals raw into dst unless raw is absent, null or an empty array.
func decodeMap[V any](raw json.RawMessage, dst *map[string]V) error {
	if isEmptyMap(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isEmptyMap(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return true
	}
	if b[0] != '[' {
		return false
	}
	var list []json.RawMessage
	return json.Unmarshal(b, &list) == nil && len(list) == 0
}

// migrate upgrades a version 1 (unversioned, possibly without by_tag) state in place
// and recomputes each tag total from its per-id counts.
func migrate(st *model.CounterState) {
	if st.ByID == nil {
		st.ByID = map[string]int64{}
	}
	if st.ByTag == nil {
		st.ByTag = map[string]*model.TagCounts{}
	}
	for tag, tc := range st.ByTag {
		if tc == nil {
			tc = &model.TagCounts{}
			st.ByTag[tag] = tc
		}
		if tc.ByID == nil {
			tc.ByID = map[string]int64{}
		}
		var sum int64
		for _, n := range tc.ByID {
			sum += n
		}
		tc.Total = sum
	}
	st.Version = model.CounterSchemaVersion
}

func validate(st *model.CounterState) error {
	if st.Total < 0 {
		return fmt.Errorf("%w: negative total", ErrCounterCorrupt)
	}
	for id, n := range st.ByID {
		if n < 0 {
			return fmt.Errorf("%w: negative count for id %q", ErrCounterCorrupt, id)
		}
	}
	for tag, tc := range st.ByTag {
		for _, n := range tc.ByID {
			if n < 0 {
				return fmt.Errorf("%w: negative count in tag %q", ErrCounterCorrupt, tag)
			}
		}
	}
	return nil
}
