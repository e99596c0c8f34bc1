// Package recorder appends one human-readable line per image request to a log file
// and parses that file back for recent-activity reports.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"docimage/internal/filelock"
	"docimage/internal/metrics"
	"docimage/internal/model"
)

// TimestampLayout is the layout of the bracketed timestamp that starts each line.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	resourceName = "request_log"
	maxLineSize  = 1 << 20
)

var (
	taggedLine   = regexp.MustCompile(`^\[(.*?)\] ID: (.*?) \| Tag: (.*?) \| IP: (.*?) \| User-Agent: (.*?)$`)
	untaggedLine = regexp.MustCompile(`^\[(.*?)\] ID: (.*?) \| IP: (.*?) \| User-Agent: (.*?)$`)
	lineBreaks   = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	// Fields before User-Agent must not contain the separator, or they would parse as other fields.
	innerField = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", "/")
)

// Sink receives a copy of every recorded entry, e.g. a database mirror.
type Sink interface {
	Insert(ctx context.Context, e model.LogEntry) error
}

// Recorder writes to and reads from the request log at one path.
type Recorder struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	loc         *time.Location
	now         func() time.Time
	sinks       []Sink
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLockTimeout bounds the wait for the append lock.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.lockTimeout = d }
}

// WithLocation sets the zone timestamps are written in.
func WithLocation(loc *time.Location) Option {
	return func(r *Recorder) { r.loc = loc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithSink mirrors recorded entries to s. Sink failures are logged and ignored.
func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sinks = append(r.sinks, s) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics attaches domain collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New returns a Recorder for the log file at path.
func New(path string, opts ...Option) *Recorder {
	r := &Recorder{
		path:        path,
		lockPath:    filelock.PathFor(path),
		lockTimeout: 2 * time.Second,
		loc:         time.Local,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "recorder"))
	return r
}

// Path returns the log file location.
func (r *Recorder) Path() string { return r.path }

// Append records one request. It reports whether the line reached the log file and
// never fails the caller.
func (r *Recorder) Append(ctx context.Context, id, tag, ip, userAgent string) bool {
	now := r.now().In(r.loc)
	e := model.LogEntry{
		Timestamp: now.Format(TimestampLayout),
		ID:        id,
		Tag:       tag,
		IP:        ip,
		UserAgent: userAgent,
		Time:      now,
	}

	ok := true
	if err := r.appendLine(ctx, FormatLine(e)); err != nil {
		ok = false
		r.logger.Warn("request_log_write_failed", slog.String("path", r.path), slog.String("error", err.Error()))
	}

	for _, s := range r.sinks {
		if err := s.Insert(ctx, e); err != nil {
			r.logger.Warn("request_log_sink_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	return ok
}

func (r *Recorder) appendLine(ctx context.Context, line string) error {
	lock := r.lock(ctx, filelock.Exclusive)
	defer lock.Release()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Recent returns the last limit parsed entries, oldest first, then keeps only those
// matching id and tag when they are non-empty. A limit of zero or less keeps every entry.
func (r *Recorder) Recent(ctx context.Context, limit int, id, tag string) ([]model.LogEntry, error) {
	lock := r.lock(ctx, filelock.Shared)
	defer lock.Release()

	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.LogEntry{}, nil
		}
		return nil, fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	var entries []model.LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if e, ok := ParseLine(sc.Text()); ok {
			entries = append(entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read request log: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if id != "" && e.ID != id {
			continue
		}
		if tag != "" && e.Tag != tag {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Reset truncates the log file, creating it if needed.
func (r *Recorder) Reset(ctx context.Context) error {
	lock := r.lock(ctx, filelock.Exclusive)
	defer lock.Release()

	if err := os.WriteFile(r.path, nil, 0o664); err != nil {
		return fmt.Errorf("truncate request log: %w", err)
	}
	r.logger.Info("request_log_reset", slog.String("path", r.path))
	return nil
}

func (r *Recorder) lock(ctx context.Context, mode filelock.Mode) *filelock.Lock {
	l, err := filelock.Acquire(ctx, r.lockPath, mode, r.lockTimeout)
	if err != nil {
		r.metrics.LockFallback(resourceName)
		r.logger.Warn("lock_unavailable",
			slog.String("path", r.lockPath),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return l
}

// FormatLine renders e in the log layout. The Tag segment is written only when a tag is set.
// A "|" in the id, tag or ip is written as "/".
func FormatLine(e model.LogEntry) string {
	clean, ua := innerField.Replace, lineBreaks.Replace(e.UserAgent)
	if e.Tag != "" {
		return fmt.Sprintf("[%s] ID: %s | Tag: %s | IP: %s | User-Agent: %s",
			e.Timestamp, clean(e.ID), clean(e.Tag), clean(e.IP), ua)
	}
	return fmt.Sprintf("[%s] ID: %s | IP: %s | User-Agent: %s",
		e.Timestamp, clean(e.ID), clean(e.IP), ua)
}

// ParseLine extracts an entry from one log line in either layout.
func ParseLine(line string) (model.LogEntry, bool) {
	line = strings.TrimRight(line, "\r")
	if m := taggedLine.FindStringSubmatch(line); m != nil {
		return model.LogEntry{Timestamp: m[1], ID: m[2], Tag: m[3], IP: m[4], UserAgent: m[5]}, true
	}
	if m := untaggedLine.FindStringSubmatch(line); m != nil {
		return model.LogEntry{Timestamp: m[1], ID: m[2], IP: m[3], UserAgent: m[4]}, true
	}
	return model.LogEntry{}, false
}
