package service

import (
	"context"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"docimage/internal/fsutil"
	"docimage/internal/model"
	"docimage/internal/repository"
)

// StatsTimestampLayout is the layout of StatsResult.Timestamp.
const StatsTimestampLayout = "2006-01-02 15:04:05"

// StatsQuery selects what the stats report includes.
type StatsQuery struct {
	ID       string
	Tag      string
	Detailed bool
	Limit    int
	Reset    bool
	Debug    bool
}

// ResetResult reports which stores were cleared.
type ResetResult struct {
	CounterReset bool `json:"counter_reset"`
	LogsReset    bool `json:"logs_reset"`
}

// StatsDebug describes the tracking files for troubleshooting permissions.
type StatsDebug struct {
	LogDirExists        bool   `json:"log_dir_exists"`
	LogDirReadable      bool   `json:"log_dir_readable"`
	LogFileExists       bool   `json:"log_file_exists"`
	LogFileReadable     *bool  `json:"log_file_readable"`
	CounterFileExists   bool   `json:"counter_file_exists"`
	CounterFileReadable *bool  `json:"counter_file_readable"`
	ProcessUser         string `json:"process_user"`
}

// StatsResult is the stats report. Data keys depend on the query:
// "id" and "request_count" replace "by_id" when an id is given, and "tag",
// "tag_total" and "tag_by_id" replace "by_tag" when a tag is given.
type StatsResult struct {
	Status      string         `json:"status"`
	Timestamp   string         `json:"timestamp"`
	Data        map[string]any `json:"data"`
	ResetResult *ResetResult   `json:"reset_result,omitempty"`
	Debug       *StatsDebug    `json:"debug,omitempty"`
}

// StatsService defines the reporting use cases.
type StatsService interface {
	// Stats builds the report, resetting first when q.Reset is set.
	Stats(ctx context.Context, q StatsQuery) (*StatsResult, error)

	// Counts returns the raw counter state.
	Counts(ctx context.Context) (*model.CounterState, error)

	// Reset clears the counter and the request log, and the mirror when one is configured.
	Reset(ctx context.Context) ResetResult
}

// StatsOption configures the stats service.
type StatsOption func(*statsService)

// WithMirror purges repo on reset.
func WithMirror(repo repository.RequestLogRepository) StatsOption {
	return func(s *statsService) { s.mirror = repo }
}

// WithStatsLogger sets the logger.
func WithStatsLogger(l *slog.Logger) StatsOption {
	return func(s *statsService) { s.logger = l }
}

// WithStatsClock overrides the time source for the report timestamp.
func WithStatsClock(now func() time.Time) StatsOption {
	return func(s *statsService) { s.now = now }
}

type statsService struct {
	counter     CounterStore
	recorder    RequestRecorder
	mirror      repository.RequestLogRepository
	logFile     string
	counterFile string
	now         func() time.Time
	logger      *slog.Logger
}

// NewStatsService constructs a new StatsService. logFile and counterFile are only
// inspected for the debug section.
func NewStatsService(counter CounterStore, recorder RequestRecorder, logFile, counterFile string, opts ...StatsOption) StatsService {
	s := &statsService{
		counter:     counter,
		recorder:    recorder,
		logFile:     logFile,
		counterFile: counterFile,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "stats_service"))
	return s
}

func (s *statsService) Stats(ctx context.Context, q StatsQuery) (*StatsResult, error) {
	out := &StatsResult{
		Status:    "success",
		Timestamp: s.now().Format(StatsTimestampLayout),
	}

	if q.Reset {
		rr := s.Reset(ctx)
		out.ResetResult = &rr
	}

	st, err := s.counter.Read(ctx)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"total_requests": st.Total}
	if q.ID != "" {
		data["id"] = q.ID
		data["request_count"] = st.ByID[q.ID]
	} else {
		data["by_id"] = st.ByID
	}
	if q.Tag != "" {
		tc := st.ByTag[q.Tag]
		if tc == nil {
			tc = &model.TagCounts{ByID: map[string]int64{}}
		}
		data["tag"] = q.Tag
		data["tag_total"] = tc.Total
		data["tag_by_id"] = tc.ByID
		if q.ID != "" {
			data["tag_request_count"] = tc.ByID[q.ID]
		}
	} else {
		data["by_tag"] = st.ByTag
	}

	if q.Detailed {
		recent, err := s.recorder.Recent(ctx, q.Limit, q.ID, q.Tag)
		if err != nil {
			s.logger.Warn("request_log_read_failed", slog.String("error", err.Error()))
			recent = []model.LogEntry{}
		}
		data["recent_requests"] = recent
	}
	out.Data = data

	if q.Debug {
		out.Debug = s.debug()
	}
	return out, nil
}

func (s *statsService) Counts(ctx context.Context) (*model.CounterState, error) {
	return s.counter.Read(ctx)
}

func (s *statsService) Reset(ctx context.Context) ResetResult {
	var rr ResetResult
	if _, err := s.counter.Reset(ctx); err != nil {
		s.logger.Error("counter_reset_failed", slog.String("error", err.Error()))
	} else {
		rr.CounterReset = true
	}
	if err := s.recorder.Reset(ctx); err != nil {
		s.logger.Error("request_log_reset_failed", slog.String("error", err.Error()))
	} else {
		rr.LogsReset = true
	}
	if s.mirror != nil {
		if n, err := s.mirror.Purge(ctx); err != nil {
			s.logger.Warn("request_log_mirror_purge_failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("request_log_mirror_purged", slog.Int64("rows", n))
		}
	}
	return rr
}

func (s *statsService) debug() *StatsDebug {
	logDir := filepath.Dir(s.logFile)
	d := &StatsDebug{
		LogDirExists:      fsutil.Exists(logDir),
		LogDirReadable:    fsutil.Readable(logDir),
		LogFileExists:     fsutil.Exists(s.logFile),
		CounterFileExists: fsutil.Exists(s.counterFile),
		ProcessUser:       processUser(),
	}
	if d.LogFileExists {
		ok := fsutil.Readable(s.logFile)
		d.LogFileReadable = &ok
	}
	if d.CounterFileExists {
		ok := fsutil.Readable(s.counterFile)
		d.CounterFileReadable = &ok
	}
	return d
}

func processUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}
