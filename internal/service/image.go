package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"docimage/internal/mapping"
	"docimage/internal/metrics"
	"docimage/internal/model"
	"docimage/internal/storage"
)

// Image result labels, also used as metric labels.
const (
	ResultLocal    = "local"
	ResultOrigin   = "origin"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

const (
	defaultPlaceholderSize = 300
	maxPlaceholderSize     = 4000
)

// ImageRequest carries the caller-supplied inputs of one image lookup.
type ImageRequest struct {
	ID         string
	Tag        string
	ClientIP   string
	UserAgent  string
	ResetCache bool
}

// Image is an opened image ready to stream. The caller must close Body.
type Image struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	// Path is the local file, or the object key when Source is ResultOrigin.
	Path   string
	Source string
	Counts *model.RequestCount
}

// ImageService defines the image lookup use cases.
type ImageService interface {
	// Serve tracks the request, then opens the image mapped to req.ID.
	// It returns ErrIDRequired, ErrBackingData or ErrImageNotFound.
	Serve(ctx context.Context, req ImageRequest) (*Image, error)

	// Debug tracks the request and describes the lookup instead of opening the image.
	Debug(ctx context.Context, req ImageRequest) (*model.DebugInfo, error)

	// CacheInfo tracks the request and reports the mapping cache state.
	CacheInfo(ctx context.Context, req ImageRequest) (model.CacheInfo, error)

	// Resolve looks up id without tracking it.
	Resolve(ctx context.Context, id string) (string, error)

	// RebuildMapping forces a reload of the mapping source.
	RebuildMapping(ctx context.Context) (model.CacheInfo, error)
}

// ImageOption configures the image service.
type ImageOption func(*imageService)

// WithOrigin consults store for images that are mapped but missing on disk.
func WithOrigin(store storage.Storage) ImageOption {
	return func(s *imageService) { s.origin = store }
}

// WithImageLogger sets the logger.
func WithImageLogger(l *slog.Logger) ImageOption {
	return func(s *imageService) { s.logger = l }
}

// WithImageMetrics attaches domain collectors.
func WithImageMetrics(m *metrics.Metrics) ImageOption {
	return func(s *imageService) { s.metrics = m }
}

// imageService is a concrete implementation of ImageService.
type imageService struct {
	cache    MappingCache
	resolver PathResolver
	counter  CounterStore
	recorder RequestRecorder
	origin   storage.Storage
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewImageService constructs a new ImageService.
func NewImageService(cache MappingCache, resolver PathResolver, counter CounterStore, recorder RequestRecorder, opts ...ImageOption) ImageService {
	s := &imageService{
		cache:    cache,
		resolver: resolver,
		counter:  counter,
		recorder: recorder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "image_service"))
	return s
}

func (s *imageService) Serve(ctx context.Context, req ImageRequest) (*Image, error) {
	if req.ID == "" {
		return nil, ErrIDRequired
	}
	counts := s.track(ctx, req)

	m, _, err := s.mapping(ctx, req.ResetCache)
	if err != nil {
		s.metrics.ImageResult(ResultError)
		return nil, err
	}

	if p, ok := s.resolver.Resolve(req.ID, m); ok {
		img, err := openLocal(p)
		if err == nil {
			img.Counts = counts
			s.metrics.ImageResult(ResultLocal)
			return img, nil
		}
		s.logger.Warn("image_open_failed", slog.String("id", req.ID), slog.String("path", p), slog.String("error", err.Error()))
	}

	if value, ok := m.Lookup(req.ID); ok && s.origin != nil {
		img, err := s.openOrigin(ctx, value)
		if err == nil {
			img.Counts = counts
			s.metrics.ImageResult(ResultOrigin)
			return img, nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warn("origin_fetch_failed", slog.String("id", req.ID), slog.String("error", err.Error()))
		}
	}

	s.metrics.ImageResult(ResultNotFound)
	return nil, fmt.Errorf("%w for document ID: %s", ErrImageNotFound, req.ID)
}

func (s *imageService) Debug(ctx context.Context, req ImageRequest) (*model.DebugInfo, error) {
	if req.ID == "" {
		return nil, ErrIDRequired
	}
	counts := s.track(ctx, req)

	m, info, err := s.mapping(ctx, req.ResetCache)
	if err != nil {
		return nil, err
	}

	out := &model.DebugInfo{
		Status:     "debug",
		ID:         req.ID,
		Tag:        req.Tag,
		CountStats: counts,
		CacheInfo:  info,
	}
	if p, ok := s.resolver.Resolve(req.ID, m); ok {
		out.ImagePath = &p
		out.FileExists = fileExists(p)
	}
	return out, nil
}

func (s *imageService) CacheInfo(ctx context.Context, req ImageRequest) (model.CacheInfo, error) {
	if req.ID == "" {
		return model.CacheInfo{}, ErrIDRequired
	}
	s.track(ctx, req)

	_, info, err := s.mapping(ctx, req.ResetCache)
	return info, err
}

func (s *imageService) Resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}
	m, _, err := s.mapping(ctx, false)
	if err != nil {
		return "", err
	}
	p, ok := s.resolver.Resolve(id, m)
	if !ok {
		return "", fmt.Errorf("%w for document ID: %s", ErrImageNotFound, id)
	}
	return p, nil
}

func (s *imageService) RebuildMapping(ctx context.Context) (model.CacheInfo, error) {
	_, info, err := s.mapping(ctx, true)
	return info, err
}

// track records and counts the request. Tracking never fails the lookup.
func (s *imageService) track(ctx context.Context, req ImageRequest) *model.RequestCount {
	s.recorder.Append(ctx, req.ID, req.Tag, req.ClientIP, req.UserAgent)

	rc, err := s.counter.Increment(ctx, req.ID, req.Tag)
	if err != nil {
		s.logger.Warn("counter_increment_failed", slog.String("id", req.ID), slog.String("error", err.Error()))
		return nil
	}
	return &rc
}

func (s *imageService) mapping(ctx context.Context, force bool) (mapping.Mapping, model.CacheInfo, error) {
	m, info, err := s.cache.Get(ctx, force)
	if err != nil {
		s.logger.Error("mapping_unavailable", slog.String("error", err.Error()))
		return nil, info, fmt.Errorf("%w: %w", ErrBackingData, err)
	}
	return m, info, nil
}

func (s *imageService) openOrigin(ctx context.Context, value string) (*Image, error) {
	key := storage.KeyFor(value)
	if key == "" {
		return nil, storage.ErrObjectNotFound
	}
	body, info, err := s.origin.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ct := ContentTypeFor(key)
	if ct == octetStream && info.ContentType != "" {
		ct = info.ContentType
	}
	return &Image{Body: body, Size: info.Size, ContentType: ct, Path: key, Source: ResultOrigin}, nil
}

func openLocal(p string) (*Image, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Image{Body: f, Size: st.Size(), ContentType: ContentTypeFor(p), Path: p, Source: ResultLocal}, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

const octetStream = "application/octet-stream"

// ContentTypeFor maps an image file extension to its media type.
func ContentTypeFor(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	default:
		return octetStream
	}
}

// PlaceholderURL builds the redirect target used when no image exists for id.
// Width and height fall back to 300 when missing or not a positive integer.
func PlaceholderURL(base, id, width, height string) string {
	return fmt.Sprintf("%s/%dx%d?text=%s",
		strings.TrimRight(base, "/"),
		placeholderSize(width),
		placeholderSize(height),
		url.QueryEscape("No Image For "+id),
	)
}

func placeholderSize(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxPlaceholderSize {
		return defaultPlaceholderSize
	}
	return n
}
