package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docimage/internal/mapping"
	"docimage/internal/model"
	"docimage/internal/service"
	serviceMocks "docimage/internal/service/mocks"
)

func writeSource(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "map.csv")
	require.NoError(t, os.WriteFile(p, []byte("document_id,image_path\ndoc-1,a.png\n"), 0o644))
	return p
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	src := writeSource(t)

	app := fiber.New()
	app.Get("/health", HealthCheck(src, db))
	app.Get("/health-nodb", HealthCheck(src, nil))
	app.Get("/health-missing", HealthCheck(filepath.Join(t.TempDir(), "absent.csv"), nil))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("database down", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	t.Run("no database configured", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health-nodb", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("mapping source missing", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health-missing", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func idIs(id string) any {
	return mock.MatchedBy(func(r service.ImageRequest) bool { return r.ID == id })
}

func TestGetImage(t *testing.T) {
	opts := ImageOptions{PlaceholderURL: "https://placeholder.test", MaxAgeSec: 86400}

	t.Run("streams image", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockImageService)
		app := fiber.New()
		app.Get("/image", GetImage(mockSvc, opts))

		mockSvc.On("Serve", mock.Anything, mock.MatchedBy(func(r service.ImageRequest) bool {
			return r.ID == "doc-1" && r.Tag == "web" && r.UserAgent == "tester/1.0" && !r.ResetCache
		})).Return(&service.Image{
			Body:        io.NopCloser(strings.NewReader("png-bytes")),
			Size:        9,
			ContentType: "image/png",
			Source:      service.ResultLocal,
		}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/image?id=doc-1&tag=web", nil)
		req.Header.Set("User-Agent", "tester/1.0")
		resp, err := app.Test(req)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, "max-age=86400", resp.Header.Get("Cache-Control"))
		assert.Equal(t, "9", resp.Header.Get("Content-Length"))
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "png-bytes", string(body))
		mockSvc.AssertExpectations(t)
	})

	t.Run("reset_cache forwarded", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockImageService)
		app := fiber.New()
		app.Get("/image", GetImage(mockSvc, opts))

		mockSvc.On("Serve", mock.Anything, mock.MatchedBy(func(r service.ImageRequest) bool {
			return r.ID == "doc-1" && r.ResetCache
		})).Return(&service.Image{Body: io.NopCloser(strings.NewReader("x")), Size: 1, ContentType: "image/gif"}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/image?id=doc-1&reset_cache=true", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	errorCases := []struct {
		name     string
		query    string
		err      error
		status   int
		code     string
		location string
	}{
		{name: "id required", query: "", err: service.ErrIDRequired, status: http.StatusBadRequest, code: "ID_REQUIRED"},
		{name: "not found", query: "id=doc-9", err: fmt.Errorf("%w for document ID: doc-9", service.ErrImageNotFound), status: http.StatusNotFound, code: "IMAGE_NOT_FOUND"},
		{name: "mapping unavailable", query: "id=doc-9", err: fmt.Errorf("%w: %w", service.ErrBackingData, mapping.ErrSourceUnreadable), status: http.StatusInternalServerError, code: "BACKING_DATA_UNAVAILABLE"},
		{name: "unexpected", query: "id=doc-9", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
		{
			name:     "placeholder redirect",
			query:    "id=doc%209&placeholder=true&width=640",
			err:      service.ErrImageNotFound,
			status:   http.StatusFound,
			location: "https://placeholder.test/640x300?text=No+Image+For+doc+9",
		},
		{name: "placeholder flag must be true", query: "id=doc-9&placeholder=1", err: service.ErrImageNotFound, status: http.StatusNotFound, code: "IMAGE_NOT_FOUND"},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockImageService)
			app := fiber.New()
			app.Get("/image", GetImage(mockSvc, opts))

			mockSvc.On("Serve", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/image?"+tc.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.location != "" {
				assert.Equal(t, tc.location, resp.Header.Get("Location"))
			} else {
				assert.Equal(t, tc.code, decodeError(t, resp).Error.Code)
			}
			mockSvc.AssertExpectations(t)
		})
	}

	t.Run("debug", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockImageService)
		app := fiber.New()
		app.Get("/image", GetImage(mockSvc, opts))

		p := "/srv/images/a.png"
		mockSvc.On("Debug", mock.Anything, idIs("doc-1")).Return(&model.DebugInfo{
			Status:     "debug",
			ID:         "doc-1",
			ImagePath:  &p,
			FileExists: true,
			CountStats: &model.RequestCount{Total: 3, IDCount: 2},
			CacheInfo:  model.CacheInfo{SourcePath: "/srv/data/map.csv", Entries: 1},
		}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/image?id=doc-1&debug=true", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "debug", body["status"])
		assert.Equal(t, p, body["image_path"])
		assert.Equal(t, true, body["file_exists"])
		assert.Equal(t, "/srv/data/map.csv", body["csv_file"])
		assert.Equal(t, float64(1), body["mapping_size"])
		mockSvc.AssertNotCalled(t, "Serve", mock.Anything, mock.Anything)
		mockSvc.AssertExpectations(t)
	})

	t.Run("debug missing id", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockImageService)
		app := fiber.New()
		app.Get("/image", GetImage(mockSvc, opts))

		mockSvc.On("Debug", mock.Anything, idIs("")).Return(nil, service.ErrIDRequired).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/image?debug=true", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "ID_REQUIRED", decodeError(t, resp).Error.Code)
	})

	t.Run("cache info", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockImageService)
		app := fiber.New()
		app.Get("/image", GetImage(mockSvc, opts))

		mockSvc.On("CacheInfo", mock.Anything, idIs("doc-1")).Return(model.CacheInfo{
			SourcePath:     "/srv/data/map.csv",
			SnapshotPath:   "/srv/cache/map.json",
			SnapshotExists: true,
			Entries:        4,
			Rebuilt:        true,
		}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/image?id=doc-1&cache_info=true", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "/srv/cache/map.json", body["snapshot_file"])
		assert.Equal(t, true, body["cache_exists"])
		assert.Equal(t, float64(4), body["mapping_size"])
		assert.Equal(t, true, body["rebuilt"])
		mockSvc.AssertExpectations(t)
	})
}

func TestGetStats(t *testing.T) {
	result := &service.StatsResult{
		Status:    "success",
		Timestamp: "2024-05-01 10:00:00",
		Data:      map[string]any{"total_requests": 7},
	}

	t.Run("default limit", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockStatsService)
		app := fiber.New()
		app.Get("/stats", GetStats(mockSvc, 100))

		mockSvc.On("Stats", mock.Anything, service.StatsQuery{Limit: 100}).Return(result, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, float64(7), body["data"].(map[string]any)["total_requests"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("query forwarded", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockStatsService)
		app := fiber.New()
		app.Get("/stats", GetStats(mockSvc, 100))

		want := service.StatsQuery{ID: "doc-1", Tag: "web", Detailed: true, Limit: 0, Reset: true, Debug: true}
		mockSvc.On("Stats", mock.Anything, want).Return(result, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stats?id=doc-1&tag=web&detailed=true&limit=0&reset=true&debug=true", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	for _, limit := range []string{"abc", "-1", "2.5"} {
		t.Run("invalid limit "+limit, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockStatsService)
			app := fiber.New()
			app.Get("/stats", GetStats(mockSvc, 100))

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stats?limit="+limit, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_LIMIT", decodeError(t, resp).Error.Code)
			mockSvc.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything)
		})
	}

	t.Run("service error", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockStatsService)
		app := fiber.New()
		app.Get("/stats", GetStats(mockSvc, 100))

		mockSvc.On("Stats", mock.Anything, mock.Anything).Return(nil, errors.New("counter error")).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "routing_test_total", Help: "test"}))

	RegisterRoutes(app, Routes{
		Images:        new(serviceMocks.MockImageService),
		Stats:         new(serviceMocks.MockStatsService),
		Image:         ImageOptions{MaxAgeSec: 60},
		StatsLimit:    100,
		MappingSource: writeSource(t),
		Gatherer:      reg,
	})

	t.Run("not found route", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/non-existent", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})

	t.Run("health without database", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics exposed", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "routing_test_total")
	})
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Get("/unavailable", func(c *fiber.Ctx) error {
		return fiber.ErrServiceUnavailable
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("plain failure")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/unavailable", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
}
