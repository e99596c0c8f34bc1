package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docimage/internal/fsutil"
	"docimage/internal/service"
)

const healthTimeout = 2 * time.Second

// Routes holds the collaborators served over HTTP. DB and Gatherer are optional.
type Routes struct {
	Images        service.ImageService
	Stats         service.StatsService
	Image         ImageOptions
	StatsLimit    int
	MappingSource string
	DB            *sql.DB
	Gatherer      prometheus.Gatherer
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/health", HealthCheck(r.MappingSource, r.DB))
	app.Get("/healthz", LivenessProbe())

	if r.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/image", GetImage(r.Images, r.Image))
	app.Get("/stats", GetStats(r.Stats, r.StatsLimit))
}

// HealthCheck reports healthy when the mapping source is readable and, if db is
// set, the database answers a ping.
//
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(mappingSource string, db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !fsutil.Readable(mappingSource) {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "mapping source unavailable")
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe answers 200 while the process is serving.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}
