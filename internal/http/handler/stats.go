package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"docimage/internal/service"
)

// GetStats reports request totals, optionally with recent log entries.
//
// @Summary Request statistics
// @Tags stats
// @Produce json
// @Param id query string false "Restrict to one document ID"
// @Param tag query string false "Restrict to one tag"
// @Param detailed query bool false "Include recent requests"
// @Param limit query int false "Recent request window"
// @Param reset query bool false "Reset counter and log first"
// @Param debug query bool false "Include tracking file diagnostics"
// @Success 200 {object} service.StatsResult
// @Failure 400 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /stats [get]
func GetStats(svc service.StatsService, defaultLimit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := defaultLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
			}
			limit = n
		}

		res, err := svc.Stats(c.UserContext(), service.StatsQuery{
			ID:       c.Query("id"),
			Tag:      c.Query("tag"),
			Detailed: queryFlag(c, "detailed"),
			Limit:    limit,
			Reset:    queryFlag(c, "reset"),
			Debug:    queryFlag(c, "debug"),
		})
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "BACKING_DATA_UNAVAILABLE", "counter unavailable")
		}
		return c.JSON(res)
	}
}
