package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"docimage/internal/service"
)

// ImageOptions tunes the image response.
type ImageOptions struct {
	PlaceholderURL string
	MaxAgeSec      int
}

// GetImage streams the image mapped to the id query parameter.
//
// debug=true and cache_info=true answer with JSON instead of the image;
// placeholder=true redirects to a generated placeholder when nothing is found.
//
// @Summary Get the image for a document
// @Tags image
// @Produce octet-stream
// @Produce json
// @Param id query string true "Document ID"
// @Param tag query string false "Caller tag"
// @Param debug query bool false "Describe the lookup instead of streaming"
// @Param cache_info query bool false "Report mapping cache state"
// @Param reset_cache query bool false "Force a mapping rebuild"
// @Param placeholder query bool false "Redirect to a placeholder when missing"
// @Param width query int false "Placeholder width"
// @Param height query int false "Placeholder height"
// @Success 200 {file} binary
// @Success 302
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /image [get]
func GetImage(svc service.ImageService, opts ImageOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := service.ImageRequest{
			ID:         c.Query("id"),
			Tag:        c.Query("tag"),
			ClientIP:   c.IP(),
			UserAgent:  c.Get(fiber.HeaderUserAgent, "unknown"),
			ResetCache: queryFlag(c, "reset_cache"),
		}
		ctx := c.UserContext()

		switch {
		case queryFlag(c, "debug"):
			info, err := svc.Debug(ctx, req)
			if err != nil {
				return writeImageError(c, err)
			}
			return c.JSON(info)
		case queryFlag(c, "cache_info"):
			info, err := svc.CacheInfo(ctx, req)
			if err != nil {
				return writeImageError(c, err)
			}
			return c.JSON(info)
		}

		img, err := svc.Serve(ctx, req)
		if err != nil {
			if errors.Is(err, service.ErrImageNotFound) && queryFlag(c, "placeholder") {
				target := service.PlaceholderURL(opts.PlaceholderURL, req.ID, c.Query("width"), c.Query("height"))
				return c.Redirect(target, fiber.StatusFound)
			}
			return writeImageError(c, err)
		}

		c.Set(fiber.HeaderContentType, img.ContentType)
		c.Set(fiber.HeaderCacheControl, "max-age="+strconv.Itoa(opts.MaxAgeSec))
		// The response closes Body once it has been written.
		return c.SendStream(img.Body, int(img.Size))
	}
}

func writeImageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "ID_REQUIRED", "missing required parameter: id")
	case errors.Is(err, service.ErrImageNotFound):
		return writeError(c, fiber.StatusNotFound, "IMAGE_NOT_FOUND", "image not found for document ID: "+c.Query("id"))
	case errors.Is(err, service.ErrBackingData):
		return writeError(c, fiber.StatusInternalServerError, "BACKING_DATA_UNAVAILABLE", "image mapping unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// queryFlag reports whether the query parameter is exactly "true".
func queryFlag(c *fiber.Ctx, key string) bool {
	return c.Query(key) == "true"
}
