package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/skydisk/backend/pkg/logger"
)

// RequestLogger emits one structured line per request after the handler
// chain finishes.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		details := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if user := GetCurrentUser(c); user != nil {
			logger.InfoWithUser(user.ID.String(), "http_request", details)
		} else {
			logger.Info("http_request", details)
		}
		return err
	}
}
