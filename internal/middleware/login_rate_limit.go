package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LoginRateLimit limits login attempts per phone, or per IP when the body
// carries no phone.
func LoginRateLimit(limiter Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Phone string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		key := strings.TrimSpace(req.Phone)
		if key == "" {
			key = c.IP()
		}
		ok, err := limiter.Allow(c.UserContext(), key)
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if !ok {
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}
