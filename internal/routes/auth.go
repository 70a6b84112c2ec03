package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/auth"
	"github.com/afritokeni/afritokeni/internal/middleware"
)

// RegisterAuthRoutes wires staff authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, d Deps, s *Services) {
	limiter := s.limiter(d, "login_rate_limit", "rl:login:", 5, time.Minute)
	r.Group("/auth").Post("/login", middleware.LoginRateLimit(limiter), auth.NewHandler(s.Auth).Login)
}
