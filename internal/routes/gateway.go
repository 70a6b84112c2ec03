package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/sms"
	"github.com/afritokeni/afritokeni/internal/ussd"
	"github.com/afritokeni/afritokeni/internal/verification"
)

// RegisterGatewayRoutes wires the carrier webhooks and the public SMS,
// verification and notification endpoints under /api.
func RegisterGatewayRoutes(r fiber.Router, d Deps, s *Services) {
	limiter := s.limiter(d, "ussd_rate_limit", "rl:ussd:", d.Cfg.RateLimit, d.Cfg.RateWindow)
	ussdHandler := ussd.NewHandler(s.USSD, limiter, d.Logger)
	r.Get("/ussd", ussdHandler.Info)
	r.Post("/ussd", ussdHandler.Handle)

	smsHandler := sms.NewHandler(s.SMS, d.Logger)
	r.Get("/sms", smsHandler.Info)
	r.Post("/sms", smsHandler.Receive)

	codes := verification.NewHandler(s.Verification, d.Logger)
	r.Post("/send-sms", codes.SendSMS)
	r.Post("/verify-code", codes.VerifyCode)

	r.Post("/send-notification", notification.NewHandler(s.Notifier, d.Logger).Send)
}
