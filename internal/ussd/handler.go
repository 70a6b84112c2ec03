package ussd

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/i18n"
	"github.com/afritokeni/afritokeni/internal/middleware"
)

// Handler is the USSD webhook. Carrier requests arrive form-encoded; the web
// playground posts JSON.
type Handler struct {
	svc     *Service
	limiter middleware.Limiter
	logger  *slog.Logger
}

// NewHandler builds the webhook. limiter applies to carrier requests only.
func NewHandler(svc *Service, limiter middleware.Limiter, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, limiter: limiter, logger: logger}
}

type webhookRequest struct {
	SessionID   string `json:"sessionId" form:"sessionId"`
	ServiceCode string `json:"serviceCode" form:"serviceCode"`
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
	Text        string `json:"text" form:"text"`
}

// Info describes the endpoint.
func (h *Handler) Info(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"service":  "AfriTokeni USSD API",
		"status":   "active",
		"endpoint": "POST /api/ussd",
		"message":  "Send POST request with sessionId, phoneNumber, serviceCode, and text",
	})
}

// Handle answers one USSD step.
func (h *Handler) Handle(c *fiber.Ctx) error {
	isJSON := strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)

	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return h.text(c, http.StatusBadRequest, "Invalid request body")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.SessionID == "" || req.PhoneNumber == "" {
		return h.text(c, http.StatusBadRequest, "Missing required fields: sessionId and phoneNumber")
	}

	if !isJSON && h.limiter != nil {
		ok, err := h.limiter.Allow(c.UserContext(), req.PhoneNumber)
		if err != nil {
			h.logger.Warn("ussd rate limiter unavailable", "error", err)
		} else if !ok {
			return h.text(c, http.StatusTooManyRequests, i18n.T(i18n.English, "rate_limit_exceeded"))
		}
	}

	resp, err := h.svc.Process(c.UserContext(), Request{
		SessionID:   req.SessionID,
		Phone:       req.PhoneNumber,
		ServiceCode: req.ServiceCode,
		Text:        req.Text,
	})
	if err != nil {
		h.logger.Error("ussd processing failed", "session_id", req.SessionID, "error", err)
		return h.text(c, http.StatusInternalServerError, "END An error occurred. Please try again.")
	}

	if isJSON {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"continueSession": resp.Continue,
			"response":        resp.Text,
		})
	}
	return h.text(c, http.StatusOK, resp.String())
}

func (h *Handler) text(c *fiber.Ctx, status int, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(body)
}
