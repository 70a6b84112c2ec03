package notification

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// Handler exposes POST /api/send-notification.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler builds the handler. notifier is normally a Dispatcher.
func NewHandler(notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{notifier: notifier, logger: logger, now: time.Now}
}

// SendRequest is the notification request body.
type SendRequest struct {
	Type      string         `json:"type" validate:"required,oneof=sms email"`
	Recipient string         `json:"recipient" validate:"required"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message" validate:"required"`
	Data      map[string]any `json:"data"`
}

// Send delivers one notification on the requested channel.
func (h *Handler) Send(c *fiber.Ctx) error {
	start := h.now()
	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "type, recipient and message are required"})
	}

	msg := Message{
		Channel:     req.Type,
		Kind:        KindCustom,
		Destination: req.Recipient,
		Subject:     req.Subject,
		Body:        req.Message,
		Data:        req.Data,
	}
	if err := h.notifier.Send(c.UserContext(), msg); err != nil {
		h.logger.Error("notification failed", "channel", req.Type, "recipient", req.Recipient, "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to send notification"})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":  true,
		"message":  fmt.Sprintf("%s notification sent successfully", req.Type),
		"duration": fmt.Sprintf("%dms", h.now().Sub(start).Milliseconds()),
	})
}
