package sms

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler is the Africa's Talking inbound SMS webhook.
type Handler struct {
	processor *Processor
	logger    *slog.Logger
}

// NewHandler constructs an SMS webhook handler.
func NewHandler(processor *Processor, logger *slog.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// Info describes the endpoint.
func (h *Handler) Info(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"service":  "AfriTokeni SMS API",
		"status":   "active",
		"endpoint": "POST /api/sms",
	})
}

// Receive accepts an inbound message and replies asynchronously.
func (h *Handler) Receive(c *fiber.Ctx) error {
	from := strings.TrimSpace(c.FormValue("from"))
	text := strings.TrimSpace(c.FormValue("text"))
	if from == "" || text == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}
	id := strings.TrimSpace(c.FormValue("id"))
	h.logger.Info("sms received", "from", from, "to", c.FormValue("to"), "id", id, "date", c.FormValue("date"))

	h.processor.HandleInbound(Inbound{ID: id, From: from, Text: text})
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "received", "message": "SMS processed successfully"})
}
