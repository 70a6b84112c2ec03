package verification

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// SendRequest is the body of POST /api/send-sms.
type SendRequest struct {
	PhoneNumber      string `json:"phoneNumber" validate:"required"`
	Message          string `json:"message" validate:"required"`
	VerificationCode string `json:"verificationCode"`
	UserID           string `json:"userId"`
}

// VerifyRequest is the body of POST /api/verify-code.
type VerifyRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Code        string `json:"code" validate:"required"`
}

// Handler serves the public SMS and verification endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a verification handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func failure(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// internalError logs err and answers with a fixed message; provider and
// store errors stay out of public responses.
func (h *Handler) internalError(c *fiber.Ctx, op string, err error) error {
	h.logger.Error("verification request failed", "operation", op, "error", err)
	return failure(c, http.StatusInternalServerError, "Internal server error")
}

// SendSMS sends a message, or a verification code when one is supplied.
func (h *Handler) SendSMS(c *fiber.Ctx) error {
	var req SendRequest
	_ = c.BodyParser(&req)
	if err := validate.Struct(req); err != nil {
		return failure(c, http.StatusBadRequest, "Phone number and message are required")
	}

	ctx := c.UserContext()
	if req.VerificationCode != "" {
		if err := h.service.Issue(ctx, req.PhoneNumber, req.VerificationCode, req.UserID); err != nil {
			return h.internalError(c, "issue_code", err)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"success":   true,
			"message":   "Verification code sent successfully",
			"messageId": fmt.Sprintf("msg_%d", time.Now().UnixMilli()),
		})
	}

	id, err := h.service.Send(ctx, req.PhoneNumber, req.Message)
	if err != nil {
		return h.internalError(c, "send_sms", err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "message": "SMS sent successfully", "messageId": id})
}

// VerifyCode checks a code issued by SendSMS.
func (h *Handler) VerifyCode(c *fiber.Ctx) error {
	var req VerifyRequest
	_ = c.BodyParser(&req)
	if err := validate.Struct(req); err != nil {
		return failure(c, http.StatusBadRequest, "Phone number and code are required")
	}

	userID, err := h.service.Verify(c.UserContext(), req.PhoneNumber, req.Code)
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return failure(c, http.StatusBadRequest, "No verification code found for this number")
	case errors.Is(err, ErrCodeExpired):
		return failure(c, http.StatusBadRequest, "Verification code has expired")
	case errors.Is(err, ErrCodeMismatch):
		return failure(c, http.StatusBadRequest, "Invalid verification code")
	case err != nil:
		return h.internalError(c, "verify_code", err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "message": "Code verified successfully", "userId": userID})
}
