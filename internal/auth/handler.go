package auth

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/identity"
)

var validate = validator.New()

// Handler exposes the staff login endpoint.
type Handler struct {
	svc *Service
}

// NewHandler builds the auth handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Phone string `json:"phone" validate:"required,startswith=+"`
	PIN   string `json:"pin" validate:"required,len=4,numeric"`
}

// Login validates credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "phone and 4-digit pin are required")
	}
	session, err := h.svc.Login(c.UserContext(), req.Phone, req.PIN)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotStaff):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, identity.ErrPINLocked):
			return fiber.NewError(http.StatusTooManyRequests, err.Error())
		case errors.Is(err, identity.ErrInvalidPIN), errors.Is(err, identity.ErrUserNotFound):
			return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
		default:
			h.svc.logger.Error("staff login failed", "phone", req.Phone, "error", err)
			return fiber.ErrInternalServerError
		}
	}
	return c.Status(http.StatusOK).JSON(session)
}
