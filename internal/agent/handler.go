package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

var validate = validator.New()

// Handler exposes the agent desk to staff.
type Handler struct {
	service *Service
	users   *identity.Service
}

// NewHandler constructs an agent handler.
func NewHandler(service *Service, users *identity.Service) *Handler {
	return &Handler{service: service, users: users}
}

// ConfirmDeposit credits a user once the agent has taken the cash.
func (h *Handler) ConfirmDeposit(c *fiber.Ctx) error {
	return h.confirm(c, h.service.ConfirmDeposit)
}

// ConfirmWithdrawal settles fees once the agent has paid out the cash.
func (h *Handler) ConfirmWithdrawal(c *fiber.Ctx) error {
	return h.confirm(c, h.service.ConfirmWithdrawal)
}

// ConfirmEscrow releases escrowed tokens to the agent once the seller has
// been paid in cash.
func (h *Handler) ConfirmEscrow(c *fiber.Ctx) error {
	return h.confirm(c, h.service.ConfirmEscrow)
}

// List returns the caller's requests.
func (h *Handler) List(c *fiber.Ctx) error {
	staff, err := h.staff(c)
	if err != nil {
		return err
	}
	requests, err := h.service.ListByAgent(c.UserContext(), staff.ID, c.QueryInt("limit", 50))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RequestResponse, 0, len(requests))
	for _, r := range requests {
		out = append(out, toResponse(r))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"requests": out, "count": len(out)})
}

type confirmFunc func(ctx context.Context, code string, by identity.User) (Request, error)

func (h *Handler) confirm(c *fiber.Ctx, fn confirmFunc) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "code is required")
	}
	staff, err := h.staff(c)
	if err != nil {
		return err
	}

	result, err := fn(c.UserContext(), req.Code, staff)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrWrongAgent), errors.Is(err, ErrWrongUser):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrNotPending):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrWrongKind), errors.Is(err, ErrNotCrypto), errors.Is(err, ledger.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

func (h *Handler) staff(c *fiber.Ctx) (identity.User, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return identity.User{}, fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	user, err := h.users.FindByID(c.UserContext(), uid)
	if err != nil {
		return identity.User{}, fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return user, nil
}
