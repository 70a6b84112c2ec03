package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryResponse struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	Counterparty  string    `json:"counterparty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary returns balances and recent ledger activity for a wallet.
func (h *Handler) Summary(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balances, err := h.service.Balances(c.UserContext(), walletID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	history, err := h.service.History(c.UserContext(), walletID, c.QueryInt("limit", 10))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	entries := make([]entryResponse, 0, len(history))
	for _, tx := range history {
		entries = append(entries, entryResponse{
			TransactionID: tx.TransactionID,
			Kind:          tx.Kind,
			Asset:         string(tx.Asset),
			Amount:        tx.Amount,
			Counterparty:  tx.Counterparty,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"currency":  balances.Currency,
		"balances": fiber.Map{
			balances.Currency: balances.Fiat,
			"CKBTC":           balances.CkBTC,
			"CKUSDC":          balances.CkUSDC,
		},
		"transactions": entries,
		"timestamp":    balances.AsOf,
	})
}
