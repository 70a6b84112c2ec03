package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

func TestHandlerConfirmDeposit(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), nil, identity.PINPolicy{})
	accounts := onboarding.NewService(users, wallet.NewService(wallet.NewMemoryRepository(), led), logging.Discard())
	svc := NewService(NewMemoryRepository(), led, accounts, users, nil, logging.Discard(), 0)

	_, err := accounts.Register(ctx, identity.Registration{Phone: "+256700000001", FirstName: "U", LastName: "One", PIN: "1234"})
	require.NoError(t, err)
	agent, err := accounts.Register(ctx, identity.Registration{Phone: "+256700000099", FirstName: "A", LastName: "Gent", PIN: "1234", Role: identity.RoleAgent})
	require.NoError(t, err)
	req, err := svc.CreateDeposit(ctx, DepositInput{Phone: "+256700000001", AgentRef: "256700000099", Amount: 10_000})
	require.NoError(t, err)

	h := NewHandler(svc, users)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", agent.User.ID)
		return c.Next()
	})
	app.Post("/deposits/confirm", h.ConfirmDeposit)
	app.Get("/requests", h.List)

	post := func(body string) *http.Response {
		r := httptest.NewRequest(http.MethodPost, "/deposits/confirm", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(r)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusBadRequest, post(`{}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, post(`{"code":"DEP-NOPE00"}`).StatusCode)

	resp := post(`{"code":"` + req.Code + `"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out RequestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, int64(9_950), out.Net)

	assert.Equal(t, http.StatusConflict, post(`{"code":"`+req.Code+`"}`).StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/requests", nil))
	require.NoError(t, err)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Count)
}

func TestHandlerConfirmEscrow(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	ledger.SeedBalance(d.ledger, d.user.Wallet.AccountCode(currency.CkUSDC), 5_000_000)
	escrow, err := d.svc.CreateEscrow(ctx, EscrowInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Asset: currency.CkUSDC, Amount: 5_000_000, PIN: "1234"})
	require.NoError(t, err)
	deposit, err := d.svc.CreateDeposit(ctx, DepositInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: 10_000})
	require.NoError(t, err)

	app := fiber.New()
	caller := d.other.User.ID
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", caller)
		return c.Next()
	})
	app.Post("/escrows/confirm", NewHandler(d.svc, d.users).ConfirmEscrow)
	post := func(code string) int {
		r := httptest.NewRequest(http.MethodPost, "/escrows/confirm", strings.NewReader(`{"code":"`+code+`"}`))
		r.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(r)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post(escrow.Code))
	caller = d.agent.User.ID
	assert.Equal(t, http.StatusBadRequest, post(deposit.Code))
	assert.Equal(t, http.StatusOK, post(escrow.Code))
	assert.Equal(t, http.StatusConflict, post(escrow.Code))
	assert.Equal(t, int64(5_000_000), d.balance(t, ledger.AgentAccount(d.agent.User.ID, string(currency.CkUSDC))))
}
