package wallet

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

func TestServiceCreateAndBalances(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	wallet, err := svc.Create(ctx, CreateInput{OwnerID: ownerID, Currency: "UGX"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	fetched, err := svc.GetByOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if fetched.ID != wallet.ID {
		t.Fatalf("expected wallet ID %s, got %s", wallet.ID, fetched.ID)
	}

	ledger.SeedBalance(led, wallet.FiatAccount(), 2_500)
	ledger.SeedBalance(led, wallet.AccountCode(currency.CkBTC), 10_000)

	balances, err := svc.Balances(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances.Fiat != 2_500 || balances.CkBTC != 10_000 || balances.CkUSDC != 0 {
		t.Fatalf("unexpected balances %+v", balances)
	}
	if balances.Of(currency.CkBTC) != 10_000 {
		t.Fatalf("Of returned %d", balances.Of(currency.CkBTC))
	}

	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID, Currency: "UGX"}); err == nil {
		t.Fatalf("expected second wallet for owner to fail")
	}
}

func TestServiceRejectsUnknownCurrency(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	if _, err := svc.Create(context.Background(), CreateInput{OwnerID: uuid.NewString(), Currency: "XAF"}); err == nil {
		t.Fatalf("expected unsupported currency error")
	}
}

func TestHistoryMergesAssets(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(NewMemoryRepository(), led)
	ctx := context.Background()
	w, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString(), Currency: "KES"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := led.CashIn(ctx, w.FiatAccount(), "dep-1", 5_000); err != nil {
		t.Fatalf("cash in: %v", err)
	}
	if _, err := led.Transfer(ctx, ledger.SystemAccount("treasury", "CKUSDC"), w.AccountCode(currency.CkUSDC), "buy_crypto", "b-1", 1_000_000); err != nil {
		t.Fatalf("treasury: %v", err)
	}

	history, err := svc.History(ctx, w.ID, 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(history))
	}
	assets := map[currency.Asset]bool{}
	for _, tx := range history {
		assets[tx.Asset] = true
	}
	if !assets["KES"] || !assets[currency.CkUSDC] {
		t.Fatalf("expected fiat and usdc entries, got %+v", history)
	}
}

func TestSummaryHandler(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(NewMemoryRepository(), led)
	w, _ := svc.Create(context.Background(), CreateInput{OwnerID: uuid.NewString(), Currency: "TZS"})
	ledger.SeedBalance(led, w.FiatAccount(), 700)

	app := fiber.New()
	app.Get("/wallets/:walletId", NewHandler(svc).Summary)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/"+w.ID, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Balances map[string]int64 `json:"balances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Balances["TZS"] != 700 {
		t.Fatalf("unexpected balances %+v", body.Balances)
	}

	resp, _ = app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/"+uuid.NewString(), nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown wallet, got %d", resp.StatusCode)
	}
}
