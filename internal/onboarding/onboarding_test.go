package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

func newService() (*Service, ledger.Ledger) {
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), nil, identity.PINPolicy{})
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	return NewService(users, wallets, logging.Discard()), led
}

func TestRegisterProvisionsWallet(t *testing.T) {
	svc, led := newService()
	ctx := context.Background()

	p, err := svc.Register(ctx, identity.Registration{Phone: "+254712345678", FirstName: "Amina", LastName: "Otieno", PIN: "4321"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.User.Currency != "KES" || p.Wallet.Currency != "KES" {
		t.Fatalf("expected KES wallet, got user=%s wallet=%s", p.User.Currency, p.Wallet.Currency)
	}
	for _, asset := range p.Wallet.Assets() {
		if _, err := led.Balance(ctx, p.Wallet.AccountCode(asset)); err != nil {
			t.Fatalf("account %s not provisioned: %v", asset, err)
		}
	}

	got, err := svc.Lookup(ctx, "+254712345678")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Wallet.ID != p.Wallet.ID {
		t.Fatalf("lookup returned wallet %s, want %s", got.Wallet.ID, p.Wallet.ID)
	}
	byID, err := svc.LookupByID(ctx, p.User.ID)
	if err != nil || byID.User.Phone != p.User.Phone {
		t.Fatalf("lookup by id: %+v %v", byID, err)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	reg := identity.Registration{Phone: "+256700000001", FirstName: "A", LastName: "B", PIN: "1111"}
	if _, err := svc.Register(ctx, reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, reg); !errors.Is(err, identity.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegisterDemo(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	ok, err := svc.Registered(ctx, "+254700000009")
	if err != nil || ok {
		t.Fatalf("expected unregistered, got %v %v", ok, err)
	}
	p, err := svc.RegisterDemo(ctx, "+254700000009")
	if err != nil {
		t.Fatalf("register demo: %v", err)
	}
	if p.User.FullName() != "Demo User" || p.Wallet.Currency != "UGX" {
		t.Fatalf("unexpected demo profile: %+v", p)
	}
	if ok, _ := svc.Registered(ctx, "+254700000009"); !ok {
		t.Fatalf("expected demo user to be registered")
	}
}
