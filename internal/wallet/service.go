package wallet

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

const (
	statusActive = "active"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and its three ledger accounts.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}
	if !currency.IsFiat(input.Currency) {
		return Wallet{}, fmt.Errorf("unsupported currency %q", input.Currency)
	}

	wallet := Wallet{
		ID:        uuid.New().String(),
		OwnerID:   input.OwnerID,
		Currency:  input.Currency,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
	}

	for _, asset := range wallet.Assets() {
		if err := s.ledger.EnsureAccount(ctx, wallet.AccountCode(asset)); err != nil {
			return Wallet{}, err
		}
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet belonging to a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance of one asset in the wallet.
func (s *Service) Balance(ctx context.Context, w Wallet, asset currency.Asset) (int64, error) {
	return s.ledger.Balance(ctx, w.AccountCode(asset))
}

// Balances returns fiat, ckBTC and ckUSDC balances for the wallet.
func (s *Service) Balances(ctx context.Context, id string) (Balances, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balances{}, err
	}
	out := Balances{WalletID: w.ID, Currency: w.Currency, AsOf: time.Now().UTC()}
	if out.Fiat, err = s.ledger.Balance(ctx, w.FiatAccount()); err != nil {
		return Balances{}, err
	}
	if out.CkBTC, err = s.ledger.Balance(ctx, w.AccountCode(currency.CkBTC)); err != nil {
		return Balances{}, err
	}
	if out.CkUSDC, err = s.ledger.Balance(ctx, w.AccountCode(currency.CkUSDC)); err != nil {
		return Balances{}, err
	}
	return out, nil
}

// History merges the entries of all wallet accounts, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]Transaction, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []Transaction
	for _, asset := range w.Assets() {
		entries, err := s.ledger.History(ctx, w.AccountCode(asset), limit)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, Transaction{Entry: e, Asset: asset})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
