package wallet

import (
	"errors"
	"time"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

var (
	ErrWalletExists   = errors.New("wallet exists")
	ErrWalletNotFound = errors.New("wallet not found")
)

// Wallet represents a user's holdings across fiat, ckBTC and ckUSDC, each
// backed by its own ledger account.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    string
	CreatedAt time.Time
}

// AccountCode returns the ledger account holding asset for this wallet.
func (w Wallet) AccountCode(asset currency.Asset) string {
	return AccountCode(w.ID, asset)
}

// FiatAccount is the ledger account for the wallet's home currency.
func (w Wallet) FiatAccount() string {
	return w.AccountCode(currency.Asset(w.Currency))
}

// Assets lists the assets a wallet holds.
func (w Wallet) Assets() []currency.Asset {
	return []currency.Asset{currency.Asset(w.Currency), currency.CkBTC, currency.CkUSDC}
}

// AccountCode builds wallet:<id>:<ASSET>.
func AccountCode(walletID string, asset currency.Asset) string {
	return "wallet:" + walletID + ":" + string(asset)
}

// Balances encapsulates available funds for a wallet in smallest units.
type Balances struct {
	WalletID string
	Currency string
	Fiat     int64
	CkBTC    int64
	CkUSDC   int64
	AsOf     time.Time
}

// Of returns the balance held in asset.
func (b Balances) Of(asset currency.Asset) int64 {
	switch asset {
	case currency.CkBTC:
		return b.CkBTC
	case currency.CkUSDC:
		return b.CkUSDC
	default:
		return b.Fiat
	}
}

// Transaction is a ledger entry annotated with its asset.
type Transaction struct {
	ledger.Entry
	Asset currency.Asset
}
