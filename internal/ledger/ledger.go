package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting references an account that
	// was never provisioned.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// KindCashIn moves agent cash into a wallet.
	KindCashIn = "cash_in"
	// KindCashOut moves wallet funds into agent cash suspense.
	KindCashOut = "cash_out"

	systemPrefix   = "system:"
	suspensePrefix = "suspense:"
	agentCashCode  = "suspense:agent_cash"
	escrowCode     = "suspense:escrow"
)

// SystemAccount returns the platform account for a purpose (fees, treasury,
// outbound) and asset.
func SystemAccount(purpose, asset string) string {
	return systemPrefix + purpose + ":" + asset
}

// AgentCashAccount holds physical cash in transit through agents for an asset.
func AgentCashAccount(asset string) string {
	return agentCashCode + ":" + asset
}

// EscrowAccount holds crypto a user has committed to an agent sale.
func EscrowAccount(asset string) string {
	return escrowCode + ":" + asset
}

// AgentAccount accrues commissions earned by an agent.
func AgentAccount(agentID, asset string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, asset)
}

// AllowsOverdraft reports whether the account may carry a negative balance.
// Platform and suspense accounts are also provisioned on first use.
func AllowsOverdraft(code string) bool {
	return strings.HasPrefix(code, systemPrefix) || strings.HasPrefix(code, suspensePrefix)
}

// AssetOf returns the asset suffix of an account code.
func AssetOf(code string) string {
	if i := strings.LastIndex(code, ":"); i >= 0 {
		return code[i+1:]
	}
	return code
}

// Leg moves Amount from one account to another within a posting.
type Leg struct {
	From   string
	To     string
	Amount int64
}

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// PostingResult captures the outcome of a multi-leg posting, with the
// post-commit balance of every touched account.
type PostingResult struct {
	TransactionID string
	Balances      map[string]int64
}

// CashResult captures the outcome of an agent cash movement.
type CashResult struct {
	TransactionID string
	WalletBalance int64
}

// Entry is one side of a posting as seen from a single account.
type Entry struct {
	TransactionID string
	Kind          string
	Account       string
	Counterparty  string
	Amount        int64
	CreatedAt     time.Time
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
	Post(ctx context.Context, kind, clientTxID string, legs ...Leg) (PostingResult, error)
	CashIn(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error)
	CashOut(ctx context.Context, walletCode, clientTxID string, amount int64) (CashResult, error)
	History(ctx context.Context, code string, limit int) ([]Entry, error)
}

func validateLegs(legs []Leg) error {
	if len(legs) == 0 {
		return ErrInvalidAmount
	}
	for _, leg := range legs {
		if leg.Amount <= 0 {
			return ErrInvalidAmount
		}
		if leg.From == leg.To {
			return fmt.Errorf("leg %s moves funds to itself", leg.From)
		}
	}
	return nil
}

// accountCodes returns the distinct codes touched by legs in a stable order so
// row locks are always taken in the same sequence.
func accountCodes(legs []Leg) []string {
	seen := make(map[string]struct{}, len(legs)*2)
	for _, leg := range legs {
		seen[leg.From] = struct{}{}
		seen[leg.To] = struct{}{}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func netDeltas(legs []Leg) map[string]int64 {
	deltas := make(map[string]int64)
	for _, leg := range legs {
		deltas[leg.From] -= leg.Amount
		deltas[leg.To] += leg.Amount
	}
	return deltas
}

func cashLeg(kind, walletCode string, amount int64) Leg {
	suspense := AgentCashAccount(AssetOf(walletCode))
	if kind == KindCashIn {
		return Leg{From: suspense, To: walletCode, Amount: amount}
	}
	return Leg{From: walletCode, To: suspense, Amount: amount}
}
