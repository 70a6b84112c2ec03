package agent

import (
	"errors"
	"time"
)

// Request kinds.
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
	// KindEscrow sells crypto to an agent for cash. The tokens are held in
	// escrow until the agent confirms paying out.
	KindEscrow = "escrow"
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Withdrawal limits in major units.
const (
	MinWithdrawal = 100_000
	MaxWithdrawal = 1_000_000
)

var (
	ErrRequestNotFound  = errors.New("agent request not found")
	ErrCodeExists       = errors.New("agent code already issued")
	ErrCodeExpired      = errors.New("agent code expired")
	ErrNotPending       = errors.New("agent request is not pending")
	ErrWrongKind        = errors.New("code belongs to a different request type")
	ErrWrongAgent       = errors.New("request belongs to another agent")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrNotCrypto        = errors.New("escrow needs a crypto token")
	ErrWrongUser        = errors.New("request belongs to another user")
)

// Request is a pending cash movement a user has opened with an agent. The
// user hands Code to the agent, who confirms it through the staff API.
type Request struct {
	ID        string
	Code      string
	Kind      string
	UserID    string
	AgentID   string
	Amount    int64
	Fee       int64
	AgentFee  int64
	Net       int64
	Currency  string
	Status    string
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Holds reports whether the user's funds were taken when the request was
// opened and must be returned if it lapses.
func (r Request) Holds() bool {
	return r.Kind == KindWithdrawal || r.Kind == KindEscrow
}

// Expired reports whether the code is past its validity at now.
func (r Request) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// DepositFees returns the agent commission (0.5%, rounded down) and the net
// amount credited to the user.
func DepositFees(amount int64) (commission, net int64) {
	commission = amount * 50 / 10_000
	return commission, amount - commission
}

// WithdrawalFees returns the platform fee (0.5%) and the agent fee (10%),
// each rounded to the nearest minor unit, and the cash the user receives.
func WithdrawalFees(amount int64) (platform, agentFee, net int64) {
	platform = (amount*5 + 500) / 1000
	agentFee = (amount + 5) / 10
	return platform, agentFee, amount - platform - agentFee
}
