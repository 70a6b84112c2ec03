package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
)

// KindSend is the ledger kind of a phone-to-phone transfer.
const KindSend = "send_money"

// Limits for a single send, in major units.
const (
	MinSend = 10
	MaxSend = 1_000_000
)

var (
	ErrSelfTransfer      = errors.New("cannot send to self")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrAmountOutOfRange  = errors.New("amount out of range")
	ErrCurrencyMismatch  = errors.New("recipient holds a different currency")
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrDuplicateTransfer = ledger.ErrDuplicateTransaction
)

// Service moves fiat between registered phones.
type Service struct {
	ledger   ledger.Ledger
	accounts *onboarding.Service
	users    *identity.Service
	notifier notification.Notifier
	fraud    *fraud.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a payment service.
func NewService(ledger ledger.Ledger, accounts *onboarding.Service, users *identity.Service, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, accounts: accounts, users: users, notifier: notifier, logger: logger, now: time.Now}
}

// WithFraud screens every send through p before it is posted.
func (s *Service) WithFraud(p *fraud.Policy) *Service {
	s.fraud = p
	return s
}

// SendFee is the platform fee on a send: 0.5%, rounded to the nearest
// minor unit.
func SendFee(amount int64) int64 {
	return (amount*5 + 500) / 1000
}

// Quote describes what a send will cost the sender.
type Quote struct {
	Currency string
	Amount   int64
	Fee      int64
	Total    int64
	Balance  int64
}

// Covered reports whether the balance covers amount plus fee.
func (q Quote) Covered() bool {
	return q.Balance >= q.Total
}

// Quote prices a send of amount minor units from phone.
func (s *Service) Quote(ctx context.Context, fromPhone string, amount int64) (Quote, error) {
	sender, err := s.accounts.Lookup(ctx, fromPhone)
	if err != nil {
		return Quote{}, err
	}
	if err := checkRange(sender.Wallet.Currency, amount); err != nil {
		return Quote{}, err
	}
	balance, err := s.ledger.Balance(ctx, sender.Wallet.FiatAccount())
	if err != nil {
		return Quote{}, err
	}
	fee := SendFee(amount)
	return Quote{Currency: sender.Wallet.Currency, Amount: amount, Fee: fee, Total: amount + fee, Balance: balance}, nil
}

// SendInput captures a transfer request.
type SendInput struct {
	FromPhone  string
	ToPhone    string
	Amount     int64
	PIN        string
	ClientTxID string
}

// SendResult describes the ledger outcome of a transfer.
type SendResult struct {
	TransactionID string
	Currency      string
	Amount        int64
	Fee           int64
	SenderBalance int64
	Recipient     string
	CompletedAt   time.Time
}

// Send verifies the sender's PIN and posts amount to the recipient and the
// fee to the platform in one transaction.
func (s *Service) Send(ctx context.Context, input SendInput) (SendResult, error) {
	if input.FromPhone == input.ToPhone {
		return SendResult{}, ErrSelfTransfer
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.New().String()
	}

	if _, err := s.users.VerifyPIN(ctx, input.FromPhone, input.PIN); err != nil {
		return SendResult{}, err
	}
	sender, err := s.accounts.Lookup(ctx, input.FromPhone)
	if err != nil {
		return SendResult{}, err
	}
	if err := checkRange(sender.Wallet.Currency, input.Amount); err != nil {
		return SendResult{}, err
	}
	recipient, err := s.accounts.Lookup(ctx, input.ToPhone)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return SendResult{}, ErrRecipientNotFound
		}
		return SendResult{}, err
	}
	if recipient.Wallet.Currency != sender.Wallet.Currency {
		return SendResult{}, ErrCurrencyMismatch
	}

	cur := sender.Wallet.Currency
	if _, err := s.fraud.Check(ctx, fraud.Activity{UserID: sender.User.ID, Operation: KindSend, Asset: currency.Asset(cur), Amount: input.Amount}); err != nil {
		return SendResult{}, err
	}
	fee := SendFee(input.Amount)
	legs := []ledger.Leg{{From: sender.Wallet.FiatAccount(), To: recipient.Wallet.FiatAccount(), Amount: input.Amount}}
	if fee > 0 {
		legs = append(legs, ledger.Leg{From: sender.Wallet.FiatAccount(), To: ledger.SystemAccount("fees", cur), Amount: fee})
	}

	res, err := s.ledger.Post(ctx, KindSend, input.ClientTxID, legs...)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return SendResult{}, err
	}
	out := SendResult{
		TransactionID: res.TransactionID,
		Currency:      cur,
		Amount:        input.Amount,
		Fee:           fee,
		SenderBalance: res.Balances[sender.Wallet.FiatAccount()],
		Recipient:     recipient.User.FullName(),
		CompletedAt:   s.now().UTC(),
	}
	if err != nil {
		return out, err
	}

	s.logger.Info("money sent", "transaction_id", res.TransactionID, "currency", cur, "amount", input.Amount, "fee", fee)
	s.receipts(ctx, input, out)
	return out, nil
}

func (s *Service) receipts(ctx context.Context, input SendInput, res SendResult) {
	if s.notifier == nil {
		return
	}
	amount := currency.Format(currency.Asset(res.Currency), res.Amount)
	messages := []notification.Message{
		notification.SMS(notification.KindTransfer, input.FromPhone,
			fmt.Sprintf("You sent %s %s. Ref: %s. Thank you for using AfriTokeni!", res.Currency, amount, res.TransactionID)),
		notification.SMS(notification.KindTransfer, input.ToPhone,
			fmt.Sprintf("You received %s %s. Ref: %s. Thank you for using AfriTokeni!", res.Currency, amount, res.TransactionID)),
	}
	for _, m := range messages {
		if err := s.notifier.Send(ctx, m); err != nil {
			s.logger.Warn("transfer receipt failed", "to", m.Destination, "error", err)
		}
	}
}

func checkRange(cur string, amount int64) error {
	asset := currency.Asset(cur)
	if amount < currency.ToMinor(asset, MinSend) || amount > currency.ToMinor(asset, MaxSend) {
		return ErrAmountOutOfRange
	}
	return nil
}
