package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/ksuid"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
)

// Ledger kinds of agent postings.
const (
	KindDepositConfirm    = "agent_deposit"
	KindWithdrawalConfirm = "agent_withdrawal"
	KindEscrowHold        = "escrow_hold"
	KindEscrowRelease     = "escrow_release"
	KindEscrowRefund      = "escrow_refund"
)

// Service runs the agent cash desk: users open deposit, withdrawal and escrow codes,
// agents confirm them, and lapsed codes expire.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	accounts *onboarding.Service
	users    *identity.Service
	notifier notification.Notifier
	fraud    *fraud.Policy
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewService builds the agent service. ttl is the code validity.
func NewService(repo Repository, ledger ledger.Ledger, accounts *onboarding.Service, users *identity.Service,
	notifier notification.Notifier, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		accounts: accounts,
		users:    users,
		notifier: notifier,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithFraud screens new requests with p.
func (s *Service) WithFraud(p *fraud.Policy) *Service {
	s.fraud = p
	return s
}

func (s *Service) screen(ctx context.Context, userID, operation, asset string, amount int64) error {
	_, err := s.fraud.Check(ctx, fraud.Activity{UserID: userID, Operation: operation, Asset: currency.Asset(asset), Amount: amount})
	return err
}

// ResolveAgent maps what a user typed as the agent identifier to a staff
// user. Agents are identified by their phone number, with or without +.
func (s *Service) ResolveAgent(ctx context.Context, ref string) (identity.User, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) < 3 {
		return identity.User{}, ErrAgentNotFound
	}
	if !strings.HasPrefix(ref, "+") {
		ref = "+" + ref
	}
	user, err := s.users.FindByPhone(ctx, ref)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, ErrAgentNotFound
		}
		return identity.User{}, err
	}
	if !user.IsStaff() {
		return identity.User{}, ErrAgentNotFound
	}
	return user, nil
}

// DepositInput opens a cash deposit.
type DepositInput struct {
	Phone    string
	AgentRef string
	Amount   int64
}

// CreateDeposit issues a deposit code. Nothing moves on the ledger until the
// agent confirms the cash was received.
func (s *Service) CreateDeposit(ctx context.Context, input DepositInput) (Request, error) {
	if input.Amount <= 0 {
		return Request{}, ledger.ErrInvalidAmount
	}
	profile, err := s.accounts.Lookup(ctx, input.Phone)
	if err != nil {
		return Request{}, err
	}
	agent, err := s.ResolveAgent(ctx, input.AgentRef)
	if err != nil {
		return Request{}, err
	}
	if err := s.screen(ctx, profile.User.ID, KindDeposit, profile.Wallet.Currency, input.Amount); err != nil {
		return Request{}, err
	}
	commission, net := DepositFees(input.Amount)
	req, err := s.issue(ctx, Request{
		Kind:     KindDeposit,
		UserID:   profile.User.ID,
		AgentID:  agent.ID,
		Amount:   input.Amount,
		AgentFee: commission,
		Net:      net,
		Currency: profile.Wallet.Currency,
	})
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, input.Phone, fmt.Sprintf("Deposit code %s for %s %s. Show it to the agent with your cash.",
		req.Code, req.Currency, currency.Format(currency.Asset(req.Currency), req.Amount)))
	return req, nil
}

// WithdrawalInput opens a cash withdrawal.
type WithdrawalInput struct {
	Phone    string
	AgentRef string
	Amount   int64
	PIN      string
}

// CreateWithdrawal verifies the PIN, holds the amount in agent cash suspense
// and issues a withdrawal code.
func (s *Service) CreateWithdrawal(ctx context.Context, input WithdrawalInput) (Request, error) {
	if _, err := s.users.VerifyPIN(ctx, input.Phone, input.PIN); err != nil {
		return Request{}, err
	}
	profile, err := s.accounts.Lookup(ctx, input.Phone)
	if err != nil {
		return Request{}, err
	}
	asset := currency.Asset(profile.Wallet.Currency)
	if input.Amount < currency.ToMinor(asset, MinWithdrawal) || input.Amount > currency.ToMinor(asset, MaxWithdrawal) {
		return Request{}, ErrAmountOutOfRange
	}
	agent, err := s.ResolveAgent(ctx, input.AgentRef)
	if err != nil {
		return Request{}, err
	}
	if err := s.screen(ctx, profile.User.ID, KindWithdrawal, profile.Wallet.Currency, input.Amount); err != nil {
		return Request{}, err
	}

	platform, agentFee, net := WithdrawalFees(input.Amount)
	req := Request{
		ID:       ksuid.New().String(),
		Kind:     KindWithdrawal,
		UserID:   profile.User.ID,
		AgentID:  agent.ID,
		Amount:   input.Amount,
		Fee:      platform,
		AgentFee: agentFee,
		Net:      net,
		Currency: profile.Wallet.Currency,
	}
	if _, err := s.ledger.CashOut(ctx, profile.Wallet.FiatAccount(), req.ID, input.Amount); err != nil {
		return Request{}, err
	}
	issued, err := s.issue(ctx, req)
	if err != nil {
		if rerr := s.release(ctx, req, profile); rerr != nil {
			s.logger.Error("withdrawal hold not released", "request_id", req.ID, "error", rerr)
		}
		return Request{}, err
	}
	s.notify(ctx, input.Phone, fmt.Sprintf("Withdrawal code %s. You will receive %s %s from the agent.",
		issued.Code, issued.Currency, currency.Format(asset, issued.Net)))
	return issued, nil
}

// EscrowInput offers Amount of a crypto token to an agent for cash.
type EscrowInput struct {
	Phone    string
	AgentRef string
	Asset    currency.Asset
	Amount   int64
	PIN      string
}

// CreateEscrow verifies the PIN, moves the tokens into escrow and issues a
// code the user shows the agent. The agent pays the cash and confirms the
// code to receive the tokens.
func (s *Service) CreateEscrow(ctx context.Context, input EscrowInput) (Request, error) {
	if input.Asset != currency.CkBTC && input.Asset != currency.CkUSDC {
		return Request{}, ErrNotCrypto
	}
	if input.Amount <= 0 {
		return Request{}, ledger.ErrInvalidAmount
	}
	if _, err := s.users.VerifyPIN(ctx, input.Phone, input.PIN); err != nil {
		return Request{}, err
	}
	profile, err := s.accounts.Lookup(ctx, input.Phone)
	if err != nil {
		return Request{}, err
	}
	agent, err := s.ResolveAgent(ctx, input.AgentRef)
	if err != nil {
		return Request{}, err
	}
	if err := s.screen(ctx, profile.User.ID, KindEscrow, string(input.Asset), input.Amount); err != nil {
		return Request{}, err
	}

	req := Request{
		ID:       ksuid.New().String(),
		Kind:     KindEscrow,
		UserID:   profile.User.ID,
		AgentID:  agent.ID,
		Amount:   input.Amount,
		Net:      input.Amount,
		Currency: string(input.Asset),
	}
	hold := ledger.Leg{From: profile.Wallet.AccountCode(input.Asset), To: ledger.EscrowAccount(req.Currency), Amount: input.Amount}
	if _, err := s.ledger.Post(ctx, KindEscrowHold, req.ID, hold); err != nil {
		return Request{}, err
	}
	issued, err := s.issue(ctx, req)
	if err != nil {
		if rerr := s.release(ctx, req, profile); rerr != nil {
			s.logger.Error("escrow hold not released", "request_id", req.ID, "error", rerr)
		}
		return Request{}, err
	}
	s.logger.Info("escrow opened", "request_id", issued.ID, "asset", issued.Currency, "amount", issued.Amount, "agent_id", agent.ID)
	s.notify(ctx, input.Phone, fmt.Sprintf("Escrow code %s for %s %s. Show it to the agent to collect your cash.",
		issued.Code, currency.Format(input.Asset, issued.Amount), currency.Label(input.Asset)))
	return issued, nil
}

// CancelEscrow lets the owner withdraw a pending escrow and get the tokens
// back.
func (s *Service) CancelEscrow(ctx context.Context, phone, pin, code string) (Request, error) {
	if _, err := s.users.VerifyPIN(ctx, phone, pin); err != nil {
		return Request{}, err
	}
	profile, err := s.accounts.Lookup(ctx, phone)
	if err != nil {
		return Request{}, err
	}
	req, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Request{}, err
	}
	if req.Kind != KindEscrow {
		return Request{}, ErrWrongKind
	}
	if req.UserID != profile.User.ID {
		return Request{}, ErrWrongUser
	}
	now := s.now().UTC()
	if err := s.repo.Transition(ctx, req.ID, StatusPending, StatusCancelled, now); err != nil {
		return Request{}, err
	}
	if err := s.release(ctx, req, profile); err != nil {
		if rerr := s.repo.Transition(ctx, req.ID, StatusCancelled, StatusPending, now); rerr != nil {
			s.logger.Error("escrow stuck cancelled", "request_id", req.ID, "error", rerr)
		}
		return Request{}, err
	}
	req.Status = StatusCancelled
	req.UpdatedAt = now
	s.logger.Info("escrow cancelled", "request_id", req.ID)
	return req, nil
}

// ConfirmEscrow is called by the agent once the cash is handed over. The
// escrowed tokens move to the agent.
func (s *Service) ConfirmEscrow(ctx context.Context, code string, by identity.User) (Request, error) {
	return s.confirm(ctx, code, KindEscrow, by, func(req Request, _ onboarding.Profile) (string, []ledger.Leg) {
		return KindEscrowRelease, []ledger.Leg{{
			From:   ledger.EscrowAccount(req.Currency),
			To:     ledger.AgentAccount(req.AgentID, req.Currency),
			Amount: req.Amount,
		}}
	})
}

// ConfirmDeposit is called by the agent once cash is received. The user is
// credited the net amount and the agent the commission.
func (s *Service) ConfirmDeposit(ctx context.Context, code string, by identity.User) (Request, error) {
	return s.confirm(ctx, code, KindDeposit, by, func(req Request, profile onboarding.Profile) (string, []ledger.Leg) {
		cash := ledger.AgentCashAccount(req.Currency)
		legs := []ledger.Leg{{From: cash, To: profile.Wallet.FiatAccount(), Amount: req.Net}}
		if req.AgentFee > 0 {
			legs = append(legs, ledger.Leg{From: cash, To: ledger.AgentAccount(req.AgentID, req.Currency), Amount: req.AgentFee})
		}
		return KindDepositConfirm, legs
	})
}

// ConfirmWithdrawal is called by the agent once cash is paid out. The agent
// fee and the platform fee are released from suspense.
func (s *Service) ConfirmWithdrawal(ctx context.Context, code string, by identity.User) (Request, error) {
	return s.confirm(ctx, code, KindWithdrawal, by, func(req Request, _ onboarding.Profile) (string, []ledger.Leg) {
		cash := ledger.AgentCashAccount(req.Currency)
		var legs []ledger.Leg
		if req.AgentFee > 0 {
			legs = append(legs, ledger.Leg{From: cash, To: ledger.AgentAccount(req.AgentID, req.Currency), Amount: req.AgentFee})
		}
		if req.Fee > 0 {
			legs = append(legs, ledger.Leg{From: cash, To: ledger.SystemAccount("fees", req.Currency), Amount: req.Fee})
		}
		return KindWithdrawalConfirm, legs
	})
}

type postingFunc func(req Request, profile onboarding.Profile) (string, []ledger.Leg)

func (s *Service) confirm(ctx context.Context, code, kind string, by identity.User, posting postingFunc) (Request, error) {
	req, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Request{}, err
	}
	if req.Kind != kind {
		return Request{}, ErrWrongKind
	}
	if by.Role != identity.RoleAdmin && req.AgentID != by.ID {
		return Request{}, ErrWrongAgent
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}
	now := s.now().UTC()
	if req.Expired(now) {
		return Request{}, ErrCodeExpired
	}
	profile, err := s.accounts.LookupByID(ctx, req.UserID)
	if err != nil {
		return Request{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, ledger.AgentAccount(req.AgentID, req.Currency)); err != nil {
		return Request{}, err
	}

	if err := s.repo.Transition(ctx, req.ID, StatusPending, StatusConfirmed, now); err != nil {
		return Request{}, err
	}
	ledgerKind, legs := posting(req, profile)
	if len(legs) > 0 {
		if _, err := s.ledger.Post(ctx, ledgerKind, req.ID, legs...); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			if rerr := s.repo.Transition(ctx, req.ID, StatusConfirmed, StatusPending, now); rerr != nil {
				s.logger.Error("agent request stuck confirmed", "request_id", req.ID, "error", rerr)
			}
			return Request{}, err
		}
	}
	req.Status = StatusConfirmed
	req.UpdatedAt = now

	s.logger.Info("agent request confirmed", "request_id", req.ID, "kind", req.Kind, "agent_id", by.ID, "amount", req.Amount)
	s.notify(ctx, profile.User.Phone, confirmationText(req))
	return req, nil
}

func confirmationText(req Request) string {
	asset := currency.Asset(req.Currency)
	switch req.Kind {
	case KindDeposit:
		return fmt.Sprintf("Deposit %s confirmed. %s %s added to your account.", req.Code, req.Currency, currency.Format(asset, req.Net))
	case KindEscrow:
		return fmt.Sprintf("Escrow %s completed. %s %s released to the agent.", req.Code, currency.Format(asset, req.Amount), currency.Label(asset))
	}
	return fmt.Sprintf("Withdrawal %s completed. You received %s %s.", req.Code, req.Currency, currency.Format(asset, req.Net))
}

// ListByAgent returns the requests addressed to agentID, newest first.
func (s *Service) ListByAgent(ctx context.Context, agentID string, limit int) ([]Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByAgent(ctx, agentID, limit)
}

// Stats counts requests per status.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}

// ExpirePending marks lapsed codes expired and returns held funds. The hold
// is released before the status changes, so a failed refund leaves the
// request pending for the next sweep. It returns the number of requests
// expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	now := s.now().UTC()
	lapsed, err := s.repo.ListExpired(ctx, now, 500)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    []error
	)
	for _, req := range lapsed {
		var profile onboarding.Profile
		if req.Holds() {
			if profile, err = s.accounts.LookupByID(ctx, req.UserID); err == nil {
				err = s.release(ctx, req, profile)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("refund %s: %w", req.ID, err))
				continue
			}
		}
		if err := s.repo.Transition(ctx, req.ID, StatusPending, StatusExpired, now); err != nil {
			if !errors.Is(err, ErrNotPending) {
				errs = append(errs, fmt.Errorf("expire %s: %w", req.ID, err))
			}
			continue
		}
		expired++
		if req.Holds() {
			asset := currency.Asset(req.Currency)
			s.notify(ctx, profile.User.Phone, fmt.Sprintf("Code %s expired. %s %s returned to your account.",
				req.Code, currency.Format(asset, req.Amount), currency.Label(asset)))
		}
	}
	if expired > 0 {
		s.logger.Info("agent codes expired", "count", expired)
	}
	return expired, errors.Join(errs...)
}

// release returns the funds held by req to the user. Postings are keyed on
// the request id, so a repeated release is a no-op.
func (s *Service) release(ctx context.Context, req Request, profile onboarding.Profile) error {
	var err error
	switch req.Kind {
	case KindWithdrawal:
		_, err = s.ledger.CashIn(ctx, profile.Wallet.FiatAccount(), req.ID, req.Amount)
	case KindEscrow:
		_, err = s.ledger.Post(ctx, KindEscrowRefund, req.ID, ledger.Leg{
			From:   ledger.EscrowAccount(req.Currency),
			To:     profile.Wallet.AccountCode(currency.Asset(req.Currency)),
			Amount: req.Amount,
		})
	}
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return err
	}
	return nil
}

// issue stamps and stores a request under a fresh code, drawing again on the
// rare code collision.
func (s *Service) issue(ctx context.Context, req Request) (Request, error) {
	if req.ID == "" {
		req.ID = ksuid.New().String()
	}
	now := s.now().UTC()
	req.Status = StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	req.ExpiresAt = now.Add(s.ttl)

	return retry.DoWithData(func() (Request, error) {
		req.Code = newCode(req.Kind)
		if err := s.repo.Create(ctx, req); err != nil {
			if errors.Is(err, ErrCodeExists) {
				return Request{}, err
			}
			return Request{}, retry.Unrecoverable(err)
		}
		return req, nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

// newCode returns DEP-XXXXXX, WDR-XXXXXX or ESC-XXXXXX.
func newCode(kind string) string {
	prefix := "DEP"
	switch kind {
	case KindWithdrawal:
		prefix = "WDR"
	case KindEscrow:
		prefix = "ESC"
	}
	id := strings.ToUpper(ksuid.New().String())
	return prefix + "-" + id[len(id)-6:]
}

func (s *Service) notify(ctx context.Context, phone, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.SMS(notification.KindAgentCode, phone, body)); err != nil {
		s.logger.Warn("agent notification failed", "to", phone, "error", err)
	}
}
