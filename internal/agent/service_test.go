package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

type desk struct {
	svc    *Service
	ledger ledger.Ledger
	users  *identity.Service
	user   onboarding.Profile
	agent  onboarding.Profile
	other  onboarding.Profile
	clock  *time.Time
}

func newDesk(t *testing.T) desk {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), nil, identity.PINPolicy{})
	accounts := onboarding.NewService(users, wallet.NewService(wallet.NewMemoryRepository(), led), logging.Discard())

	register := func(phone, role string) onboarding.Profile {
		p, err := accounts.Register(ctx, identity.Registration{Phone: phone, FirstName: "T", LastName: role, PIN: "1234", Role: role})
		if err != nil {
			t.Fatalf("register %s: %v", phone, err)
		}
		return p
	}

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepository(), led, accounts, users, nil, logging.Discard(), time.Hour)
	d := desk{
		svc:    svc,
		ledger: led,
		users:  users,
		user:   register("+256700000001", identity.RoleUser),
		agent:  register("+256700000099", identity.RoleAgent),
		other:  register("+256700000098", identity.RoleAgent),
		clock:  &clock,
	}
	svc.now = func() time.Time { return *d.clock }
	return d
}

func (d desk) balance(t *testing.T, code string) int64 {
	t.Helper()
	b, err := d.ledger.Balance(context.Background(), code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	return b
}

func TestFees(t *testing.T) {
	commission, net := DepositFees(100_000)
	if commission != 500 || net != 99_500 {
		t.Fatalf("deposit fees = %d/%d", commission, net)
	}
	platform, agentFee, net := WithdrawalFees(10_000_000)
	if platform != 50_000 || agentFee != 1_000_000 || net != 8_950_000 {
		t.Fatalf("withdrawal fees = %d/%d/%d", platform, agentFee, net)
	}
}

func TestDepositConfirm(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	req, err := d.svc.CreateDeposit(ctx, DepositInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: 100_000})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if !strings.HasPrefix(req.Code, "DEP-") || req.Status != StatusPending || req.AgentID != d.agent.User.ID {
		t.Fatalf("unexpected request: %+v", req)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 0 {
		t.Fatalf("deposit credited before confirmation: %d", got)
	}

	if _, err := d.svc.ConfirmDeposit(ctx, req.Code, d.other.User); !errors.Is(err, ErrWrongAgent) {
		t.Fatalf("expected wrong agent, got %v", err)
	}
	if _, err := d.svc.ConfirmWithdrawal(ctx, req.Code, d.agent.User); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected wrong kind, got %v", err)
	}

	confirmed, err := d.svc.ConfirmDeposit(ctx, strings.ToLower(req.Code), d.agent.User)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("status = %s", confirmed.Status)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 99_500 {
		t.Fatalf("user balance = %d", got)
	}
	if got := d.balance(t, ledger.AgentAccount(d.agent.User.ID, "UGX")); got != 500 {
		t.Fatalf("agent commission = %d", got)
	}
	if got := d.balance(t, ledger.AgentCashAccount("UGX")); got != -100_000 {
		t.Fatalf("agent cash suspense = %d", got)
	}

	if _, err := d.svc.ConfirmDeposit(ctx, req.Code, d.agent.User); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending on second confirm, got %v", err)
	}
}

func TestWithdrawalHoldAndConfirm(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	ledger.SeedBalance(d.ledger, d.user.Wallet.FiatAccount(), 20_000_000)

	if _, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "+256700000099", Amount: 9_999_999, PIN: "1234"}); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "+256700000099", Amount: 10_000_000, PIN: "9999"}); !errors.Is(err, identity.ErrInvalidPIN) {
		t.Fatalf("expected invalid pin, got %v", err)
	}
	if _, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "+256700000001", Amount: 10_000_000, PIN: "1234"}); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected agent not found for a plain user, got %v", err)
	}

	req, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "+256700000099", Amount: 10_000_000, PIN: "1234"})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if !strings.HasPrefix(req.Code, "WDR-") {
		t.Fatalf("unexpected code %s", req.Code)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 10_000_000 {
		t.Fatalf("amount not held: %d", got)
	}

	if _, err := d.svc.ConfirmWithdrawal(ctx, req.Code, d.agent.User); err != nil {
		t.Fatalf("confirm withdrawal: %v", err)
	}
	if got := d.balance(t, ledger.AgentAccount(d.agent.User.ID, "UGX")); got != 1_000_000 {
		t.Fatalf("agent fee = %d", got)
	}
	if got := d.balance(t, ledger.SystemAccount("fees", "UGX")); got != 50_000 {
		t.Fatalf("platform fee = %d", got)
	}
	if got := d.balance(t, ledger.AgentCashAccount("UGX")); got != 8_950_000 {
		t.Fatalf("cash paid out = %d", got)
	}
}

func TestExpirePendingRefundsWithdrawals(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	ledger.SeedBalance(d.ledger, d.user.Wallet.FiatAccount(), 10_000_000)

	wdr, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: 10_000_000, PIN: "1234"})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	dep, err := d.svc.CreateDeposit(ctx, DepositInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: 5_000})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}

	if n, err := d.svc.ExpirePending(ctx); err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: %d %v", n, err)
	}

	*d.clock = d.clock.Add(2 * time.Hour)
	if _, err := d.svc.ConfirmDeposit(ctx, dep.Code, d.agent.User); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected expired code, got %v", err)
	}

	n, err := d.svc.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 10_000_000 {
		t.Fatalf("withdrawal hold not refunded: %d", got)
	}
	if _, err := d.svc.ConfirmWithdrawal(ctx, wdr.Code, d.agent.User); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}

	stats, err := d.svc.Stats(ctx)
	if err != nil || stats[StatusExpired] != 2 {
		t.Fatalf("stats = %v %v", stats, err)
	}
}

func TestListByAgent(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		*d.clock = d.clock.Add(time.Minute)
		if _, err := d.svc.CreateDeposit(ctx, DepositInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: int64(1_000 * (i + 1))}); err != nil {
			t.Fatalf("create deposit: %v", err)
		}
	}
	list, err := d.svc.ListByAgent(ctx, d.agent.User.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Amount != 3_000 {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if other, _ := d.svc.ListByAgent(ctx, d.other.User.ID, 0); len(other) != 0 {
		t.Fatalf("other agent sees %d requests", len(other))
	}
}

// flakyLedger fails the next failCashIn refunds.
type flakyLedger struct {
	ledger.Ledger
	failCashIn int
}

func (l *flakyLedger) CashIn(ctx context.Context, walletCode, clientTxID string, amount int64) (ledger.CashResult, error) {
	if l.failCashIn > 0 {
		l.failCashIn--
		return ledger.CashResult{}, errors.New("ledger unavailable")
	}
	return l.Ledger.CashIn(ctx, walletCode, clientTxID, amount)
}

func TestExpirePendingRetriesFailedRefund(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	ledger.SeedBalance(d.ledger, d.user.Wallet.FiatAccount(), 50_000_000)
	flaky := &flakyLedger{Ledger: d.ledger, failCashIn: 1}
	d.svc.ledger = flaky

	wdr, err := d.svc.CreateWithdrawal(ctx, WithdrawalInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Amount: 20_000_000, PIN: "1234"})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	*d.clock = d.clock.Add(2 * time.Hour)

	n, err := d.svc.ExpirePending(ctx)
	if err == nil || n != 0 {
		t.Fatalf("first sweep should report the failed refund: %d %v", n, err)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 30_000_000 {
		t.Fatalf("balance after failed refund = %d", got)
	}
	stats, err := d.svc.Stats(ctx)
	if err != nil || stats[StatusPending] != 1 || stats[StatusExpired] != 0 {
		t.Fatalf("request must stay pending until refunded: %v %v", stats, err)
	}

	n, err = d.svc.ExpirePending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("second sweep: %d %v", n, err)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 50_000_000 {
		t.Fatalf("withdrawal hold not refunded: %d", got)
	}
	if n, err := d.svc.ExpirePending(ctx); err != nil || n != 0 {
		t.Fatalf("third sweep: %d %v", n, err)
	}
	if got := d.balance(t, d.user.Wallet.FiatAccount()); got != 50_000_000 {
		t.Fatalf("refund applied twice: %d", got)
	}
	if _, err := d.svc.ConfirmWithdrawal(ctx, wdr.Code, d.agent.User); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestEscrowConfirm(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	btc := d.user.Wallet.AccountCode(currency.CkBTC)
	ledger.SeedBalance(d.ledger, btc, 100_000)

	req, err := d.svc.CreateEscrow(ctx, EscrowInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Asset: currency.CkBTC, Amount: 60_000, PIN: "1234"})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if !strings.HasPrefix(req.Code, "ESC-") || req.Kind != KindEscrow || req.Currency != string(currency.CkBTC) {
		t.Fatalf("unexpected request: %+v", req)
	}
	if got := d.balance(t, btc); got != 40_000 {
		t.Fatalf("tokens not held: %d", got)
	}
	if got := d.balance(t, ledger.EscrowAccount(string(currency.CkBTC))); got != 60_000 {
		t.Fatalf("escrow balance = %d", got)
	}

	if _, err := d.svc.ConfirmEscrow(ctx, req.Code, d.other.User); !errors.Is(err, ErrWrongAgent) {
		t.Fatalf("expected wrong agent, got %v", err)
	}
	if _, err := d.svc.ConfirmDeposit(ctx, req.Code, d.agent.User); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected wrong kind, got %v", err)
	}
	if _, err := d.svc.ConfirmEscrow(ctx, req.Code, d.agent.User); err != nil {
		t.Fatalf("confirm escrow: %v", err)
	}
	if got := d.balance(t, ledger.AgentAccount(d.agent.User.ID, string(currency.CkBTC))); got != 60_000 {
		t.Fatalf("agent tokens = %d", got)
	}
	if got := d.balance(t, ledger.EscrowAccount(string(currency.CkBTC))); got != 0 {
		t.Fatalf("escrow not drained: %d", got)
	}
	if _, err := d.svc.CancelEscrow(ctx, d.user.User.Phone, "1234", req.Code); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending after confirm, got %v", err)
	}
}

func TestEscrowCancelAndExpiry(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	btc := d.user.Wallet.AccountCode(currency.CkBTC)
	ledger.SeedBalance(d.ledger, btc, 100_000)
	open := func(amount int64) Request {
		t.Helper()
		req, err := d.svc.CreateEscrow(ctx, EscrowInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Asset: currency.CkBTC, Amount: amount, PIN: "1234"})
		if err != nil {
			t.Fatalf("create escrow: %v", err)
		}
		return req
	}

	if _, err := d.svc.CreateEscrow(ctx, EscrowInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Asset: currency.Asset("UGX"), Amount: 1_000, PIN: "1234"}); !errors.Is(err, ErrNotCrypto) {
		t.Fatalf("expected not crypto, got %v", err)
	}
	if _, err := d.svc.CreateEscrow(ctx, EscrowInput{Phone: d.user.User.Phone, AgentRef: "256700000099", Asset: currency.CkBTC, Amount: 200_000, PIN: "1234"}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	cancelled := open(30_000)
	open(20_000)
	if got := d.balance(t, btc); got != 50_000 {
		t.Fatalf("held balance = %d", got)
	}

	if _, err := d.svc.CancelEscrow(ctx, d.other.User.Phone, "1234", cancelled.Code); !errors.Is(err, ErrWrongUser) {
		t.Fatalf("expected wrong user, got %v", err)
	}
	if _, err := d.svc.CancelEscrow(ctx, d.user.User.Phone, "1234", cancelled.Code); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := d.balance(t, btc); got != 80_000 {
		t.Fatalf("balance after cancel = %d", got)
	}

	*d.clock = d.clock.Add(2 * time.Hour)
	n, err := d.svc.ExpirePending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expire: %d %v", n, err)
	}
	if got := d.balance(t, btc); got != 100_000 {
		t.Fatalf("expired escrow not refunded: %d", got)
	}
	stats, err := d.svc.Stats(ctx)
	if err != nil || stats[StatusCancelled] != 1 || stats[StatusExpired] != 1 {
		t.Fatalf("stats = %v %v", stats, err)
	}
}
