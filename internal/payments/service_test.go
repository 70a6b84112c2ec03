package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/middleware"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

type testNotifier struct {
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	ledger   ledger.Ledger
	notifier *testNotifier
	alice    onboarding.Profile
	bob      onboarding.Profile
}

func setup(t *testing.T) fixture {
	t.Helper()
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), nil, identity.PINPolicy{MaxAttempts: 3})
	accounts := onboarding.NewService(users, wallet.NewService(wallet.NewMemoryRepository(), led), logging.Discard())
	notifier := &testNotifier{}

	ctx := context.Background()
	alice, err := accounts.Register(ctx, identity.Registration{Phone: "+256700000001", FirstName: "Alice", LastName: "N", PIN: "1234"})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := accounts.Register(ctx, identity.Registration{Phone: "+256700000002", FirstName: "Bob", LastName: "K", PIN: "5678"})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	ledger.SeedBalance(led, alice.Wallet.FiatAccount(), 1_000_000)

	return fixture{
		svc:      NewService(led, accounts, users, notifier, logging.Discard()),
		ledger:   led,
		notifier: notifier,
		alice:    alice,
		bob:      bob,
	}
}

func TestSendFee(t *testing.T) {
	cases := map[int64]int64{100_000: 500, 1_000: 5, 1_099: 5, 1_100: 6, 0: 0}
	for amount, want := range cases {
		if got := SendFee(amount); got != want {
			t.Fatalf("SendFee(%d) = %d, want %d", amount, got, want)
		}
	}
}

func TestSendSuccess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 100_000, PIN: "1234", ClientTxID: "s1"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if res.Fee != 500 || res.SenderBalance != 899_500 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, _ := f.ledger.Balance(ctx, f.bob.Wallet.FiatAccount()); got != 100_000 {
		t.Fatalf("recipient balance = %d", got)
	}
	if got, _ := f.ledger.Balance(ctx, ledger.SystemAccount("fees", "UGX")); got != 500 {
		t.Fatalf("fee balance = %d", got)
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(f.notifier.sent))
	}
	if !strings.HasPrefix(f.notifier.sent[0].Body, "You sent UGX 1000.00. Ref: ") {
		t.Fatalf("unexpected sender receipt %q", f.notifier.sent[0].Body)
	}
	if f.notifier.sent[1].Destination != "+256700000002" || !strings.HasPrefix(f.notifier.sent[1].Body, "You received UGX 1000.00.") {
		t.Fatalf("unexpected recipient receipt %+v", f.notifier.sent[1])
	}
}

func TestSendReplayDoesNotDoubleSpend(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 5_000, PIN: "1234", ClientTxID: "dup"}

	first, err := f.svc.Send(ctx, in)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := f.svc.Send(ctx, in)
	if !errors.Is(err, ErrDuplicateTransfer) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("replay returned a different transaction")
	}
	if got, _ := f.ledger.Balance(ctx, f.bob.Wallet.FiatAccount()); got != 5_000 {
		t.Fatalf("recipient credited twice: %d", got)
	}
}

func TestSendRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{"self", SendInput{FromPhone: "+256700000001", ToPhone: "+256700000001", Amount: 5_000, PIN: "1234"}, ErrSelfTransfer},
		{"wrong pin", SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 5_000, PIN: "0000"}, identity.ErrInvalidPIN},
		{"unknown recipient", SendInput{FromPhone: "+256700000001", ToPhone: "+256799999999", Amount: 5_000, PIN: "1234"}, ErrRecipientNotFound},
		{"too small", SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 999, PIN: "1234"}, ErrAmountOutOfRange},
		{"too large", SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 100_000_001, PIN: "1234"}, ErrAmountOutOfRange},
		{"insufficient", SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 1_000_000, PIN: "1234"}, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := f.svc.Send(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestQuote(t *testing.T) {
	f := setup(t)
	q, err := f.svc.Quote(context.Background(), "+256700000001", 1_000_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Fee != 5_000 || q.Total != 1_005_000 || q.Covered() {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestSendScreenedByFraudPolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	limits := map[string]fraud.Limits{"default": {Max: 500, Review: 200}}
	f.svc.WithFraud(fraud.NewPolicy(limits, nil, logging.Discard()))

	_, err := f.svc.Send(ctx, SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 100_000, PIN: "1234"})
	if !errors.Is(err, fraud.ErrBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if b, _ := f.ledger.Balance(ctx, f.alice.Wallet.FiatAccount()); b != 1_000_000 {
		t.Fatalf("blocked send moved money: %d", b)
	}

	f.svc.WithFraud(fraud.NewPolicy(nil, middleware.NewMemoryLimiter(1, time.Hour), logging.Discard()))
	if _, err := f.svc.Send(ctx, SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 10_000, PIN: "1234"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = f.svc.Send(ctx, SendInput{FromPhone: "+256700000001", ToPhone: "+256700000002", Amount: 10_000, PIN: "1234"})
	if !errors.Is(err, fraud.ErrTooManyRequests) {
		t.Fatalf("expected rate cap, got %v", err)
	}
	if b, _ := f.ledger.Balance(ctx, f.bob.Wallet.FiatAccount()); b != 10_000 {
		t.Fatalf("recipient balance = %d", b)
	}
}
