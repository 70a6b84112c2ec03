package ussd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/i18n"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/payments"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

const (
	senderPhone    = "+256700000001"
	recipientPhone = "+256700000002"
	agentPhone     = "+256700000099"
)

type fixture struct {
	svc      *Service
	backends Backends
	ledger   ledger.Ledger
	sender   onboarding.Profile
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), nil, identity.PINPolicy{MaxAttempts: 10})
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	accounts := onboarding.NewService(users, wallets, logging.Discard())
	rates := &exchange.StaticProvider{Snapshot: exchange.Snapshot{BTCUSD: 50_000, USDCUSD: 1, FiatUSD: map[string]float64{"UGX": 1 / 4_000.0}}}
	backends := Backends{
		Accounts: accounts,
		Users:    users,
		Wallets:  wallets,
		Payments: payments.NewService(led, accounts, users, nil, logging.Discard()),
		Agents:   agent.NewService(agent.NewMemoryRepository(), led, accounts, users, nil, logging.Discard(), 24*time.Hour),
		Exchange: exchange.NewService(led, accounts, users, rates, nil, logging.Discard()),
	}

	sender, err := accounts.Register(ctx, identity.Registration{Phone: senderPhone, FirstName: "Sam", LastName: "Okello", PIN: "1234"})
	require.NoError(t, err)
	_, err = accounts.Register(ctx, identity.Registration{Phone: recipientPhone, FirstName: "Ruth", LastName: "Nakato", PIN: "5678"})
	require.NoError(t, err)
	_, err = accounts.Register(ctx, identity.Registration{Phone: agentPhone, FirstName: "Kato", LastName: "Agent", PIN: "9999", Role: identity.RoleAgent})
	require.NoError(t, err)
	ledger.SeedBalance(led, sender.Wallet.FiatAccount(), 200_000_00)

	return fixture{
		svc:      NewService(NewMemorySessionStore(5*time.Minute), backends, logging.Discard(), 5*time.Minute),
		backends: backends,
		ledger:   led,
		sender:   sender,
	}
}

func (f fixture) dial(t *testing.T, session, phone, text string) Response {
	t.Helper()
	resp, err := f.svc.Process(context.Background(), Request{SessionID: session, Phone: phone, ServiceCode: "*22948#", Text: text})
	require.NoError(t, err)
	return resp
}

func (f fixture) balance(t *testing.T, asset currency.Asset) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), f.sender.Wallet.AccountCode(asset))
	require.NoError(t, err)
	return b
}

const thanks = "Thank you for using AfriTokeni!"

func TestRegistrationFlow(t *testing.T) {
	f := newFixture(t)
	phone := "+254712345678"
	steps := []struct {
		text string
		want string
	}{
		{"", "Welcome to AfriTokeni!\n\nTo get started, please set your 4-digit PIN:\n\nEnter PIN"},
		{"12", "Invalid PIN format\n\nEnter your 4-digit PIN:"},
		{"12*4321", "Enter your first name:"},
		{"12*4321*Amina", "Enter your last name:"},
		{"12*4321*Amina*Otieno", "Detected currency: KES\n\n1. Confirm\n2. Change currency"},
		{"12*4321*Amina*Otieno*2", i18n.T(i18n.English, "select_currency")},
		{"12*4321*Amina*Otieno*2*9", "Invalid choice.\n\n" + i18n.T(i18n.English, "select_currency")},
	}
	for _, step := range steps {
		resp := f.dial(t, "reg-1", phone, step.text)
		assert.True(t, resp.Continue, step.text)
		assert.Equal(t, step.want, resp.Text, step.text)
	}

	resp := f.dial(t, "reg-1", phone, "12*4321*Amina*Otieno*2*9*3")
	assert.True(t, resp.Continue)
	assert.Equal(t, "Registration successful!\n\nWelcome Amina Otieno!\n\n"+i18n.MainMenu(i18n.English, "TZS"), resp.Text)

	user, err := f.backends.Users.FindByPhone(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, "TZS", user.Currency)
	_, err = f.backends.Users.VerifyPIN(context.Background(), phone, "4321")
	require.NoError(t, err)

	resp = f.dial(t, "reg-1", phone, "12*4321*Amina*Otieno*2*9*3*1")
	assert.True(t, strings.HasPrefix(resp.Text, "Local Currency (TZS)\n"), resp.Text)
}

func TestRegistrationConfirmsDetectedCurrency(t *testing.T) {
	f := newFixture(t)
	phone := "+256711000000"
	for _, text := range []string{"", "4321", "4321*Jane", "4321*Jane*Auma"} {
		f.dial(t, "reg-2", phone, text)
	}
	resp := f.dial(t, "reg-2", phone, "4321*Jane*Auma*1")
	assert.Contains(t, resp.Text, "Welcome Jane Auma!")

	p, err := f.backends.Accounts.Lookup(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, "UGX", p.Wallet.Currency)
}

func TestIdleSessionStartsOver(t *testing.T) {
	f := newFixture(t)
	clock := time.Now()
	f.svc.now = func() time.Time { return clock }
	phone := "+256711000001"

	f.dial(t, "reg-3", phone, "")
	assert.Equal(t, "Enter your first name:", f.dial(t, "reg-3", phone, "4321").Text)

	clock = clock.Add(10 * time.Minute)
	resp := f.dial(t, "reg-3", phone, "4321*Amina")
	assert.Equal(t, i18n.T(i18n.English, "registration_intro"), resp.Text)
}

func TestPlaygroundAutoRegisters(t *testing.T) {
	f := newFixture(t)
	resp := f.dial(t, "playground_abc", "+256700000050", "")
	assert.True(t, resp.Continue)
	assert.Equal(t, "Welcome back Demo User!\n\n"+i18n.MainMenu(i18n.English, "UGX"), resp.Text)

	again := f.dial(t, "playground_abc", "+256700000050", "")
	assert.Equal(t, resp.Text, again.Text)

	_, err := f.backends.Users.VerifyPIN(context.Background(), "+256700000050", onboarding.DemoPIN)
	require.NoError(t, err)
}

func TestNavigation(t *testing.T) {
	f := newFixture(t)
	menu := i18n.MainMenu(i18n.English, "UGX")
	help := "For support\n\nCall: +256-XXX-XXXX\nVisit: afritokeni.com\n\n0. Back | 9. Menu"

	assert.Equal(t, "Welcome back!\n\n"+menu, f.dial(t, "nav", senderPhone, "").Text)
	assert.Equal(t, menu, f.dial(t, "nav", senderPhone, "9").Text)
	assert.Equal(t, menu, f.dial(t, "nav", senderPhone, "1*0").Text)
	assert.Equal(t, help, f.dial(t, "nav", senderPhone, "6").Text)
	assert.Equal(t, help, f.dial(t, "nav", senderPhone, "1*0*6").Text)
	assert.Equal(t, menu, f.dial(t, "nav", senderPhone, "8").Text)
	assert.Contains(t, f.dial(t, "nav", senderPhone, "5").Text, "DAO Governance")
}

func TestBalanceAndHistory(t *testing.T) {
	f := newFixture(t)
	resp := f.dial(t, "bal", senderPhone, "1*2")
	assert.Equal(t, "Your balance is:\nUGX: 200000.00\nckBTC: 0.00000000\nckUSDC: 0.00\n\n0. Back | 9. Menu", resp.Text)

	assert.Contains(t, f.dial(t, "hist", senderPhone, "1*5").Text, "No transactions found")
	f.dial(t, "send", senderPhone, "1*1*"+recipientPhone+"*1000*1234")
	hist := f.dial(t, "hist", senderPhone, "1*5").Text
	assert.True(t, strings.HasPrefix(hist, "Recent Transactions\n\n1. Transfer -"), hist)
	assert.NotContains(t, hist, payments.KindSend)

	f.dial(t, "lang", senderPhone, "7*3")
	hist = f.dial(t, "hist-sw", senderPhone, "1*5").Text
	assert.True(t, strings.HasPrefix(hist, i18n.T(i18n.Swahili, "recent_transactions")+"\n\n1. "+i18n.T(i18n.Swahili, "tx_send_money")+" -"), hist)
}

func TestFindAgent(t *testing.T) {
	f := newFixture(t)
	resp := f.dial(t, "agents", senderPhone, "1*6")
	assert.Equal(t, "Available agents near you:\n1. Kato Agent - "+agentPhone+"\n\n0. Back | 9. Menu", resp.Text)
}

func TestSendMoneyFlow(t *testing.T) {
	f := newFixture(t)
	base := "1*1*" + recipientPhone

	assert.Contains(t, f.dial(t, "s1", senderPhone, "1*1").Text, "Enter recipient phone number:")
	assert.True(t, strings.HasPrefix(f.dial(t, "s1", senderPhone, "1*1*0700").Text, "Invalid phone number\n"))
	assert.True(t, strings.HasPrefix(f.dial(t, "s1", senderPhone, "1*1*"+senderPhone).Text, "Cannot send to your own number\n"))
	assert.Equal(t, "Enter amount (UGX):", f.dial(t, "s1", senderPhone, base).Text)
	assert.Equal(t, "Amount must be between 10 and 1,000,000\nEnter amount (UGX):", f.dial(t, "s1", senderPhone, base+"*5").Text)
	assert.Equal(t, "Confirm transaction?\nTo: +256700000002\nAmount: UGX 1000.00\nFee: UGX 5.00\nTotal: UGX 1005.00\n\nEnter your 4-digit PIN",
		f.dial(t, "s1", senderPhone, base+"*1000").Text)

	failed := f.dial(t, "s1", senderPhone, base+"*1000*0000")
	assert.False(t, failed.Continue)
	assert.Equal(t, "Transaction failed: Incorrect PIN\n\n"+thanks, failed.Text)

	done := f.dial(t, "s1", senderPhone, base+"*1000*1234")
	assert.False(t, done.Continue)
	assert.Equal(t, "Transaction successful!\nSent UGX 1000.00 to +256700000002\nNew balance: UGX 198995.00\n\n"+thanks, done.Text)
	assert.Equal(t, int64(198_995_00), f.balance(t, "UGX"))

	short := f.dial(t, "s2", senderPhone, base+"*1000000")
	assert.False(t, short.Continue)
	assert.True(t, strings.HasPrefix(short.Text, "Insufficient balance!\n"), short.Text)
}

func TestSendMoneyReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	text := "1*1*" + recipientPhone + "*1000*1234"
	f.dial(t, "retry", senderPhone, text)
	f.dial(t, "retry", senderPhone, text)
	assert.Equal(t, int64(198_995_00), f.balance(t, "UGX"))
}

func TestDepositFlow(t *testing.T) {
	f := newFixture(t)
	agentRef := strings.TrimPrefix(agentPhone, "+")

	assert.Contains(t, f.dial(t, "d1", senderPhone, "1*3").Text, "Enter agent ID:")
	assert.True(t, strings.HasPrefix(f.dial(t, "d1", senderPhone, "1*3*256700000077").Text, "Agent not found\n"))
	assert.Equal(t, "Enter amount (UGX):", f.dial(t, "d1", senderPhone, "1*3*"+agentRef).Text)
	assert.Equal(t, i18n.T(i18n.English, "invalid_amount")+"\nEnter amount (UGX):", f.dial(t, "d1", senderPhone, "1*3*"+agentRef+"*nan").Text)
	assert.Equal(t, "Deposit\nAmount: UGX 10000.00\nCommission: UGX 50.00\nYou receive: UGX 9950.00\n\n1. Confirm\n2. Cancel",
		f.dial(t, "d1", senderPhone, "1*3*"+agentRef+"*10000").Text)

	cancelled := f.dial(t, "d1", senderPhone, "1*3*"+agentRef+"*10000*2")
	assert.Equal(t, "Transaction cancelled\n\n"+thanks, cancelled.Text)

	created := f.dial(t, "d2", senderPhone, "1*3*"+agentRef+"*10000*1")
	assert.False(t, created.Continue)
	assert.True(t, strings.HasPrefix(created.Text, "Deposit request created\nDeposit code: DEP-"), created.Text)
	assert.Equal(t, int64(200_000_00), f.balance(t, "UGX"))
}

func TestWithdrawFlow(t *testing.T) {
	f := newFixture(t)
	agentRef := strings.TrimPrefix(agentPhone, "+")
	base := "1*4*100000*" + agentRef

	assert.Contains(t, f.dial(t, "w1", senderPhone, "1*4").Text, "Withdraw between 100,000 and 1,000,000")
	assert.Contains(t, f.dial(t, "w1", senderPhone, "1*4*50000").Text, "Withdraw between 100,000 and 1,000,000")
	assert.Contains(t, f.dial(t, "w1", senderPhone, "1*4*nan*"+agentRef).Text, "Withdraw between 100,000 and 1,000,000")
	assert.Equal(t, "Enter agent ID:", f.dial(t, "w1", senderPhone, "1*4*100000").Text)
	assert.Equal(t, "Withdraw Cash\nAmount: UGX 100000.00\nPlatform fee: UGX 500.00\nAgent fee: UGX 10000.00\nYou receive: UGX 89500.00\n\n1. Confirm\n2. Cancel",
		f.dial(t, "w1", senderPhone, base).Text)
	assert.Equal(t, "Enter your 4-digit PIN", f.dial(t, "w1", senderPhone, base+"*1").Text)

	done := f.dial(t, "w1", senderPhone, base+"*1*1234")
	assert.False(t, done.Continue)
	assert.True(t, strings.HasPrefix(done.Text, "Withdrawal Created!\nCode: WDR-"), done.Text)
	assert.Contains(t, done.Text, "You will receive: UGX 89500.00")
	assert.Contains(t, done.Text, "Valid: 24 hours")
	assert.Equal(t, int64(100_000_00), f.balance(t, "UGX"))

	over := f.dial(t, "w2", senderPhone, "1*4*150000")
	assert.False(t, over.Continue)
	assert.True(t, strings.HasPrefix(over.Text, "Insufficient balance!\n"), over.Text)
}

func TestBitcoinMenu(t *testing.T) {
	f := newFixture(t)

	assert.True(t, strings.HasPrefix(f.dial(t, "b1", senderPhone, "2").Text, "Bitcoin (ckBTC)\n"))
	assert.Equal(t, "Bitcoin rate\n1 ckBTC = UGX 200000000.00\n\n0. Back | 9. Menu", f.dial(t, "b1", senderPhone, "2*2").Text)
	assert.Equal(t, "Purchase Quote\nYou pay: UGX 100000.00\nYou receive: 0.00050000 ckBTC\n\nEnter your 4-digit PIN",
		f.dial(t, "b1", senderPhone, "2*3*100000").Text)

	bought := f.dial(t, "b1", senderPhone, "2*3*100000*1234")
	assert.Equal(t, "Transaction successful!\nBought 0.00050000 ckBTC\nNew balance: 0.00050000 ckBTC\n\n"+thanks, bought.Text)
	assert.Equal(t, int64(50_000), f.balance(t, currency.CkBTC))
	assert.Equal(t, int64(100_000_00), f.balance(t, "UGX"))

	assert.Equal(t, "Sale Quote\nSell: 0.00050000 ckBTC\nYou receive: UGX 100000.00\n\nEnter your 4-digit PIN",
		f.dial(t, "b2", senderPhone, "2*4*0.0005").Text)
	assert.True(t, strings.HasPrefix(f.dial(t, "b2", senderPhone, "2*4*1").Text, "Insufficient balance!"))

	sold := f.dial(t, "b2", senderPhone, "2*4*0.0005*1234")
	assert.False(t, sold.Continue)
	assert.Contains(t, sold.Text, "Sold 0.00050000 ckBTC")
	assert.Equal(t, int64(200_000_00), f.balance(t, "UGX"))
}

func TestSellBitcoinToAgent(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.ledger, f.sender.Wallet.AccountCode(currency.CkBTC), 100_000)
	agentRef := strings.TrimPrefix(agentPhone, "+")
	base := "2*6*0.0006*" + agentRef

	assert.Contains(t, f.dial(t, "e1", senderPhone, "2").Text, "6. Sell to agent (cash)")
	assert.Equal(t, "Sell to agent (cash)\nEnter BTC amount:", f.dial(t, "e1", senderPhone, "2*6").Text)
	assert.True(t, strings.HasPrefix(f.dial(t, "e1", senderPhone, "2*6*0.002").Text, "Insufficient balance!"))
	assert.Equal(t, "Enter agent ID:", f.dial(t, "e1", senderPhone, "2*6*0.0006").Text)
	assert.True(t, strings.HasPrefix(f.dial(t, "e1", senderPhone, "2*6*0.0006*256700000077").Text, "Agent not found\n"))
	assert.Equal(t, "Sell to agent (cash)\nAmount: 0.00060000 ckBTC\nAgent: Kato Agent\n~ UGX 120000.00\n\n1. Confirm\n2. Cancel",
		f.dial(t, "e1", senderPhone, base).Text)
	assert.Equal(t, "Enter your 4-digit PIN", f.dial(t, "e1", senderPhone, base+"*1").Text)

	done := f.dial(t, "e1", senderPhone, base+"*1*1234")
	assert.False(t, done.Continue)
	assert.True(t, strings.HasPrefix(done.Text, "Escrow Created!\nCode: ESC-"), done.Text)
	assert.Contains(t, done.Text, "Amount: 0.00060000 ckBTC")
	assert.Equal(t, int64(40_000), f.balance(t, currency.CkBTC))

	hist := f.dial(t, "e2", senderPhone, "1*5").Text
	assert.Contains(t, hist, "1. Sold to agent -0.00060000 ckBTC")
}

func TestFraudPolicyBlocksLargeSend(t *testing.T) {
	f := newFixture(t)
	f.backends.Payments.WithFraud(fraud.NewPolicy(map[string]fraud.Limits{"default": {Max: 500, Review: 200}}, nil, logging.Discard()))

	resp := f.dial(t, "fr", senderPhone, "1*1*"+recipientPhone+"*1000*1234")
	assert.False(t, resp.Continue)
	assert.Equal(t, "Transaction failed: Amount exceeds the allowed limit\n\n"+thanks, resp.Text)
	assert.Equal(t, int64(200_000_00), f.balance(t, "UGX"))
}

func TestSendBitcoin(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.ledger, f.sender.Wallet.AccountCode(currency.CkBTC), 100_000)
	addr := "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

	assert.Contains(t, f.dial(t, "sb", senderPhone, "2*5").Text, "Enter Bitcoin address:")
	assert.True(t, strings.HasPrefix(f.dial(t, "sb", senderPhone, "2*5*xyz").Text, "Invalid Bitcoin address\n"))
	assert.Equal(t, "Enter BTC amount:", f.dial(t, "sb", senderPhone, "2*5*"+addr).Text)
	assert.Equal(t, "Confirm transaction?\nTo: "+addr+"\nAmount: 0.00050000 ckBTC\n\nEnter your 4-digit PIN",
		f.dial(t, "sb", senderPhone, "2*5*"+addr+"*0.0005").Text)

	sent := f.dial(t, "sb", senderPhone, "2*5*"+addr+"*0.0005*1234")
	assert.False(t, sent.Continue)
	assert.True(t, strings.HasPrefix(sent.Text, "Sent successfully!\n"), sent.Text)
	assert.Equal(t, int64(50_000), f.balance(t, currency.CkBTC))
}

func TestSendUSDCToPhone(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.ledger, f.sender.Wallet.AccountCode(currency.CkUSDC), 10_000_000)

	assert.True(t, strings.HasPrefix(f.dial(t, "su", senderPhone, "3*5*nope").Text, "Invalid recipient."))
	sent := f.dial(t, "su", senderPhone, "3*5*"+recipientPhone+"*2.5*1234")
	assert.False(t, sent.Continue)
	assert.Equal(t, int64(7_500_000), f.balance(t, currency.CkUSDC))

	recipient, err := f.backends.Accounts.Lookup(context.Background(), recipientPhone)
	require.NoError(t, err)
	got, err := f.ledger.Balance(context.Background(), recipient.Wallet.AccountCode(currency.CkUSDC))
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), got)
}

func TestSwapFlow(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.ledger, f.sender.Wallet.AccountCode(currency.CkBTC), 100_000)

	assert.Contains(t, f.dial(t, "sw", senderPhone, "4").Text, "Swap from:")
	assert.Contains(t, f.dial(t, "sw", senderPhone, "4*1").Text, "Swap to:")
	same := f.dial(t, "sw", senderPhone, "4*1*1")
	assert.False(t, same.Continue)
	assert.Equal(t, "Cannot swap a token for itself\n\n"+thanks, same.Text)

	assert.Equal(t, "Swap Crypto\nAmount: 0.00100000 ckBTC\nSpread: 0.00000500 ckBTC\nYou receive: 49.75 ckUSDC\n\n1. Confirm\n2. Cancel",
		f.dial(t, "sw2", senderPhone, "4*1*2*100000").Text)
	assert.Equal(t, "Enter your 4-digit PIN", f.dial(t, "sw2", senderPhone, "4*1*2*100000*1").Text)

	done := f.dial(t, "sw2", senderPhone, "4*1*2*100000*1*1234")
	assert.False(t, done.Continue)
	assert.True(t, strings.HasPrefix(done.Text, "Swap successful!\n"), done.Text)
	assert.Equal(t, int64(0), f.balance(t, currency.CkBTC))
	assert.Equal(t, int64(49_750_000), f.balance(t, currency.CkUSDC))
}

func TestLanguageSelection(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.dial(t, "lang", senderPhone, "7").Text, "1. English\n2. Luganda\n3. Swahili")

	resp := f.dial(t, "lang", senderPhone, "7*3")
	assert.Equal(t, i18n.T(i18n.Swahili, "language_set")+"\n\n"+i18n.MainMenu(i18n.Swahili, "UGX"), resp.Text)

	user, err := f.backends.Users.FindByPhone(context.Background(), senderPhone)
	require.NoError(t, err)
	assert.Equal(t, "sw", user.Language)
	assert.True(t, strings.HasPrefix(f.dial(t, "lang2", senderPhone, "").Text, "Welcome back!\n\n"+i18n.MainMenu(i18n.Swahili, "UGX")))
}
