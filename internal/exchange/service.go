package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
)

// Ledger kinds.
const (
	KindBuy        = "buy_crypto"
	KindSell       = "sell_crypto"
	KindSwap       = "swap"
	KindSendCrypto = "send_crypto"
)

// SpreadBasisPoints is the platform spread taken on swaps (0.5%).
const SpreadBasisPoints = 50

var (
	ErrNotCrypto         = errors.New("asset is not a crypto token")
	ErrSameAsset         = errors.New("cannot swap a token for itself")
	ErrAmountTooSmall    = errors.New("amount too small to convert")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSelfTransfer      = errors.New("cannot send to self")
)

// IsCrypto reports whether asset is ckBTC or ckUSDC.
func IsCrypto(asset currency.Asset) bool {
	return asset == currency.CkBTC || asset == currency.CkUSDC
}

// Spread returns the platform cut of a swap, rounded down.
func Spread(amount int64) int64 {
	return amount * SpreadBasisPoints / 10_000
}

// Service converts between fiat and crypto balances. The platform treasury is
// the counterparty of every conversion.
type Service struct {
	ledger   ledger.Ledger
	accounts *onboarding.Service
	users    *identity.Service
	rates    Provider
	notifier notification.Notifier
	fraud    *fraud.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds an exchange service.
func NewService(ledger ledger.Ledger, accounts *onboarding.Service, users *identity.Service, rates Provider,
	notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, accounts: accounts, users: users, rates: rates, notifier: notifier, logger: logger, now: time.Now}
}

// WithFraud screens conversions and crypto sends through p.
func (s *Service) WithFraud(p *fraud.Policy) *Service {
	s.fraud = p
	return s
}

// Rates exposes the current snapshot.
func (s *Service) Rates(ctx context.Context) (Snapshot, error) {
	return s.rates.Rates(ctx)
}

// Price returns what one unit of crypto costs in fiat.
func (s *Service) Price(ctx context.Context, crypto currency.Asset, fiat string) (float64, error) {
	snap, err := s.rates.Rates(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Price(crypto, fiat)
}

// Quote describes a conversion before it is executed.
type Quote struct {
	From   currency.Asset
	To     currency.Asset
	Amount int64
	Spread int64
	Out    int64
}

// Quote prices converting amount of from into to. Swaps between crypto
// tokens carry the spread; fiat conversions do not.
func (s *Service) Quote(ctx context.Context, from, to currency.Asset, amount int64) (Quote, error) {
	if amount <= 0 {
		return Quote{}, ledger.ErrInvalidAmount
	}
	snap, err := s.rates.Rates(ctx)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{From: from, To: to, Amount: amount}
	if IsCrypto(from) && IsCrypto(to) {
		q.Spread = Spread(amount)
	}
	q.Out, err = snap.Convert(from, to, amount-q.Spread)
	if err != nil {
		return Quote{}, err
	}
	if q.Out <= 0 {
		return Quote{}, ErrAmountTooSmall
	}
	return q, nil
}

// TradeInput requests a conversion on behalf of Phone.
type TradeInput struct {
	Phone      string
	Crypto     currency.Asset
	Amount     int64
	PIN        string
	ClientTxID string
}

// Trade is the settled outcome of a conversion.
type Trade struct {
	TransactionID string
	Quote
	FromBalance int64
	ToBalance   int64
	CompletedAt time.Time
}

// Buy spends Amount of the user's fiat on Crypto.
func (s *Service) Buy(ctx context.Context, in TradeInput) (Trade, error) {
	if !IsCrypto(in.Crypto) {
		return Trade{}, ErrNotCrypto
	}
	return s.convert(ctx, KindBuy, in.Phone, in.PIN, in.ClientTxID, func(p onboarding.Profile) (currency.Asset, currency.Asset) {
		return currency.Asset(p.Wallet.Currency), in.Crypto
	}, in.Amount)
}

// Sell converts Amount of the user's Crypto into fiat.
func (s *Service) Sell(ctx context.Context, in TradeInput) (Trade, error) {
	if !IsCrypto(in.Crypto) {
		return Trade{}, ErrNotCrypto
	}
	return s.convert(ctx, KindSell, in.Phone, in.PIN, in.ClientTxID, func(p onboarding.Profile) (currency.Asset, currency.Asset) {
		return in.Crypto, currency.Asset(p.Wallet.Currency)
	}, in.Amount)
}

// SwapInput requests a crypto-to-crypto swap.
type SwapInput struct {
	Phone      string
	From       currency.Asset
	To         currency.Asset
	Amount     int64
	PIN        string
	ClientTxID string
}

// Swap exchanges one crypto token for the other. The spread goes to the
// platform fee account of the source token.
func (s *Service) Swap(ctx context.Context, in SwapInput) (Trade, error) {
	if !IsCrypto(in.From) || !IsCrypto(in.To) {
		return Trade{}, ErrNotCrypto
	}
	if in.From == in.To {
		return Trade{}, ErrSameAsset
	}
	return s.convert(ctx, KindSwap, in.Phone, in.PIN, in.ClientTxID, func(onboarding.Profile) (currency.Asset, currency.Asset) {
		return in.From, in.To
	}, in.Amount)
}

type pairFunc func(p onboarding.Profile) (from, to currency.Asset)

func (s *Service) convert(ctx context.Context, kind, phone, pin, clientTxID string, pair pairFunc, amount int64) (Trade, error) {
	if _, err := s.users.VerifyPIN(ctx, phone, pin); err != nil {
		return Trade{}, err
	}
	profile, err := s.accounts.Lookup(ctx, phone)
	if err != nil {
		return Trade{}, err
	}
	from, to := pair(profile)
	q, err := s.Quote(ctx, from, to, amount)
	if err != nil {
		return Trade{}, err
	}
	if _, err := s.fraud.Check(ctx, fraud.Activity{UserID: profile.User.ID, Operation: kind, Asset: from, Amount: q.Amount}); err != nil {
		return Trade{}, err
	}
	if clientTxID == "" {
		clientTxID = uuid.New().String()
	}

	src, dst := profile.Wallet.AccountCode(from), profile.Wallet.AccountCode(to)
	legs := []ledger.Leg{
		{From: src, To: ledger.SystemAccount("treasury", string(from)), Amount: q.Amount - q.Spread},
		{From: ledger.SystemAccount("treasury", string(to)), To: dst, Amount: q.Out},
	}
	if q.Spread > 0 {
		legs = append(legs, ledger.Leg{From: src, To: ledger.SystemAccount("fees", string(from)), Amount: q.Spread})
	}

	res, err := s.ledger.Post(ctx, kind, clientTxID, legs...)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Trade{}, err
	}
	trade := Trade{
		TransactionID: res.TransactionID,
		Quote:         q,
		FromBalance:   res.Balances[src],
		ToBalance:     res.Balances[dst],
		CompletedAt:   s.now().UTC(),
	}
	if err != nil {
		return trade, err
	}
	s.logger.Info("conversion settled", "kind", kind, "transaction_id", res.TransactionID,
		"from", from, "to", to, "amount", q.Amount, "out", q.Out, "spread", q.Spread)
	return trade, nil
}

// SendInput moves crypto to another user or an external address.
type SendInput struct {
	Phone      string
	Asset      currency.Asset
	Recipient  string
	Amount     int64
	PIN        string
	ClientTxID string
}

// Transfer is the outcome of a crypto send.
type Transfer struct {
	TransactionID string
	Asset         currency.Asset
	Amount        int64
	Recipient     string
	Internal      bool
	Balance       int64
}

// SendCrypto sends Amount of Asset. A recipient that is a registered phone
// number is credited directly; anything else must be a valid external
// address and is booked to the outbound account.
func (s *Service) SendCrypto(ctx context.Context, in SendInput) (Transfer, error) {
	if !IsCrypto(in.Asset) {
		return Transfer{}, ErrNotCrypto
	}
	if in.Amount <= 0 {
		return Transfer{}, ledger.ErrInvalidAmount
	}
	in.Recipient = strings.TrimSpace(in.Recipient)
	if in.Recipient == in.Phone {
		return Transfer{}, ErrSelfTransfer
	}
	if _, err := s.users.VerifyPIN(ctx, in.Phone, in.PIN); err != nil {
		return Transfer{}, err
	}
	sender, err := s.accounts.Lookup(ctx, in.Phone)
	if err != nil {
		return Transfer{}, err
	}

	out := Transfer{Asset: in.Asset, Amount: in.Amount, Recipient: in.Recipient}
	var target string
	switch {
	case strings.HasPrefix(in.Recipient, "+"):
		recipient, err := s.accounts.Lookup(ctx, in.Recipient)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return Transfer{}, ErrRecipientNotFound
			}
			return Transfer{}, err
		}
		target = recipient.Wallet.AccountCode(in.Asset)
		out.Internal = true
	case ValidAddress(in.Asset, in.Recipient):
		target = ledger.SystemAccount("outbound", string(in.Asset))
	default:
		return Transfer{}, ErrInvalidAddress
	}

	if _, err := s.fraud.Check(ctx, fraud.Activity{UserID: sender.User.ID, Operation: KindSendCrypto, Asset: in.Asset, Amount: in.Amount}); err != nil {
		return Transfer{}, err
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.New().String()
	}
	src := sender.Wallet.AccountCode(in.Asset)
	res, err := s.ledger.Transfer(ctx, src, target, KindSendCrypto, in.ClientTxID, in.Amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Transfer{}, err
	}
	out.TransactionID = res.TransactionID
	out.Balance = res.FromBalance
	if err != nil {
		return out, err
	}

	s.logger.Info("crypto sent", "transaction_id", res.TransactionID, "asset", in.Asset, "amount", in.Amount, "internal", out.Internal)
	s.receipts(ctx, in, out)
	return out, nil
}

func (s *Service) receipts(ctx context.Context, in SendInput, t Transfer) {
	if s.notifier == nil {
		return
	}
	amount := currency.Format(t.Asset, t.Amount) + " " + currency.Label(t.Asset)
	messages := []notification.Message{
		notification.SMS(notification.KindCrypto, in.Phone,
			fmt.Sprintf("You sent %s to %s. Ref: %s. Thank you for using AfriTokeni!", amount, t.Recipient, t.TransactionID)),
	}
	if t.Internal {
		messages = append(messages, notification.SMS(notification.KindCrypto, t.Recipient,
			fmt.Sprintf("You received %s from %s. Ref: %s. Thank you for using AfriTokeni!", amount, in.Phone, t.TransactionID)))
	}
	for _, m := range messages {
		if err := s.notifier.Send(ctx, m); err != nil {
			s.logger.Warn("crypto receipt failed", "to", m.Destination, "error", err)
		}
	}
}

// ValidAddress checks the external address format for asset.
func ValidAddress(asset currency.Asset, addr string) bool {
	switch asset {
	case currency.CkBTC:
		return ValidBTCAddress(addr)
	case currency.CkUSDC:
		return validHexAddress(addr)
	}
	return false
}

// ValidBTCAddress accepts bech32 addresses (bc1, 42 to 62 characters) and
// legacy or P2SH addresses (1 or 3, 26 to 35 characters).
func ValidBTCAddress(addr string) bool {
	n := len(addr)
	switch {
	case strings.HasPrefix(addr, "bc1"):
		return n >= 42 && n <= 62
	case strings.HasPrefix(addr, "1"), strings.HasPrefix(addr, "3"):
		return n >= 26 && n <= 35
	}
	return false
}

func validHexAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return false
	}
	for _, r := range addr[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
