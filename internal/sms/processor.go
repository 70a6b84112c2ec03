package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/i18n"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/payments"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

const replyTimeout = 30 * time.Second

// Processor executes SMS commands and texts the reply back.
type Processor struct {
	accounts *onboarding.Service
	wallets  *wallet.Service
	payments *payments.Service
	exchange *exchange.Service
	notifier notification.Notifier
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewProcessor builds a command processor.
func NewProcessor(accounts *onboarding.Service, wallets *wallet.Service, payments *payments.Service,
	exchange *exchange.Service, notifier notification.Notifier, logger *slog.Logger) *Processor {
	return &Processor{accounts: accounts, wallets: wallets, payments: payments, exchange: exchange, notifier: notifier, logger: logger}
}

// Inbound is one message delivered by the carrier. ID is the carrier's
// message id and stays the same when a message is redelivered.
type Inbound struct {
	ID   string
	From string
	Text string
}

// clientTxID keys ledger postings on the carrier message id, so a redelivered
// message settles once. Without an id every delivery gets a fresh key.
func (in Inbound) clientTxID() string {
	if in.ID == "" {
		return ""
	}
	return "sms:" + in.ID
}

// HandleInbound processes a message in the background.
func (p *Processor) HandleInbound(in Inbound) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()

		reply := p.Reply(ctx, in)
		if err := p.notifier.Send(ctx, notification.SMS(notification.KindCommandReply, in.From, reply)); err != nil {
			p.logger.Error("sms reply failed", "to", in.From, "error", err)
		}
	}()
}

// Wait blocks until in-flight commands finish.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Reply runs one command and returns the text to send back.
func (p *Processor) Reply(ctx context.Context, in Inbound) string {
	from := in.From
	profile, err := p.accounts.Lookup(ctx, from)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return i18n.T(i18n.English, "not_registered_yet") + ". " + i18n.T(i18n.English, "help_ussd")
		}
		p.logger.Error("sms lookup failed", "from", from, "error", err)
		return i18n.T(i18n.English, "error_try_again")
	}
	lang := i18n.ParseLanguage(profile.User.Language)

	cmd, err := Parse(in.Text)
	if err != nil {
		if errors.Is(err, ErrUsage) {
			return i18n.T(lang, "sms_help")
		}
		return i18n.T(lang, "unknown_command")
	}

	fiat := currency.Asset(profile.Wallet.Currency)
	switch cmd.Action {
	case ActionHelp:
		return i18n.T(lang, "sms_help")
	case ActionBalance:
		b, err := p.wallets.Balances(ctx, profile.Wallet.ID)
		if err != nil {
			return p.failure(lang, cmd, err)
		}
		return fmt.Sprintf("%s\n%s: %s\nckBTC: %s\nckUSDC: %s", i18n.T(lang, "your_account_balance"),
			b.Currency, currency.Format(fiat, b.Fiat),
			currency.Format(currency.CkBTC, b.CkBTC),
			currency.Format(currency.CkUSDC, b.CkUSDC))
	case ActionSend:
		res, err := p.payments.Send(ctx, payments.SendInput{
			FromPhone:  from,
			ToPhone:    cmd.Recipient,
			Amount:     currency.ToMinor(fiat, cmd.Amount),
			PIN:        cmd.PIN,
			ClientTxID: in.clientTxID(),
		})
		if err != nil && !errors.Is(err, payments.ErrDuplicateTransfer) {
			return p.failure(lang, cmd, err)
		}
		return fmt.Sprintf("%s %s %s -> %s. %s: %s %s. Ref: %s", i18n.T(lang, "sent"), res.Currency,
			currency.Format(fiat, res.Amount), cmd.Recipient, i18n.T(lang, "fee"), res.Currency,
			currency.Format(fiat, res.Fee), res.TransactionID)
	case ActionBuy:
		trade, err := p.exchange.Buy(ctx, exchange.TradeInput{
			Phone:      from,
			Crypto:     cmd.Asset,
			Amount:     currency.ToMinor(fiat, cmd.Amount),
			PIN:        cmd.PIN,
			ClientTxID: in.clientTxID(),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return p.failure(lang, cmd, err)
		}
		return fmt.Sprintf("%s %s %s (%s %s). Ref: %s", i18n.T(lang, "bought"),
			currency.Format(cmd.Asset, trade.Out), currency.Label(cmd.Asset),
			fiat, currency.Format(fiat, trade.Amount), trade.TransactionID)
	case ActionSell:
		trade, err := p.exchange.Sell(ctx, exchange.TradeInput{
			Phone:      from,
			Crypto:     cmd.Asset,
			Amount:     currency.ToMinor(cmd.Asset, cmd.Amount),
			PIN:        cmd.PIN,
			ClientTxID: in.clientTxID(),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return p.failure(lang, cmd, err)
		}
		return fmt.Sprintf("%s %s %s (%s %s). Ref: %s", i18n.T(lang, "sold"),
			currency.Format(cmd.Asset, trade.Amount), currency.Label(cmd.Asset),
			fiat, currency.Format(fiat, trade.Out), trade.TransactionID)
	}
	return i18n.T(lang, "unknown_command")
}

func (p *Processor) failure(lang i18n.Language, cmd Command, err error) string {
	key := "transaction_failed"
	switch {
	case errors.Is(err, identity.ErrInvalidPIN):
		key = "incorrect_pin"
	case errors.Is(err, identity.ErrPINLocked):
		key = "account_locked"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		key = "insufficient_balance"
	case errors.Is(err, payments.ErrRecipientNotFound):
		key = "recipient_not_found"
	case errors.Is(err, payments.ErrSelfTransfer):
		key = "cannot_send_to_self"
	case errors.Is(err, payments.ErrAmountOutOfRange):
		key = "amount_out_of_range"
	case errors.Is(err, fraud.ErrBlocked):
		key = "transaction_blocked"
	case errors.Is(err, fraud.ErrTooManyRequests):
		key = "too_many_transactions"
	case errors.Is(err, exchange.ErrAmountTooSmall), errors.Is(err, ledger.ErrInvalidAmount):
		key = "invalid_amount"
	default:
		p.logger.Error("sms command failed", "action", cmd.Action, "error", err)
	}
	return strings.TrimSpace(i18n.T(lang, key))
}
