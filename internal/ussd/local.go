package ussd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/payments"
)

const (
	historyLimit = 5
	agentsShown  = 3
)

// historyLabels maps ledger kinds to catalog keys for the history screen.
var historyLabels = map[string]string{
	payments.KindSend:           "tx_send_money",
	exchange.KindBuy:            "tx_buy_crypto",
	exchange.KindSell:           "tx_sell_crypto",
	exchange.KindSwap:           "tx_swap",
	exchange.KindSendCrypto:     "tx_send_crypto",
	ledger.KindCashIn:           "tx_cash_in",
	ledger.KindCashOut:          "tx_cash_out",
	agent.KindDepositConfirm:    "tx_agent_deposit",
	agent.KindWithdrawalConfirm: "tx_agent_withdrawal",
	agent.KindEscrowHold:        "tx_escrow_hold",
	agent.KindEscrowRelease:     "tx_escrow_release",
	agent.KindEscrowRefund:      "tx_escrow_refund",
}

func historyLabel(c *call, kind string) string {
	if key, ok := historyLabels[kind]; ok {
		return c.t(key)
	}
	return c.t("tx_other")
}

func (s *Service) localMenu(ctx context.Context, c *call, args []string) Response {
	if len(args) == 0 {
		c.sess.Menu = "local_currency"
		return con(fmt.Sprintf("%s (%s)\n%s\n1. %s\n2. %s\n3. %s\n4. %s\n5. %s\n6. %s\n\n%s",
			c.t("local_currency_menu"), c.fiat(), c.t("please_select_option"),
			c.t("send_money"), c.t("check_balance"), c.t("deposit"), c.t("withdraw"),
			c.t("transactions"), c.t("find_agent"), c.back()))
	}

	flow, rest := args[0], args[1:]
	switch flow {
	case "1":
		c.sess.Menu = "send_money"
		return s.sendMoney(ctx, c, rest)
	case "3":
		c.sess.Menu = "deposit"
		return s.deposit(ctx, c, rest)
	case "4":
		c.sess.Menu = "withdraw"
		return s.withdraw(ctx, c, rest)
	}
	if len(rest) > 0 {
		return con(s.mainMenu(c))
	}
	switch flow {
	case "2":
		return s.balances(ctx, c)
	case "5":
		return s.history(ctx, c)
	case "6":
		return s.findAgent(ctx, c)
	}
	return con(c.t("invalid_option") + "\n\n" + c.back())
}

func (s *Service) balances(ctx context.Context, c *call) Response {
	b, err := s.Wallets.Balances(ctx, c.profile.Wallet.ID)
	if err != nil {
		s.logger.Error("ussd balance failed", "wallet_id", c.profile.Wallet.ID, "error", err)
		return con(c.t("error_try_again") + "\n\n" + c.back())
	}
	return con(fmt.Sprintf("%s:\n%s: %s\nckBTC: %s\nckUSDC: %s\n\n%s", c.t("your_balance"),
		b.Currency, currency.Format(c.fiat(), b.Fiat),
		currency.Format(currency.CkBTC, b.CkBTC),
		currency.Format(currency.CkUSDC, b.CkUSDC), c.back()))
}

func (s *Service) history(ctx context.Context, c *call) Response {
	txs, err := s.Wallets.History(ctx, c.profile.Wallet.ID, historyLimit)
	if err != nil {
		s.logger.Error("ussd history failed", "wallet_id", c.profile.Wallet.ID, "error", err)
		return con(c.t("error_try_again") + "\n\n" + c.back())
	}
	if len(txs) == 0 {
		return con(fmt.Sprintf("%s\n\n%s\n\n%s", c.t("transactions"), c.t("no_transactions"), c.back()))
	}
	var b strings.Builder
	b.WriteString(c.t("recent_transactions") + "\n\n")
	for i, tx := range txs {
		fmt.Fprintf(&b, "%d. %s %s %s\n", i+1, historyLabel(c, tx.Kind), currency.Format(tx.Asset, tx.Amount), currency.Label(tx.Asset))
	}
	b.WriteString("\n" + c.back())
	return con(b.String())
}

// findAgent lists agents operating in the caller's currency.
func (s *Service) findAgent(ctx context.Context, c *call) Response {
	users, err := s.Users.List(ctx, 500)
	if err != nil {
		s.logger.Error("ussd agent search failed", "error", err)
		return con(c.t("error_try_again") + "\n\n" + c.back())
	}
	var b strings.Builder
	n := 0
	for _, u := range users {
		if u.Role != identity.RoleAgent || u.Currency != c.profile.Wallet.Currency {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s - %s\n", n, u.FullName(), u.Phone)
		if n == agentsShown {
			break
		}
	}
	if n == 0 {
		return con(fmt.Sprintf("%s\n\n%s\n\n%s", c.t("find_agent"), c.t("no_agents_available"), c.back()))
	}
	return con(fmt.Sprintf("%s:\n%s\n%s", c.t("available_agents"), b.String(), c.back()))
}

// sendMoney: phone, amount, pin.
func (s *Service) sendMoney(ctx context.Context, c *call, args []string) Response {
	cur := c.profile.Wallet.Currency
	prompt := fmt.Sprintf("%s\n%s\n%s\n\n%s", c.t("send_money"), c.t("enter_recipient_phone"), c.t("phone_format_example"), c.back())
	amountPrompt := fmt.Sprintf("%s (%s):", c.t("enter_amount"), cur)
	c.sess.Step = len(args)

	switch len(args) {
	case 0:
		return con(prompt)
	case 1:
		if !IsValidPhone(args[0]) {
			return con(c.t("invalid_phone") + "\n" + prompt)
		}
		if args[0] == c.profile.User.Phone {
			return con(c.t("cannot_send_to_self") + "\n" + prompt)
		}
		return con(amountPrompt)
	case 2:
		major, err := ParseAmount(args[1])
		if err != nil {
			return con(s.amountError(c, err) + "\n" + amountPrompt)
		}
		q, err := s.Payments.Quote(ctx, c.profile.User.Phone, currency.ToMinor(c.fiat(), major))
		if err != nil {
			return s.failed(c, "send_money", err)
		}
		if !q.Covered() {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n%s: %s %s (%s: %s + %s: %s)\n\n%s",
				c.t("insufficient_balance"),
				c.t("your_balance"), cur, currency.Format(c.fiat(), q.Balance),
				c.t("required"), cur, currency.Format(c.fiat(), q.Total),
				c.t("amount"), currency.Format(c.fiat(), q.Amount),
				c.t("fee"), currency.Format(c.fiat(), q.Fee),
				c.t("thank_you")))
		}
		return con(fmt.Sprintf("%s\n%s: %s\n%s: %s %s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("confirm_transaction"),
			c.t("to"), args[0],
			c.t("amount"), cur, currency.Format(c.fiat(), q.Amount),
			c.t("fee"), cur, currency.Format(c.fiat(), q.Fee),
			c.t("total"), cur, currency.Format(c.fiat(), q.Total),
			c.t("enter_pin_4digit")))
	case 3:
		major, err := ParseAmount(args[1])
		if err != nil {
			return s.failed(c, "send_money", err)
		}
		res, err := s.Payments.Send(ctx, payments.SendInput{
			FromPhone:  c.profile.User.Phone,
			ToPhone:    args[0],
			Amount:     currency.ToMinor(c.fiat(), major),
			PIN:        args[2],
			ClientTxID: clientTxID(c, "send", args[:2]),
		})
		if err != nil && !errors.Is(err, payments.ErrDuplicateTransfer) {
			return s.failed(c, "send_money", err)
		}
		return end(fmt.Sprintf("%s!\n%s %s %s %s %s\n%s: %s %s\n\n%s",
			c.t("transaction_successful"),
			c.t("sent"), cur, currency.Format(c.fiat(), res.Amount), strings.ToLower(c.t("to")), args[0],
			c.t("new_balance"), cur, currency.Format(c.fiat(), res.SenderBalance),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

// deposit: agent, amount, confirm.
func (s *Service) deposit(ctx context.Context, c *call, args []string) Response {
	cur := c.profile.Wallet.Currency
	agentPrompt := fmt.Sprintf("%s\n%s\n\n%s", c.t("deposit"), c.t("enter_agent_id"), c.back())
	amountPrompt := fmt.Sprintf("%s (%s):", c.t("enter_amount"), cur)
	c.sess.Step = len(args)

	if len(args) >= 1 {
		if _, err := s.Agents.ResolveAgent(ctx, args[0]); err != nil {
			if errors.Is(err, agent.ErrAgentNotFound) {
				return con(c.t("agent_not_found") + "\n" + agentPrompt)
			}
			return s.failed(c, "deposit", err)
		}
	}
	var major float64
	if len(args) >= 2 {
		var err error
		if major, err = ParseAmount(args[1]); err != nil {
			return con(s.amountError(c, err) + "\n" + amountPrompt)
		}
	}
	amount := currency.ToMinor(c.fiat(), major)

	switch len(args) {
	case 0:
		return con(agentPrompt)
	case 1:
		return con(amountPrompt)
	case 2:
		commission, net := agent.DepositFees(amount)
		return con(fmt.Sprintf("%s\n%s: %s %s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("deposit"),
			c.t("amount"), cur, currency.Format(c.fiat(), amount),
			c.t("commission"), cur, currency.Format(c.fiat(), commission),
			c.t("you_receive"), cur, currency.Format(c.fiat(), net),
			c.t("confirm_or_cancel")))
	case 3:
		switch args[2] {
		case "1":
		case "2":
			return end(c.t("transaction_cancelled") + "\n\n" + c.t("thank_you"))
		default:
			return con(c.t("invalid_choice") + "\n\n" + c.t("confirm_or_cancel"))
		}
		req, err := s.Agents.CreateDeposit(ctx, agent.DepositInput{Phone: c.profile.User.Phone, AgentRef: args[0], Amount: amount})
		if err != nil {
			return s.failed(c, "deposit", err)
		}
		return end(fmt.Sprintf("%s\n%s: %s\n%s: %s %s\n%s\n\n%s",
			c.t("deposit_created"),
			c.t("deposit_code"), req.Code,
			c.t("amount"), cur, currency.Format(c.fiat(), req.Amount),
			c.t("give_code_to_agent_with_cash"),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

// withdraw: amount, agent, confirm, pin.
func (s *Service) withdraw(ctx context.Context, c *call, args []string) Response {
	cur := c.profile.Wallet.Currency
	amountPrompt := fmt.Sprintf("%s\n%s\n%s (%s):", c.t("withdraw"), c.t("withdraw_limits"), c.t("enter_amount"), cur)
	agentPrompt := c.t("enter_agent_id")
	c.sess.Step = len(args)

	var amount int64
	if len(args) >= 1 {
		major, err := parseNumber(args[0])
		if err != nil || major < agent.MinWithdrawal || major > agent.MaxWithdrawal {
			return con(amountPrompt)
		}
		amount = currency.ToMinor(c.fiat(), major)
	}
	if len(args) >= 2 {
		if _, err := s.Agents.ResolveAgent(ctx, args[1]); err != nil {
			if errors.Is(err, agent.ErrAgentNotFound) {
				return con(c.t("agent_not_found") + "\n" + agentPrompt)
			}
			return s.failed(c, "withdraw", err)
		}
	}

	switch len(args) {
	case 0:
		return con(amountPrompt)
	case 1:
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, c.fiat())
		if err != nil {
			return s.failed(c, "withdraw", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), cur, currency.Format(c.fiat(), balance), c.t("thank_you")))
		}
		return con(agentPrompt)
	case 2:
		platform, agentFee, net := agent.WithdrawalFees(amount)
		return con(fmt.Sprintf("%s\n%s: %s %s\n%s: %s %s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("withdraw"),
			c.t("amount"), cur, currency.Format(c.fiat(), amount),
			c.t("platform_fee"), cur, currency.Format(c.fiat(), platform),
			c.t("agent_fee"), cur, currency.Format(c.fiat(), agentFee),
			c.t("you_receive"), cur, currency.Format(c.fiat(), net),
			c.t("confirm_or_cancel")))
	case 3:
		switch args[2] {
		case "1":
			return con(c.t("enter_pin_4digit"))
		case "2":
			return end(c.t("transaction_cancelled") + "\n\n" + c.t("thank_you"))
		}
		return con(c.t("invalid_choice") + "\n\n" + c.t("confirm_or_cancel"))
	case 4:
		if args[2] != "1" {
			return end(c.t("transaction_cancelled") + "\n\n" + c.t("thank_you"))
		}
		req, err := s.Agents.CreateWithdrawal(ctx, agent.WithdrawalInput{
			Phone:    c.profile.User.Phone,
			AgentRef: args[1],
			Amount:   amount,
			PIN:      args[3],
		})
		if err != nil {
			return s.failed(c, "withdraw", err)
		}
		return end(fmt.Sprintf("%s\n%s: %s\n%s: %s %s\n%s: %.0f %s\n%s\n\n%s",
			c.t("withdrawal_created"),
			c.t("code"), req.Code,
			c.t("you_will_receive"), cur, currency.Format(c.fiat(), req.Net),
			c.t("valid"), req.ExpiresAt.Sub(req.CreatedAt).Hours(), c.t("hours"),
			c.t("show_code_to_agent"),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

func (s *Service) amountError(c *call, err error) string {
	if errors.Is(err, ErrAmountOutOfRange) {
		return c.t("amount_out_of_range")
	}
	return c.t("invalid_amount")
}

// clientTxID derives an idempotency key from the session and the inputs, so a
// carrier retrying the final step does not post twice.
func clientTxID(c *call, flow string, args []string) string {
	return "ussd:" + c.sess.ID + ":" + flow + ":" + strings.Join(args, "*")
}
