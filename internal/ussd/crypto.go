package ussd

import (
	"context"
	"errors"
	"fmt"

	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

// cryptoKeys holds the catalog keys that differ between the ckBTC and
// ckUSDC menus.
type cryptoKeys struct {
	title, balance, rate, buy, sell, send, enterAmount string
}

func keysFor(asset currency.Asset) cryptoKeys {
	if asset == currency.CkBTC {
		return cryptoKeys{"bitcoin_menu_title", "bitcoin_balance", "bitcoin_rate", "buy_bitcoin", "sell_bitcoin", "send_bitcoin", "enter_btc_amount"}
	}
	return cryptoKeys{"usdc_menu_title", "usdc_balance", "usdc_rate", "buy_usdc", "sell_usdc", "send_usdc", "enter_usdc_amount"}
}

func (s *Service) cryptoMenu(ctx context.Context, c *call, asset currency.Asset, args []string) Response {
	k := keysFor(asset)
	if len(args) == 0 {
		c.sess.Menu = string(asset)
		return con(fmt.Sprintf("%s\n%s\n1. %s\n2. %s\n3. %s\n4. %s\n5. %s\n6. %s\n\n%s",
			c.t(k.title), c.t("please_select_option"),
			c.t("balance"), c.t(k.rate), c.t(k.buy), c.t(k.sell), c.t(k.send), c.t("sell_to_agent"), c.back()))
	}

	flow, rest := args[0], args[1:]
	switch flow {
	case "3":
		return s.buyCrypto(ctx, c, asset, rest)
	case "4":
		return s.sellCrypto(ctx, c, asset, rest)
	case "5":
		return s.sendCrypto(ctx, c, asset, rest)
	case "6":
		return s.sellToAgent(ctx, c, asset, rest)
	}
	if len(rest) > 0 {
		return con(s.mainMenu(c))
	}
	switch flow {
	case "1":
		bal, err := s.Wallets.Balance(ctx, c.profile.Wallet, asset)
		if err != nil {
			return s.failed(c, "crypto_balance", err)
		}
		line := fmt.Sprintf("%s: %s %s", c.t(k.balance), currency.Format(asset, bal), currency.Label(asset))
		if price, err := s.Exchange.Price(ctx, asset, c.profile.Wallet.Currency); err == nil {
			line += fmt.Sprintf("\n~ %s %.2f", c.fiat(), currency.ToMajor(asset, bal)*price)
		}
		return con(line + "\n\n" + c.back())
	case "2":
		price, err := s.Exchange.Price(ctx, asset, c.profile.Wallet.Currency)
		if err != nil {
			s.logger.Error("ussd rate lookup failed", "asset", asset, "error", err)
			return con(c.t("error_retrieving_rate") + "\n\n" + c.back())
		}
		return con(fmt.Sprintf("%s\n1 %s = %s %.2f\n\n%s", c.t(k.rate), currency.Label(asset), c.fiat(), price, c.back()))
	}
	return con(c.t("invalid_option") + "\n\n" + c.back())
}

// buyCrypto: fiat amount, pin.
func (s *Service) buyCrypto(ctx context.Context, c *call, asset currency.Asset, args []string) Response {
	k := keysFor(asset)
	cur := c.profile.Wallet.Currency
	amountPrompt := fmt.Sprintf("%s\n%s (%s):", c.t(k.buy), c.t("enter_amount"), cur)
	c.sess.Menu = "buy_" + string(asset)
	c.sess.Step = len(args)
	if len(args) == 0 {
		return con(amountPrompt)
	}

	major, err := ParseAmount(args[0])
	if err != nil {
		return con(s.amountError(c, err) + "\n" + amountPrompt)
	}
	amount := currency.ToMinor(c.fiat(), major)

	switch len(args) {
	case 1:
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, c.fiat())
		if err != nil {
			return s.failed(c, "buy_crypto", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), cur, currency.Format(c.fiat(), balance), c.t("thank_you")))
		}
		q, err := s.Exchange.Quote(ctx, c.fiat(), asset, amount)
		if err != nil {
			return s.failed(c, "buy_crypto", err)
		}
		return con(fmt.Sprintf("%s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("purchase_quote"),
			c.t("you_pay"), cur, currency.Format(c.fiat(), q.Amount),
			c.t("you_receive"), currency.Format(asset, q.Out), currency.Label(asset),
			c.t("enter_pin_4digit")))
	case 2:
		trade, err := s.Exchange.Buy(ctx, exchange.TradeInput{
			Phone:      c.profile.User.Phone,
			Crypto:     asset,
			Amount:     amount,
			PIN:        args[1],
			ClientTxID: clientTxID(c, "buy_"+string(asset), args[:1]),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return s.failed(c, "buy_crypto", err)
		}
		return end(fmt.Sprintf("%s!\n%s %s %s\n%s: %s %s\n\n%s",
			c.t("transaction_successful"),
			c.t("bought"), currency.Format(asset, trade.Out), currency.Label(asset),
			c.t("new_balance"), currency.Format(asset, trade.ToBalance), currency.Label(asset),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

// sellCrypto: crypto amount in major units, pin.
func (s *Service) sellCrypto(ctx context.Context, c *call, asset currency.Asset, args []string) Response {
	k := keysFor(asset)
	cur := c.profile.Wallet.Currency
	amountPrompt := fmt.Sprintf("%s\n%s:", c.t(k.sell), c.t(k.enterAmount))
	c.sess.Menu = "sell_" + string(asset)
	c.sess.Step = len(args)
	if len(args) == 0 {
		return con(amountPrompt)
	}

	major, err := parseNumber(args[0])
	if err != nil {
		return con(c.t("invalid_amount") + "\n" + amountPrompt)
	}
	amount := currency.ToMinor(asset, major)

	switch len(args) {
	case 1:
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, asset)
		if err != nil {
			return s.failed(c, "sell_crypto", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), currency.Format(asset, balance), currency.Label(asset), c.t("thank_you")))
		}
		q, err := s.Exchange.Quote(ctx, asset, c.fiat(), amount)
		if err != nil {
			return s.failed(c, "sell_crypto", err)
		}
		return con(fmt.Sprintf("%s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("sale_quote"),
			c.t("sell"), currency.Format(asset, q.Amount), currency.Label(asset),
			c.t("you_receive"), cur, currency.Format(c.fiat(), q.Out),
			c.t("enter_pin_4digit")))
	case 2:
		trade, err := s.Exchange.Sell(ctx, exchange.TradeInput{
			Phone:      c.profile.User.Phone,
			Crypto:     asset,
			Amount:     amount,
			PIN:        args[1],
			ClientTxID: clientTxID(c, "sell_"+string(asset), args[:1]),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return s.failed(c, "sell_crypto", err)
		}
		return end(fmt.Sprintf("%s!\n%s %s %s\n%s: %s %s\n\n%s",
			c.t("transaction_successful"),
			c.t("sold"), currency.Format(asset, trade.Amount), currency.Label(asset),
			c.t("new_balance"), cur, currency.Format(c.fiat(), trade.ToBalance),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

// sendCrypto: recipient, amount in major units, pin. ckBTC goes to a Bitcoin
// address; ckUSDC goes to a registered phone or a 0x address.
func (s *Service) sendCrypto(ctx context.Context, c *call, asset currency.Asset, args []string) Response {
	k := keysFor(asset)
	recipientPrompt := fmt.Sprintf("%s\n%s", c.t(k.send), c.t("enter_btc_address"))
	invalid := c.t("invalid_btc_address")
	valid := exchange.ValidBTCAddress
	if asset == currency.CkUSDC {
		recipientPrompt = fmt.Sprintf("%s\n%s", c.t(k.send), c.t("enter_usdc_recipient"))
		invalid = c.t("invalid_recipient")
		valid = func(r string) bool { return IsValidPhone(r) || exchange.ValidAddress(asset, r) }
	}
	amountPrompt := c.t(k.enterAmount)
	if asset == currency.CkBTC {
		amountPrompt += ":"
	}
	c.sess.Menu = "send_" + string(asset)
	c.sess.Step = len(args)
	if len(args) == 0 {
		return con(recipientPrompt + "\n\n" + c.back())
	}

	recipient := args[0]
	if !valid(recipient) {
		return con(invalid + "\n" + recipientPrompt)
	}
	if recipient == c.profile.User.Phone {
		return con(c.t("cannot_send_to_self") + "\n" + recipientPrompt)
	}
	if len(args) == 1 {
		return con(amountPrompt)
	}

	major, err := parseNumber(args[1])
	if err != nil {
		return con(c.t("invalid_amount") + "\n" + amountPrompt)
	}
	amount := currency.ToMinor(asset, major)

	switch len(args) {
	case 2:
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, asset)
		if err != nil {
			return s.failed(c, "send_crypto", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), currency.Format(asset, balance), currency.Label(asset), c.t("thank_you")))
		}
		return con(fmt.Sprintf("%s\n%s: %s\n%s: %s %s\n\n%s",
			c.t("confirm_transaction"),
			c.t("to"), recipient,
			c.t("amount"), currency.Format(asset, amount), currency.Label(asset),
			c.t("enter_pin_4digit")))
	case 3:
		tr, err := s.Exchange.SendCrypto(ctx, exchange.SendInput{
			Phone:      c.profile.User.Phone,
			Asset:      asset,
			Recipient:  recipient,
			Amount:     amount,
			PIN:        args[2],
			ClientTxID: clientTxID(c, "send_"+string(asset), args[:2]),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return s.failed(c, "send_crypto", err)
		}
		return end(fmt.Sprintf("%s!\n%s %s %s %s %s\n%s: %s %s\n\n%s",
			c.t("crypto_sent"),
			c.t("sent"), currency.Format(asset, tr.Amount), currency.Label(asset), "->", recipient,
			c.t("new_balance"), currency.Format(asset, tr.Balance), currency.Label(asset),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

// sellToAgent: crypto amount in major units, agent, confirm, pin. The tokens
// sit in escrow until the agent hands over the cash and confirms the code.
func (s *Service) sellToAgent(ctx context.Context, c *call, asset currency.Asset, args []string) Response {
	k := keysFor(asset)
	amountPrompt := fmt.Sprintf("%s\n%s:", c.t("sell_to_agent"), c.t(k.enterAmount))
	agentPrompt := c.t("enter_agent_id")
	c.sess.Menu = "escrow_" + string(asset)
	c.sess.Step = len(args)
	if len(args) == 0 {
		return con(amountPrompt)
	}

	major, err := parseNumber(args[0])
	if err != nil {
		return con(c.t("invalid_amount") + "\n" + amountPrompt)
	}
	amount := currency.ToMinor(asset, major)
	if len(args) == 1 {
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, asset)
		if err != nil {
			return s.failed(c, "sell_to_agent", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), currency.Format(asset, balance), currency.Label(asset), c.t("thank_you")))
		}
		return con(agentPrompt)
	}

	seller, err := s.Agents.ResolveAgent(ctx, args[1])
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return con(c.t("agent_not_found") + "\n" + agentPrompt)
		}
		return s.failed(c, "sell_to_agent", err)
	}

	switch len(args) {
	case 2:
		line := fmt.Sprintf("%s\n%s: %s %s\n%s: %s", c.t("sell_to_agent"),
			c.t("amount"), currency.Format(asset, amount), currency.Label(asset),
			c.t("agent"), seller.FullName())
		if price, err := s.Exchange.Price(ctx, asset, c.profile.Wallet.Currency); err == nil {
			line += fmt.Sprintf("\n~ %s %.2f", c.fiat(), currency.ToMajor(asset, amount)*price)
		}
		return con(line + "\n\n" + c.t("confirm_or_cancel"))
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
		req, err := s.Agents.CreateEscrow(ctx, agent.EscrowInput{
			Phone:    c.profile.User.Phone,
			AgentRef: args[1],
			Asset:    asset,
			Amount:   amount,
			PIN:      args[3],
		})
		if err != nil {
			return s.failed(c, "sell_to_agent", err)
		}
		return end(fmt.Sprintf("%s\n%s: %s\n%s: %s %s\n%s: %.0f %s\n%s\n\n%s",
			c.t("escrow_created"),
			c.t("code"), req.Code,
			c.t("amount"), currency.Format(asset, req.Amount), currency.Label(asset),
			c.t("valid"), req.ExpiresAt.Sub(req.CreatedAt).Hours(), c.t("hours"),
			c.t("show_code_to_agent"),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}

func tokenChoice(choice string) (currency.Asset, bool) {
	switch choice {
	case "1":
		return currency.CkBTC, true
	case "2":
		return currency.CkUSDC, true
	}
	return "", false
}

// swap: from, to, amount in smallest units, confirm, pin.
func (s *Service) swap(ctx context.Context, c *call, args []string) Response {
	tokens := "1. ckBTC\n2. ckUSDC"
	fromPrompt := fmt.Sprintf("%s\n%s\n%s\n\n%s", c.t("swap_crypto"), c.t("swap_from"), tokens, c.back())
	toPrompt := fmt.Sprintf("%s\n%s", c.t("swap_to"), tokens)
	amountPrompt := c.t("enter_amount_smallest_unit")
	c.sess.Menu = "swap"
	c.sess.Step = len(args)
	if len(args) == 0 {
		return con(fromPrompt)
	}

	from, ok := tokenChoice(args[0])
	if !ok {
		return con(c.t("invalid_choice") + "\n" + fromPrompt)
	}
	if len(args) == 1 {
		return con(toPrompt)
	}
	to, ok := tokenChoice(args[1])
	if !ok {
		return con(c.t("invalid_choice") + "\n" + toPrompt)
	}
	if from == to {
		return end(c.t("swap_same_token") + "\n\n" + c.t("thank_you"))
	}
	if len(args) == 2 {
		return con(amountPrompt)
	}

	amount, err := parseUnits(args[2])
	if err != nil {
		return con(c.t("invalid_amount") + "\n" + amountPrompt)
	}

	switch len(args) {
	case 3:
		balance, err := s.Wallets.Balance(ctx, c.profile.Wallet, from)
		if err != nil {
			return s.failed(c, "swap", err)
		}
		if balance < amount {
			return end(fmt.Sprintf("%s!\n%s: %s %s\n\n%s", c.t("insufficient_balance"),
				c.t("your_balance"), currency.Format(from, balance), currency.Label(from), c.t("thank_you")))
		}
		q, err := s.Exchange.Quote(ctx, from, to, amount)
		if err != nil {
			return s.failed(c, "swap", err)
		}
		return con(fmt.Sprintf("%s\n%s: %s %s\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("swap_crypto"),
			c.t("amount"), currency.Format(from, q.Amount), currency.Label(from),
			c.t("spread"), currency.Format(from, q.Spread), currency.Label(from),
			c.t("you_receive"), currency.Format(to, q.Out), currency.Label(to),
			c.t("confirm_or_cancel")))
	case 4:
		switch args[3] {
		case "1":
			return con(c.t("enter_pin_4digit"))
		case "2":
			return end(c.t("transaction_cancelled") + "\n\n" + c.t("thank_you"))
		}
		return con(c.t("invalid_choice") + "\n\n" + c.t("confirm_or_cancel"))
	case 5:
		if args[3] != "1" {
			return end(c.t("transaction_cancelled") + "\n\n" + c.t("thank_you"))
		}
		trade, err := s.Exchange.Swap(ctx, exchange.SwapInput{
			Phone:      c.profile.User.Phone,
			From:       from,
			To:         to,
			Amount:     amount,
			PIN:        args[4],
			ClientTxID: clientTxID(c, "swap", args[:3]),
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return s.failed(c, "swap", err)
		}
		return end(fmt.Sprintf("%s!\n%s: %s %s\n%s: %s %s\n\n%s",
			c.t("swap_successful"),
			c.t("you_receive"), currency.Format(to, trade.Out), currency.Label(to),
			c.t("new_balance"), currency.Format(to, trade.ToBalance), currency.Label(to),
			c.t("thank_you")))
	}
	return con(c.t("invalid_selection") + "\n\n" + c.back())
}
