// Package sms runs the text-command interface for phones without USSD.
package sms

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/afritokeni/afritokeni/internal/currency"
)

// Actions understood by the command parser.
const (
	ActionBalance = "BAL"
	ActionSend    = "SEND"
	ActionBuy     = "BUY"
	ActionSell    = "SELL"
	ActionHelp    = "HELP"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("malformed command")
)

// Command is a parsed inbound message. Amount is in major units of the
// fiat currency, except for SELL where it is in the crypto token.
type Command struct {
	Action    string
	Asset     currency.Asset
	Recipient string
	Amount    float64
	PIN       string
}

// Parse reads a case-insensitive command:
//
//	BAL
//	SEND <+phone> <amount> <pin>
//	BTC BUY <amount> <pin>
//	BTC SELL <btc> <pin>
//	USDC BUY <amount> <pin>
//	HELP
func Parse(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}
	head := strings.ToUpper(fields[0])
	args := fields[1:]

	switch head {
	case ActionBalance, ActionHelp:
		return Command{Action: head}, nil
	case ActionSend:
		if len(args) != 3 || !strings.HasPrefix(args[0], "+") {
			return Command{}, ErrUsage
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Action: ActionSend, Recipient: args[0], Amount: amount, PIN: args[2]}, nil
	case "BTC", "USDC":
		asset := currency.CkBTC
		if head == "USDC" {
			asset = currency.CkUSDC
		}
		if len(args) != 3 {
			return Command{}, ErrUsage
		}
		action := strings.ToUpper(args[0])
		if action != ActionBuy && !(action == ActionSell && asset == currency.CkBTC) {
			return Command{}, ErrUnknownCommand
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Action: action, Asset: asset, Amount: amount, PIN: args[2]}, nil
	}
	return Command{}, ErrUnknownCommand
}

func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, ErrUsage
	}
	return v, nil
}
