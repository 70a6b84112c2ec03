// Package ussd runs the menu-driven USSD dialogue: it keeps per-session
// state, registers new phones and routes each input chain to a flow.
package ussd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/i18n"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/payments"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

// PlaygroundPrefix marks session ids coming from the web playground.
const PlaygroundPrefix = "playground_"

// Request is one webhook call.
type Request struct {
	SessionID   string
	Phone       string
	ServiceCode string
	Text        string
}

// Response is the screen to show. Continue keeps the session open.
type Response struct {
	Text     string
	Continue bool
}

// String renders the carrier wire format.
func (r Response) String() string {
	if r.Continue {
		return "CON " + r.Text
	}
	return "END " + r.Text
}

func con(text string) Response { return Response{Text: text, Continue: true} }
func end(text string) Response { return Response{Text: text} }

// Backends are the domain services the dialogue drives.
type Backends struct {
	Accounts *onboarding.Service
	Users    *identity.Service
	Wallets  *wallet.Service
	Payments *payments.Service
	Agents   *agent.Service
	Exchange *exchange.Service
}

// Service processes USSD input.
type Service struct {
	sessions SessionStore
	Backends
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewService builds the dialogue engine. Sessions idle past ttl start over.
func NewService(sessions SessionStore, backends Backends, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{sessions: sessions, Backends: backends, logger: logger, ttl: ttl, now: time.Now}
}

// call is the context of one routed request.
type call struct {
	sess    *Session
	profile onboarding.Profile
	lang    i18n.Language
}

func (c *call) t(key string) string { return i18n.T(c.lang, key) }

func (c *call) fiat() currency.Asset { return currency.Asset(c.profile.Wallet.Currency) }

func (c *call) back() string { return c.t("back_or_menu") }

// Process answers one webhook call and persists the session.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(Sanitize(req.Text))
	sess, err := s.session(ctx, req)
	if err != nil {
		return Response{}, err
	}

	resp, err := s.route(ctx, sess, req, text)
	if err != nil {
		return Response{}, err
	}

	sess.LastActivity = s.now()
	if resp.Continue {
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.logger.Error("ussd session save failed", "session_id", sess.ID, "error", err)
		}
	} else if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		s.logger.Error("ussd session delete failed", "session_id", sess.ID, "error", err)
	}
	return resp, nil
}

func (s *Service) session(ctx context.Context, req Request) (*Session, error) {
	now := s.now()
	sess, err := s.sessions.Get(ctx, req.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return newSession(req.SessionID, req.Phone, now), nil
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	case sess.Idle(now, s.ttl):
		s.logger.Info("ussd session expired", "session_id", req.SessionID)
		return newSession(req.SessionID, req.Phone, now), nil
	}
	return sess, nil
}

func (s *Service) route(ctx context.Context, sess *Session, req Request, text string) (Response, error) {
	profile, err := s.Accounts.Lookup(ctx, req.Phone)
	if errors.Is(err, identity.ErrUserNotFound) {
		if !strings.HasPrefix(req.SessionID, PlaygroundPrefix) {
			return s.register(ctx, sess, text), nil
		}
		profile, err = s.Accounts.RegisterDemo(ctx, req.Phone)
		if errors.Is(err, identity.ErrUserExists) {
			profile, err = s.Accounts.Lookup(ctx, req.Phone)
		}
		if err == nil {
			s.logger.Info("playground user registered", "phone", req.Phone)
		}
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup %s: %w", req.Phone, err)
	}

	c := &call{sess: sess, profile: profile, lang: i18n.ParseLanguage(profile.User.Language)}
	sess.Language = string(c.lang)

	if text == "" {
		greeting := "Welcome back!"
		if strings.HasPrefix(req.SessionID, PlaygroundPrefix) {
			greeting = fmt.Sprintf("Welcome back %s!", profile.User.FullName())
		}
		return con(greeting + "\n\n" + s.mainMenu(c)), nil
	}

	parts := splitInput(text)
	if off := sess.offset(); off > 0 && off <= len(parts) {
		parts = parts[off:]
	}
	if len(parts) == 0 {
		return con(s.mainMenu(c)), nil
	}

	last := parts[len(parts)-1]
	switch {
	case last == "9" && len(parts) == 1, last == "0" && len(parts) > 1:
		return con(s.mainMenu(c)), nil
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "0" {
			parts = parts[i+1:]
			break
		}
	}
	if len(parts) == 0 {
		return con(s.mainMenu(c)), nil
	}

	args := parts[1:]
	switch parts[0] {
	case "1":
		return s.localMenu(ctx, c, args), nil
	case "2":
		return s.cryptoMenu(ctx, c, currency.CkBTC, args), nil
	case "3":
		return s.cryptoMenu(ctx, c, currency.CkUSDC, args), nil
	case "4":
		return s.swap(ctx, c, args), nil
	case "5":
		return con(fmt.Sprintf("%s\n\n%s (%s)\n\n%s", c.t("dao_governance"), c.t("dao_info"), c.t("coming_soon"), c.back())), nil
	case "6":
		return con(fmt.Sprintf("%s\n\n%s: +256-XXX-XXXX\n%s: afritokeni.com\n\n%s", c.t("for_support"), c.t("call"), c.t("visit"), c.back())), nil
	case "7":
		return s.language(ctx, c, args), nil
	}
	return con(s.mainMenu(c)), nil
}

func (s *Service) mainMenu(c *call) string {
	c.sess.Menu = MenuMain
	c.sess.Step = 0
	return i18n.MainMenu(c.lang, c.profile.Wallet.Currency)
}

func splitInput(text string) []string {
	parts := strings.Split(text, "*")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// register walks a new phone through PIN, names and currency. Each step reads
// only the newest segment of the input chain.
func (s *Service) register(ctx context.Context, sess *Session, text string) Response {
	lang := i18n.ParseLanguage(sess.Language)
	t := func(key string) string { return i18n.T(lang, key) }

	if sess.Menu != MenuRegistration || text == "" {
		sess.Menu = MenuRegistration
		sess.Step = 0
		sess.ClearData()
		return con(t("registration_intro"))
	}

	parts := splitInput(text)
	input := parts[len(parts)-1]

	switch sess.Step {
	case 0:
		if !identity.ValidPIN(input) {
			return con(fmt.Sprintf("%s\n\n%s:", t("invalid_pin_format"), t("enter_pin_4digit")))
		}
		sess.Set("pin", input)
		sess.Step = 1
		return con(t("enter_first_name"))
	case 1:
		if input == "" {
			return con(t("first_name_empty") + "\n\n" + t("enter_first_name"))
		}
		sess.Set("first_name", input)
		sess.Step = 2
		return con(t("enter_last_name"))
	case 2:
		if input == "" {
			return con(t("last_name_empty") + "\n\n" + t("enter_last_name"))
		}
		sess.Set("last_name", input)
		detected := currency.DetectFromPhone(sess.Phone)
		sess.Set("currency", detected)
		sess.Step = 3
		return con(fmt.Sprintf("%s: %s\n\n%s", t("detected_currency"), detected, t("confirm_or_change_currency")))
	case 3:
		switch input {
		case "1":
			return s.completeRegistration(ctx, sess, lang, len(parts))
		case "2":
			sess.Step = 4
			return con(t("select_currency"))
		}
		return con(t("invalid_choice") + "\n\n" + t("confirm_or_change_currency"))
	case 4:
		cur, ok := currency.FiatByIndex(input)
		if !ok {
			return con(t("invalid_choice") + "\n\n" + t("select_currency"))
		}
		sess.Set("currency", cur)
		return s.completeRegistration(ctx, sess, lang, len(parts))
	}

	sess.Step = 0
	sess.ClearData()
	return con(t("registration_intro"))
}

func (s *Service) completeRegistration(ctx context.Context, sess *Session, lang i18n.Language, consumed int) Response {
	t := func(key string) string { return i18n.T(lang, key) }
	reg := identity.Registration{
		Phone:     sess.Phone,
		FirstName: sess.Get("first_name"),
		LastName:  sess.Get("last_name"),
		PIN:       sess.Get("pin"),
		Currency:  sess.Get("currency"),
		Language:  string(lang),
	}
	sess.ClearData()
	sess.Step = 0

	profile, err := s.Accounts.Register(ctx, reg)
	if err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return end(t("already_registered"))
		}
		s.logger.Error("ussd registration failed", "phone", sess.Phone, "error", err)
		return end(t("registration_error"))
	}

	sess.Menu = MenuMain
	sess.Set(offsetKey, strconv.Itoa(consumed))
	return con(fmt.Sprintf("%s\n\n%s %s!\n\n%s", t("registration_successful"), t("welcome_user"),
		profile.User.FullName(), i18n.MainMenu(lang, profile.Wallet.Currency)))
}

// language lets the user switch the interface language.
func (s *Service) language(ctx context.Context, c *call, args []string) Response {
	menu := fmt.Sprintf("%s\n1. %s\n2. %s\n3. %s\n\n%s", c.t("select_language"), c.t("english"), c.t("luganda"), c.t("swahili"), c.back())
	if len(args) == 0 {
		return con(menu)
	}
	var lang i18n.Language
	switch args[0] {
	case "1":
		lang = i18n.English
	case "2":
		lang = i18n.Luganda
	case "3":
		lang = i18n.Swahili
	default:
		return con(c.t("invalid_option") + "\n" + menu)
	}
	if err := s.Users.SetLanguage(ctx, c.profile.User.Phone, string(lang)); err != nil {
		s.logger.Error("language update failed", "phone", c.profile.User.Phone, "error", err)
		return end(c.t("error_try_again"))
	}
	c.lang = lang
	c.sess.Language = string(lang)
	return con(c.t("language_set") + "\n\n" + s.mainMenu(c))
}

// failure turns a service error into a short screen line.
func (s *Service) failure(c *call, flow string, err error) string {
	key := "transaction_failed"
	switch {
	case errors.Is(err, identity.ErrInvalidPIN):
		key = "incorrect_pin"
	case errors.Is(err, identity.ErrPINLocked):
		key = "account_locked"
	case errors.Is(err, payments.ErrInsufficientFunds):
		key = "insufficient_balance"
	case errors.Is(err, payments.ErrRecipientNotFound), errors.Is(err, exchange.ErrRecipientNotFound):
		key = "recipient_not_found"
	case errors.Is(err, payments.ErrSelfTransfer), errors.Is(err, exchange.ErrSelfTransfer):
		key = "cannot_send_to_self"
	case errors.Is(err, payments.ErrAmountOutOfRange), errors.Is(err, ErrAmountOutOfRange):
		key = "amount_out_of_range"
	case errors.Is(err, agent.ErrAmountOutOfRange):
		key = "withdraw_limits"
	case errors.Is(err, agent.ErrAgentNotFound):
		key = "agent_not_found"
	case errors.Is(err, exchange.ErrInvalidAddress):
		key = "invalid_recipient"
	case errors.Is(err, exchange.ErrSameAsset):
		key = "swap_same_token"
	case errors.Is(err, fraud.ErrBlocked):
		key = "transaction_blocked"
	case errors.Is(err, fraud.ErrTooManyRequests):
		key = "too_many_transactions"
	case errors.Is(err, exchange.ErrAmountTooSmall), errors.Is(err, ErrInvalidAmount):
		key = "invalid_amount"
	default:
		s.logger.Error("ussd flow failed", "flow", flow, "phone", c.profile.User.Phone, "error", err)
		return c.t("transaction_failed")
	}
	return fmt.Sprintf("%s: %s", c.t("transaction_failed"), c.t(key))
}

// failed ends the session with the failure line.
func (s *Service) failed(c *call, flow string, err error) Response {
	return end(s.failure(c, flow, err) + "\n\n" + c.t("thank_you"))
}
