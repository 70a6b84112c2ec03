// Package onboarding registers users together with their wallet and resolves
// a phone number to both.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

// Playground defaults applied to demo sessions.
const (
	DemoFirstName = "Demo"
	DemoLastName  = "User"
	DemoPIN       = "1234"
	DemoCurrency  = "UGX"
)

// Profile is a registered user and their wallet.
type Profile struct {
	User   identity.User
	Wallet wallet.Wallet
}

// Service ties identity and wallet provisioning together.
type Service struct {
	users   *identity.Service
	wallets *wallet.Service
	logger  *slog.Logger
}

// NewService constructs an onboarding service.
func NewService(users *identity.Service, wallets *wallet.Service, logger *slog.Logger) *Service {
	return &Service{users: users, wallets: wallets, logger: logger}
}

// Register creates the user and then a wallet in the user's currency.
func (s *Service) Register(ctx context.Context, reg identity.Registration) (Profile, error) {
	user, err := s.users.Register(ctx, reg)
	if err != nil {
		return Profile{}, err
	}
	w, err := s.wallets.Create(ctx, wallet.CreateInput{OwnerID: user.ID, Currency: user.Currency})
	if err != nil {
		s.logger.Error("wallet provisioning failed", "user_id", user.ID, "error", err)
		return Profile{}, fmt.Errorf("create wallet: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID, "wallet_id", w.ID, "currency", user.Currency, "role", user.Role)
	return Profile{User: user, Wallet: w}, nil
}

// RegisterDemo registers phone as the playground demo user.
func (s *Service) RegisterDemo(ctx context.Context, phone string) (Profile, error) {
	return s.Register(ctx, identity.Registration{
		Phone:     phone,
		FirstName: DemoFirstName,
		LastName:  DemoLastName,
		PIN:       DemoPIN,
		Currency:  DemoCurrency,
	})
}

// Lookup returns the profile registered under phone.
func (s *Service) Lookup(ctx context.Context, phone string) (Profile, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return Profile{}, err
	}
	return s.withWallet(ctx, user)
}

// LookupByID returns the profile of a user id.
func (s *Service) LookupByID(ctx context.Context, userID string) (Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return s.withWallet(ctx, user)
}

// Registered reports whether phone has an account.
func (s *Service) Registered(ctx context.Context, phone string) (bool, error) {
	_, err := s.users.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, identity.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) withWallet(ctx context.Context, user identity.User) (Profile, error) {
	w, err := s.wallets.GetByOwner(ctx, user.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("wallet for %s: %w", user.ID, err)
	}
	return Profile{User: user, Wallet: w}, nil
}
