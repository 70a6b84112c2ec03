package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afritokeni/afritokeni/internal/identity"
)

// ErrNotStaff is returned when a regular user tries to sign in to the staff API.
var ErrNotStaff = errors.New("staff access only")

// Service authenticates agents and admins.
type Service struct {
	users  *identity.Service
	tokens *Tokens
	logger *slog.Logger
}

// NewService builds the staff login service.
func NewService(users *identity.Service, tokens *Tokens, logger *slog.Logger) *Service {
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
}

// Login checks the PIN and issues an access token to staff.
func (s *Service) Login(ctx context.Context, phone, pin string) (Session, error) {
	user, err := s.users.Authenticate(ctx, phone, pin)
	if err != nil {
		return Session{}, err
	}
	if !user.IsStaff() {
		s.logger.Warn("staff login refused", "user_id", user.ID, "role", user.Role)
		return Session{}, ErrNotStaff
	}
	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("staff login", "user_id", user.ID, "role", user.Role)
	return Session{AccessToken: token, ExpiresAt: exp.UTC(), Role: user.Role}, nil
}
