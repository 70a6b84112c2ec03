package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/i18n"
)

// PINPolicy bounds failed PIN attempts.
type PINPolicy struct {
	MaxAttempts int
	Lockout     time.Duration
}

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	attempts AttemptStore
	policy   PINPolicy
	now      func() time.Time
}

// NewService creates a new identity service. A nil attempt store falls back to
// process memory.
func NewService(repo Repository, attempts AttemptStore, policy PINPolicy) *Service {
	if attempts == nil {
		attempts = NewMemoryAttemptStore()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Lockout <= 0 {
		policy.Lockout = 30 * time.Minute
	}
	return &Service{repo: repo, attempts: attempts, policy: policy, now: time.Now}
}

// ValidPIN reports whether pin is exactly four digits.
func ValidPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Register creates a user and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if !ValidPIN(reg.PIN) {
		return User{}, ErrInvalidPINFormat
	}
	if reg.Currency == "" {
		reg.Currency = currency.DetectFromPhone(reg.Phone)
	}
	if !currency.IsFiat(reg.Currency) {
		return User{}, ErrInvalidCurrency
	}
	if reg.Language == "" {
		reg.Language = string(i18n.English)
	}
	if !i18n.Valid(reg.Language) {
		return User{}, ErrInvalidLanguage
	}
	if reg.Role == "" {
		reg.Role = RoleUser
	}
	if !ValidRole(reg.Role) {
		return User{}, ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Phone:     strings.TrimSpace(reg.Phone),
		FirstName: strings.TrimSpace(reg.FirstName),
		LastName:  strings.TrimSpace(reg.LastName),
		Currency:  reg.Currency,
		Language:  reg.Language,
		Role:      reg.Role,
		PINHash:   hash,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// FindByPhone looks up a user by phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (User, error) {
	return s.repo.FindByPhone(ctx, phone)
}

// FindByID looks up a user by identifier.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns up to limit users, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

// CountByRole returns the number of users holding each role.
func (s *Service) CountByRole(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByRole(ctx)
}

// VerifyPIN checks the PIN for phone, counting failures toward a lockout.
func (s *Service) VerifyPIN(ctx context.Context, phone, pin string) (User, error) {
	locked, err := s.attempts.Locked(ctx, phone)
	if err != nil {
		return User{}, fmt.Errorf("check pin lock: %w", err)
	}
	if locked {
		return User{}, ErrPINLocked
	}

	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(pin)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return User{}, err
		}
		count, ferr := s.attempts.Fail(ctx, phone, s.policy.Lockout)
		if ferr != nil {
			return User{}, fmt.Errorf("record pin failure: %w", ferr)
		}
		if count >= s.policy.MaxAttempts {
			if lerr := s.attempts.Lock(ctx, phone, s.policy.Lockout); lerr != nil {
				return User{}, fmt.Errorf("lock pin: %w", lerr)
			}
			return User{}, ErrPINLocked
		}
		return User{}, ErrInvalidPIN
	}

	if err := s.attempts.Reset(ctx, phone); err != nil {
		return User{}, fmt.Errorf("reset pin attempts: %w", err)
	}
	return user, nil
}

// Authenticate verifies credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, phone, pin string) (User, error) {
	user, err := s.VerifyPIN(ctx, phone, pin)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// SetLanguage persists the preferred language for phone.
func (s *Service) SetLanguage(ctx context.Context, phone, lang string) error {
	if !i18n.Valid(lang) {
		return ErrInvalidLanguage
	}
	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return err
	}
	return s.repo.UpdateLanguage(ctx, user.ID, lang)
}

// SetRole changes the role of the user registered under phone.
func (s *Service) SetRole(ctx context.Context, phone, role string) (User, error) {
	if !ValidRole(role) {
		return User{}, ErrInvalidRole
	}
	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateRole(ctx, user.ID, role); err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}
