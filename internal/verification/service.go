// Package verification issues and checks one-time SMS codes.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AnonymousUser is recorded when a code is issued without a user id.
const AnonymousUser = "anonymous"

var (
	ErrCodeNotFound = errors.New("no verification code found for this number")
	ErrCodeExpired  = errors.New("verification code has expired")
	ErrCodeMismatch = errors.New("invalid verification code")
)

// Sender delivers a single SMS and returns the provider message id.
type Sender interface {
	Deliver(ctx context.Context, to, body string) (string, error)
}

// Service stores codes and sends them by SMS.
type Service struct {
	store  Store
	sms    Sender
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a verification service. A zero ttl means ten minutes.
func NewService(store Store, sms Sender, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{store: store, sms: sms, ttl: ttl, logger: logger, now: time.Now}
}

// Message is the SMS text carrying code.
func (s *Service) Message(code string) string {
	return fmt.Sprintf("Your AfriTokeni verification code is: %s. Valid for %d minutes.", code, int(s.ttl.Minutes()))
}

// Issue stores code for phone and texts it. Any earlier code is replaced.
func (s *Service) Issue(ctx context.Context, phone, code, userID string) error {
	if userID == "" {
		userID = AnonymousUser
	}
	now := s.now().UTC()
	rec := Record{Code: strings.TrimSpace(code), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	if err := s.store.Put(ctx, phone, rec); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if _, err := s.sms.Deliver(ctx, phone, s.Message(rec.Code)); err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}
	s.logger.Info("verification code issued", "phone", phone, "user_id", userID, "expires_at", rec.ExpiresAt)
	return nil
}

// Send delivers a plain message.
func (s *Service) Send(ctx context.Context, phone, body string) (string, error) {
	return s.sms.Deliver(ctx, phone, body)
}

// Verify checks code against the one issued to phone and returns the user id
// it was issued for. Expired and matched codes are removed.
func (s *Service) Verify(ctx context.Context, phone, code string) (string, error) {
	rec, err := s.store.Get(ctx, phone)
	if err != nil {
		return "", err
	}
	if rec.Expired(s.now()) {
		if err := s.store.Delete(ctx, phone); err != nil {
			s.logger.Warn("delete expired code failed", "phone", phone, "error", err)
		}
		return "", ErrCodeExpired
	}
	if rec.Code != strings.TrimSpace(code) {
		return "", ErrCodeMismatch
	}
	if err := s.store.Delete(ctx, phone); err != nil {
		return "", fmt.Errorf("consume code: %w", err)
	}
	return rec.UserID, nil
}
