package identity

import (
	"errors"
	"time"
)

// Roles a user can hold.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

var (
	ErrUserExists       = errors.New("user already registered")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPIN       = errors.New("invalid PIN")
	ErrInvalidPINFormat = errors.New("PIN must be exactly 4 digits")
	ErrPINLocked        = errors.New("too many failed PIN attempts")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidCurrency  = errors.New("unsupported currency")
	ErrInvalidLanguage  = errors.New("unsupported language")
)

// User represents a registered wallet owner.
type User struct {
	ID        string
	Phone     string
	FirstName string
	LastName  string
	Currency  string
	Language  string
	Role      string
	PINHash   []byte
	CreatedAt time.Time
	LastLogin *time.Time
}

// FullName joins first and last names.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// IsStaff reports whether the user may use the staff API.
func (u User) IsStaff() bool {
	return u.Role == RoleAgent || u.Role == RoleAdmin
}

// Registration carries the data collected during onboarding.
type Registration struct {
	Phone     string
	FirstName string
	LastName  string
	PIN       string
	Currency  string
	Language  string
	Role      string
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}
