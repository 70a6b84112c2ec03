package ussd

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Limits for amounts typed on USSD screens, in major units.
const (
	MinAmount = 10
	MaxAmount = 1_000_000
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// IsValidPhone accepts + followed by 10 to 15 digits.
func IsValidPhone(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Sanitize keeps letters, digits, spaces and the characters + * . that
// carrier input legitimately contains.
func Sanitize(input string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		switch r {
		case '+', '*', ' ', '.':
			return r
		}
		return -1
	}, input)
}

// parseNumber reads a positive finite decimal, ignoring thousands separators.
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// ParseAmount reads a fiat amount and checks it is within MinAmount and
// MaxAmount.
func ParseAmount(s string) (float64, error) {
	v, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if v < MinAmount || v > MaxAmount {
		return 0, ErrAmountOutOfRange
	}
	return v, nil
}

// parseUnits reads a positive whole number of smallest units.
func parseUnits(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}
