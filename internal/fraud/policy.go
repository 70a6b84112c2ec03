// Package fraud screens money movements before they reach the ledger: it
// blocks oversized amounts, flags large ones for review and caps how often a
// user may move money.
package fraud

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/afritokeni/afritokeni/internal/currency"
)

// Risk scores attached to an assessment.
const (
	ScoreNone    = 0
	ScoreMedium  = 30
	ScoreReview  = 70
	ScoreBlocked = 100
)

var (
	ErrBlocked         = errors.New("transaction blocked")
	ErrTooManyRequests = errors.New("too many transactions, please wait before trying again")
)

// Limits bounds a single transaction in major units of one asset.
type Limits struct {
	Max    float64 `yaml:"max"`
	Review float64 `yaml:"review"`
}

//go:embed limits.yaml
var rawLimits []byte

// DefaultLimits returns the built-in limit table. The "default" entry covers
// assets without their own row.
func DefaultLimits() map[string]Limits {
	limits, err := parseLimits(rawLimits)
	if err != nil {
		panic(fmt.Sprintf("fraud: %v", err))
	}
	return limits
}

func parseLimits(data []byte) (map[string]Limits, error) {
	var limits map[string]Limits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	if _, ok := limits["default"]; !ok {
		return nil, errors.New("limits: missing default entry")
	}
	return limits, nil
}

// Counter is a fixed-window hit counter such as middleware.Limiter.
type Counter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Activity is one money movement about to be posted.
type Activity struct {
	UserID    string
	Operation string
	Asset     currency.Asset
	Amount    int64
}

// Assessment is the outcome of screening an Activity.
type Assessment struct {
	Score    int
	Review   bool
	Warnings []string
}

// Policy screens activities. A nil *Policy allows everything.
type Policy struct {
	limits   map[string]Limits
	velocity Counter
	logger   *slog.Logger
}

// NewPolicy builds a policy. velocity may be nil to skip the frequency cap.
func NewPolicy(limits map[string]Limits, velocity Counter, logger *slog.Logger) *Policy {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Policy{limits: limits, velocity: velocity, logger: logger}
}

func (p *Policy) limitsFor(asset currency.Asset) Limits {
	if l, ok := p.limits[string(asset)]; ok {
		return l
	}
	return p.limits["default"]
}

// Assess scores an amount against the asset limits without side effects.
func (p *Policy) Assess(asset currency.Asset, amount int64) Assessment {
	l := p.limitsFor(asset)
	ceiling, review := currency.ToMinor(asset, l.Max), currency.ToMinor(asset, l.Review)
	shown := currency.Format(asset, amount) + " " + currency.Label(asset)
	switch {
	case amount > ceiling:
		return Assessment{Score: ScoreBlocked, Review: true, Warnings: []string{
			fmt.Sprintf("amount %s exceeds maximum %s", shown, currency.Format(asset, ceiling))}}
	case amount > review:
		return Assessment{Score: ScoreReview, Review: true, Warnings: []string{"large transaction: " + shown}}
	case amount > review/2:
		return Assessment{Score: ScoreMedium, Warnings: []string{"medium transaction: " + shown}}
	}
	return Assessment{Score: ScoreNone}
}

// Check counts the activity against the user's frequency cap and screens the
// amount. Flagged activities are logged for manual review; blocked ones
// return ErrBlocked.
func (p *Policy) Check(ctx context.Context, a Activity) (Assessment, error) {
	if p == nil {
		return Assessment{}, nil
	}
	if p.velocity != nil {
		ok, err := p.velocity.Allow(ctx, a.UserID)
		switch {
		case err != nil:
			p.logger.Warn("fraud velocity counter unavailable", "user_id", a.UserID, "error", err)
		case !ok:
			p.logger.Warn("transaction rate exceeded", "user_id", a.UserID, "operation", a.Operation)
			return Assessment{Score: ScoreBlocked, Warnings: []string{"rate limit exceeded"}}, ErrTooManyRequests
		}
	}

	res := p.Assess(a.Asset, a.Amount)
	if res.Review {
		p.logger.Warn("transaction flagged for review", "user_id", a.UserID, "operation", a.Operation,
			"asset", a.Asset, "amount", a.Amount, "risk_score", res.Score, "warnings", res.Warnings)
	}
	if res.Score >= ScoreBlocked {
		return res, fmt.Errorf("%w: %s", ErrBlocked, res.Warnings[0])
	}
	return res, nil
}
