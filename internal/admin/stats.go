// Package admin aggregates platform figures for the staff dashboard.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/currency"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
)

// Stats is a dashboard snapshot. Fee balances are in smallest units.
type Stats struct {
	UsersByRole   map[string]int   `json:"users_by_role"`
	TotalUsers    int              `json:"total_users"`
	Fees          map[string]int64 `json:"fees"`
	AgentRequests map[string]int   `json:"agent_requests"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Service reads figures from the user store, the ledger and the agent desk.
type Service struct {
	users  *identity.Service
	agents *agent.Service
	ledger ledger.Ledger
	now    func() time.Time
}

// NewService builds the stats service.
func NewService(users *identity.Service, agents *agent.Service, ledger ledger.Ledger) *Service {
	return &Service{users: users, agents: agents, ledger: ledger, now: time.Now}
}

// Assets lists every asset the platform collects fees in.
func Assets() []currency.Asset {
	assets := make([]currency.Asset, 0, len(currency.Fiat)+2)
	for _, f := range currency.Fiat {
		assets = append(assets, currency.Asset(f))
	}
	return append(assets, currency.CkBTC, currency.CkUSDC)
}

// Stats collects the current snapshot.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	roles, err := s.users.CountByRole(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	out := Stats{UsersByRole: roles, Fees: make(map[string]int64), GeneratedAt: s.now().UTC()}
	for _, n := range roles {
		out.TotalUsers += n
	}

	for _, asset := range Assets() {
		code := ledger.SystemAccount("fees", string(asset))
		bal, err := s.ledger.Balance(ctx, code)
		if err != nil {
			return Stats{}, fmt.Errorf("fee balance %s: %w", asset, err)
		}
		out.Fees[string(asset)] = bal
	}

	if out.AgentRequests, err = s.agents.Stats(ctx); err != nil {
		return Stats{}, fmt.Errorf("agent stats: %w", err)
	}
	return out, nil
}
