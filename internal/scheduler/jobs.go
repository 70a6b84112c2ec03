package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/afritokeni/afritokeni/internal/exchange"
)

// CodeExpirer expires lapsed agent codes.
type CodeExpirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// RateRefresher fetches a fresh rate snapshot.
type RateRefresher interface {
	Refresh(ctx context.Context) (exchange.Snapshot, error)
}

// Sweeper drops expired entries from an in-memory store.
type Sweeper interface {
	Sweep() int
}

// Jobs holds the work the scheduler runs. Each job gets its own timeout.
type Jobs struct {
	Codes    CodeExpirer
	Rates    RateRefresher
	Sweepers map[string]Sweeper
	Logger   *slog.Logger
	Timeout  time.Duration
}

func (j *Jobs) jobContext() (context.Context, context.CancelFunc) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// ExpireCodes expires pending agent requests past their deadline.
func (j *Jobs) ExpireCodes() {
	ctx, cancel := j.jobContext()
	defer cancel()
	n, err := j.Codes.ExpirePending(ctx)
	if err != nil {
		j.Logger.Error("expire agent codes", "error", err)
	}
	if n > 0 {
		j.Logger.Info("agent codes expired", "count", n)
	}
}

// Sweep clears expired sessions, limiter windows, PIN attempts and
// verification codes held in memory.
func (j *Jobs) Sweep() {
	for name, s := range j.Sweepers {
		if n := s.Sweep(); n > 0 {
			j.Logger.Debug("swept expired entries", "store", name, "count", n)
		}
	}
}

// RefreshRates warms the rate cache.
func (j *Jobs) RefreshRates() {
	ctx, cancel := j.jobContext()
	defer cancel()
	snap, err := j.Rates.Refresh(ctx)
	if err != nil {
		j.Logger.Warn("refresh rates", "error", err)
		return
	}
	j.Logger.Info("rates refreshed", "btc_usd", snap.BTCUSD, "fetched_at", snap.FetchedAt)
}
