package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "rates:snapshot"

// CachedProvider serves a stored snapshot until it is older than ttl, then
// asks the upstream provider. When upstream fails a stale snapshot is served
// rather than failing the caller.
type CachedProvider struct {
	upstream Provider
	redis    *redis.Client
	ttl      time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	local *Snapshot
	now   func() time.Time
}

// NewCachedProvider wraps upstream. rdb may be nil, in which case the
// snapshot is kept in process memory.
func NewCachedProvider(upstream Provider, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{upstream: upstream, redis: rdb, ttl: ttl, logger: logger, now: time.Now}
}

// Rates returns a cached snapshot or refreshes it.
func (p *CachedProvider) Rates(ctx context.Context) (Snapshot, error) {
	cached, ok := p.load(ctx)
	if ok && p.now().Sub(cached.FetchedAt) < p.ttl {
		return cached, nil
	}
	fresh, err := p.Refresh(ctx)
	if err != nil {
		if ok {
			p.logger.Warn("serving stale rates", "fetched_at", cached.FetchedAt, "error", err)
			return cached, nil
		}
		return Snapshot{}, err
	}
	return fresh, nil
}

// Refresh fetches from upstream and stores the result.
func (p *CachedProvider) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := p.upstream.Rates(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = p.now().UTC()
	}
	p.store(ctx, snap)
	return snap, nil
}

func (p *CachedProvider) load(ctx context.Context) (Snapshot, bool) {
	if p.redis != nil {
		raw, err := p.redis.Get(ctx, snapshotKey).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				p.logger.Warn("rate cache read failed", "error", err)
			}
			return Snapshot{}, false
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return Snapshot{}, false
		}
		return snap, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.local == nil {
		return Snapshot{}, false
	}
	return *p.local, true
}

func (p *CachedProvider) store(ctx context.Context, snap Snapshot) {
	if p.redis != nil {
		raw, err := json.Marshal(snap)
		if err == nil {
			// Stale entries stay readable for a while as a fallback.
			err = p.redis.Set(ctx, snapshotKey, raw, 12*p.ttl).Err()
		}
		if err != nil {
			p.logger.Warn("rate cache write failed", "error", err)
		}
		return
	}
	p.mu.Lock()
	p.local = &snap
	p.mu.Unlock()
}
