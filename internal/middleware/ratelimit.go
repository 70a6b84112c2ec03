package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// incrWindow increments the counter and starts its window on the first hit.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter shares counters across instances.
type RedisLimiter struct {
	cache  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit hits per key per window.
func NewRedisLimiter(cache *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{cache: cache, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindow.Run(ctx, l.cache, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit), nil
}

type windowCount struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the single-process fallback.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]windowCount
	now      func() time.Time
}

// NewMemoryLimiter allows limit hits per key per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, counters: make(map[string]windowCount), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	wc := l.counters[key]
	if !now.Before(wc.resetAt) {
		wc = windowCount{resetAt: now.Add(l.window)}
	}
	wc.count++
	l.counters[key] = wc
	return wc.count <= l.limit, nil
}

// Sweep drops counters whose window has closed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, wc := range l.counters {
		if !now.Before(wc.resetAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// NewLimiter picks Redis when a client is available.
func NewLimiter(cache *redis.Client, prefix string, limit int, window time.Duration) Limiter {
	if cache == nil {
		return NewMemoryLimiter(limit, window)
	}
	return NewRedisLimiter(cache, prefix, limit, window)
}
