package identity

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptStore tracks failed PIN entries and lockouts per phone.
type AttemptStore interface {
	Locked(ctx context.Context, phone string) (bool, error)
	Fail(ctx context.Context, phone string, window time.Duration) (int, error)
	Lock(ctx context.Context, phone string, d time.Duration) error
	Reset(ctx context.Context, phone string) error
}

const (
	attemptsPrefix = "pin:attempts:"
	lockedPrefix   = "pin:locked:"
)

// RedisAttemptStore keeps counters in Redis so lockouts hold across instances.
type RedisAttemptStore struct {
	cache *redis.Client
}

// NewRedisAttemptStore wraps a Redis client.
func NewRedisAttemptStore(cache *redis.Client) *RedisAttemptStore {
	return &RedisAttemptStore{cache: cache}
}

func (s *RedisAttemptStore) Locked(ctx context.Context, phone string) (bool, error) {
	n, err := s.cache.Exists(ctx, lockedPrefix+phone).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisAttemptStore) Fail(ctx context.Context, phone string, window time.Duration) (int, error) {
	key := attemptsPrefix + phone
	cnt, err := s.cache.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		s.cache.Expire(ctx, key, window)
	}
	return int(cnt), nil
}

func (s *RedisAttemptStore) Lock(ctx context.Context, phone string, d time.Duration) error {
	pipe := s.cache.TxPipeline()
	pipe.Set(ctx, lockedPrefix+phone, "1", d)
	pipe.Del(ctx, attemptsPrefix+phone)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisAttemptStore) Reset(ctx context.Context, phone string) error {
	return s.cache.Del(ctx, attemptsPrefix+phone).Err()
}

type attemptState struct {
	count       int
	windowEnds  time.Time
	lockedUntil time.Time
}

// MemoryAttemptStore is the single-process fallback.
type MemoryAttemptStore struct {
	mu    sync.Mutex
	state map[string]attemptState
	now   func() time.Time
}

// NewMemoryAttemptStore builds an empty in-memory store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{state: make(map[string]attemptState), now: time.Now}
}

func (s *MemoryAttemptStore) Locked(_ context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.state[phone].lockedUntil), nil
}

func (s *MemoryAttemptStore) Fail(_ context.Context, phone string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	st := s.state[phone]
	if now.After(st.windowEnds) {
		st.count = 0
		st.windowEnds = now.Add(window)
	}
	st.count++
	s.state[phone] = st
	return st.count, nil
}

func (s *MemoryAttemptStore) Lock(_ context.Context, phone string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[phone] = attemptState{lockedUntil: s.now().Add(d)}
	return nil
}

func (s *MemoryAttemptStore) Reset(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[phone]
	st.count = 0
	s.state[phone] = st
	return nil
}

// Sweep drops counters and locks that have lapsed.
func (s *MemoryAttemptStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for phone, st := range s.state {
		if now.After(st.windowEnds) && now.After(st.lockedUntil) {
			delete(s.state, phone)
			removed++
		}
	}
	return removed
}
