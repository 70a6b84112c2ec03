package verification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a code waiting to be verified.
type Record struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the code lapsed before now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store keeps one pending code per phone.
type Store interface {
	Put(ctx context.Context, phone string, rec Record) error
	Get(ctx context.Context, phone string) (Record, error)
	Delete(ctx context.Context, phone string) error
}

const keyPrefix = "verify:"

// retention keeps a record past its expiry so a late attempt is reported as
// expired rather than missing.
const retention = time.Hour

// RedisStore keeps codes in Redis as JSON.
type RedisStore struct {
	cache *redis.Client
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(cache *redis.Client) *RedisStore {
	return &RedisStore{cache: cache}
}

func (s *RedisStore) Put(ctx context.Context, phone string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt) + retention
	return s.cache.Set(ctx, keyPrefix+phone, raw, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, phone string) (Record, error) {
	raw, err := s.cache.Get(ctx, keyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrCodeNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, phone string) error {
	return s.cache.Del(ctx, keyPrefix+phone).Err()
}

// MemoryStore is the single-process fallback.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, phone string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[phone] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, phone string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		return Record{}, ErrCodeNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

// Sweep drops records past their retention.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-retention)
	removed := 0
	for phone, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, phone)
			removed++
		}
	}
	return removed
}
