package ussd

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Menus a session can be parked on.
const (
	MenuMain         = "main"
	MenuRegistration = "registration"
)

// ErrSessionNotFound is returned when no live session exists for an id.
var ErrSessionNotFound = errors.New("ussd session not found")

// Session is the state carried between webhook calls of one dialogue.
type Session struct {
	ID           string            `json:"session_id"`
	Phone        string            `json:"phone_number"`
	Menu         string            `json:"current_menu"`
	Step         int               `json:"step"`
	Language     string            `json:"language"`
	Data         map[string]string `json:"data"`
	LastActivity time.Time         `json:"last_activity"`
}

func newSession(id, phone string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Phone:        phone,
		Menu:         MenuMain,
		Language:     "en",
		Data:         make(map[string]string),
		LastActivity: now,
	}
}

// Idle reports whether the session saw no input for longer than ttl.
func (s *Session) Idle(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastActivity) > ttl
}

func (s *Session) Get(key string) string {
	return s.Data[key]
}

func (s *Session) Set(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// ClearData forgets everything collected so far.
func (s *Session) ClearData() {
	s.Data = make(map[string]string)
}

// offsetKey counts the input segments consumed by registration. Those
// segments stay in the carrier's text for the rest of the dialogue.
const offsetKey = "input_offset"

func (s *Session) offset() int {
	n, _ := strconv.Atoi(s.Data[offsetKey])
	return n
}

// SessionStore persists sessions between requests.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

const sessionKeyPrefix = "ussd:session:"

// RedisSessionStore keeps sessions as JSON with a sliding TTL.
type RedisSessionStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// NewRedisSessionStore wraps a Redis client.
func NewRedisSessionStore(cache *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{cache: cache, ttl: ttl}
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.cache.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	return &s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, sessionKeyPrefix+s.ID, raw, r.ttl).Err()
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.cache.Del(ctx, sessionKeyPrefix+id).Err()
}

// MemorySessionStore is the single-process fallback.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session
	now      func() time.Time
}

// NewMemorySessionStore builds an empty store expiring sessions after ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, sessions: make(map[string]Session), now: time.Now}
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Idle(m.now(), m.ttl) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	s.Data = cloneData(s.Data)
	return &s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *s
	stored.Data = cloneData(s.Data)
	m.sessions[s.ID] = stored
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Sweep drops idle sessions.
func (m *MemorySessionStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if s.Idle(now, m.ttl) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func cloneData(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NewSessionStore picks Redis when a client is available.
func NewSessionStore(cache *redis.Client, ttl time.Duration) SessionStore {
	if cache == nil {
		return NewMemorySessionStore(ttl)
	}
	return NewRedisSessionStore(cache, ttl)
}
