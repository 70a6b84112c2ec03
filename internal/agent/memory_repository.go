package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	requests map[string]Request
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development.
func NewMemoryRepository() Repository {
	return &memoryRepository{requests: make(map[string]Request)}
}

func (r *memoryRepository) Create(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.Code == req.Code || existing.ID == req.ID {
			return ErrCodeExists
		}
	}
	r.requests[req.ID] = req
	return nil
}

func (r *memoryRepository) GetByCode(_ context.Context, code string) (Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.Code == code {
			return req, nil
		}
	}
	return Request{}, ErrRequestNotFound
}

func (r *memoryRepository) Transition(_ context.Context, id, from, to string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != from {
		return ErrNotPending
	}
	req.Status = to
	req.UpdatedAt = at.UTC()
	r.requests[id] = req
	return nil
}

func (r *memoryRepository) ListByAgent(_ context.Context, agentID string, limit int) ([]Request, error) {
	return r.filter(limit, func(a, b Request) bool { return a.CreatedAt.After(b.CreatedAt) }, func(req Request) bool {
		return req.AgentID == agentID
	}), nil
}

func (r *memoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]Request, error) {
	return r.filter(limit, func(a, b Request) bool { return a.ExpiresAt.Before(b.ExpiresAt) }, func(req Request) bool {
		return req.Status == StatusPending && req.Expired(now)
	}), nil
}

func (r *memoryRepository) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, req := range r.requests {
		counts[req.Status]++
	}
	return counts, nil
}

func (r *memoryRepository) filter(limit int, less func(a, b Request) bool, keep func(Request) bool) []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Request
	for _, req := range r.requests {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
