package promotion

import (
	"context"
	"strings"
	"sync"
)

// Source resolves promotion rules by id.
type Source interface {
	Get(ctx context.Context, id string) (Rule, error)
}

// UsageRecorder counts redemptions durably. Increment must be an atomic
// increment-if-under-limit and return ErrUsageLimitReached otherwise.
type UsageRecorder interface {
	Increment(ctx context.Context, id string) error
}

// MemoryStore is an in-process Source and UsageRecorder.
type MemoryStore struct {
	mu    sync.Mutex
	rules map[string]Rule
}

// NewMemoryStore seeds a store with rules.
func NewMemoryStore(rules ...Rule) *MemoryStore {
	s := &MemoryStore{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

// Put inserts or replaces a rule.
func (s *MemoryStore) Put(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

// Get implements Source.
func (s *MemoryStore) Get(_ context.Context, id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[strings.TrimSpace(id)]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return r, nil
}

// Increment implements UsageRecorder.
func (s *MemoryStore) Increment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.RecordUsage(); err != nil {
		return err
	}
	s.rules[id] = r
	return nil
}
