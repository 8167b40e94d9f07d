package webhooks

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps subscriptions in process memory.
// ListByEvent returns only active subscriptions.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return clone(sub), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		result = append(result, clone(sub))
	}
	sortByCreated(result)
	return result, nil
}

func (m *MemoryStore) ListByEvent(_ context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Active && slices.Contains(sub.Events, eventType) {
			result = append(result, clone(sub))
		}
	}
	sortByCreated(result)
	return result, nil
}

func (m *MemoryStore) RecordSuccess(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.LastSuccess = &at
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	return nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, id, msg string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	sub.LastError = msg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= limit {
		sub.Active = false
	}
	return sub.ConsecutiveFailures, sub.Active, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func clone(s *Subscription) *Subscription {
	c := *s
	c.Events = slices.Clone(s.Events)
	c.Addresses = slices.Clone(s.Addresses)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

func sortByCreated(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}
