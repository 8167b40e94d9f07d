package analyzer

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/risk"
)

// Store is the analysis audit trail.
type Store interface {
	Record(ctx context.Context, r *Report) error
	// ListByAddress returns at most limit reports for addr, newest first,
	// starting after the cursor when one is given.
	ListByAddress(ctx context.Context, addr risk.Address, limit int, after *pagination.Cursor) ([]*Report, error)
}

// maxReportsPerAddress bounds memory use of the in-memory store.
const maxReportsPerAddress = 200

// MemoryStore keeps reports in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[risk.Address][]*Report // oldest first
}

// NewMemoryStore creates an in-memory report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[risk.Address][]*Report)}
}

func (s *MemoryStore) Record(_ context.Context, r *Report) error {
	cp := copyReport(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.reports[r.Address], cp)
	if len(list) > maxReportsPerAddress {
		list = list[len(list)-maxReportsPerAddress:]
	}
	s.reports[r.Address] = list
	return nil
}

func (s *MemoryStore) ListByAddress(_ context.Context, addr risk.Address, limit int, after *pagination.Cursor) ([]*Report, error) {
	s.mu.RLock()
	var out []*Report
	for _, r := range s.reports[addr] {
		if after.After(r.StartedAt, r.ID) {
			out = append(out, copyReport(r))
		}
	}
	s.mu.RUnlock()

	// Concurrent analyses may be recorded out of start order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyReport(r *Report) *Report {
	cp := *r
	cp.Findings = append([]*risk.Finding(nil), r.Findings...)
	return &cp
}
