package reporting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{entries: map[Key]Entry{}} }

func (r *MemoryRepo) Get(ctx context.Context, k Key) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) ListPeriod(ctx context.Context, tenantID string, p Period) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0)
	for k, e := range r.entries {
		if k.TenantID == tenantID && k.Period == p {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, k Key, now time.Time, fn func(*Metrics)) (Entry, error) {
	if k.TenantID == "" || k.AgentID == "" || k.Source == "" || k.Source == SourceCombined {
		return Entry{}, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		e = Entry{TenantID: k.TenantID, AgentID: k.AgentID, Period: k.Period.String(), Source: k.Source}
	}
	fn(&e.Metrics)
	e.Metrics.LastUpdated = now
	r.entries[k] = e
	return e, nil
}
