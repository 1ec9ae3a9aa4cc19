package tenants

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	tenants map[string]Tenant
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{tenants: map[string]Tenant{}} }

func (r *MemoryRepo) Create(ctx context.Context, t Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ClientID]; ok {
		return ErrConflict
	}
	r.tenants[t.ClientID] = clone(t)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, clientID string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[clientID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return clone(t), nil
}

func (r *MemoryRepo) FindByNumber(ctx context.Context, phone string, status Status) (Tenant, error) {
	if t, err := r.findFirst(status, func(t Tenant) bool { return t.TwilioPhoneNumber == phone }); err == nil {
		return t, nil
	}
	return r.findFirst(status, func(t Tenant) bool {
		for _, a := range t.AdditionalAgents {
			if a.TwilioPhoneNumber == phone {
				return true
			}
		}
		return false
	})
}

func (r *MemoryRepo) FindByAgentID(ctx context.Context, agentID string, status Status) (Tenant, error) {
	if t, err := r.findFirst(status, func(t Tenant) bool { return t.AgentID == agentID }); err == nil {
		return t, nil
	}
	return r.findFirst(status, func(t Tenant) bool {
		for _, a := range t.AdditionalAgents {
			if a.AgentID == agentID {
				return true
			}
		}
		return false
	})
}

func (r *MemoryRepo) FindByContactPhone(ctx context.Context, phone string, status Status) (Tenant, error) {
	return r.findFirst(status, func(t Tenant) bool { return t.ClientMeta.Phone == phone })
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Tenant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Tenant, 0)
	for _, t := range r.sorted() {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		out = append(out, clone(t))
	}
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Tenant{}, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MemoryRepo) Update(ctx context.Context, clientID string, fn func(*Tenant) error) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tenants[clientID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	next := clone(cur)
	if err := fn(&next); err != nil {
		return Tenant{}, err
	}
	r.tenants[clientID] = clone(next)
	return next, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[clientID]; !ok {
		return ErrNotFound
	}
	delete(r.tenants, clientID)
	return nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context) (StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c StatusCounts
	for _, t := range r.tenants {
		c.Total++
		switch t.Status {
		case StatusActive:
			c.Active++
		case StatusInactive:
			c.Inactive++
		}
	}
	return c, nil
}

func (r *MemoryRepo) findFirst(status Status, match func(Tenant) bool) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.sorted() {
		if status != "" && t.Status != status {
			continue
		}
		if match(t) {
			return clone(t), nil
		}
	}
	return Tenant{}, ErrNotFound
}

// sorted returns tenants newest first, matching the Postgres ordering.
func (r *MemoryRepo) sorted() []Tenant {
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func matchesSearch(t Tenant, search string) bool {
	for _, v := range []string{t.ClientMeta.FullName, t.ClientMeta.Email, t.ClientMeta.BusinessName} {
		if strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}

func clone(t Tenant) Tenant {
	out := t
	if t.AdditionalAgents != nil {
		out.AdditionalAgents = make([]Agent, len(t.AdditionalAgents))
		copy(out.AdditionalAgents, t.AdditionalAgents)
	}
	if t.TokenExpiresAt != nil {
		exp := *t.TokenExpiresAt
		out.TokenExpiresAt = &exp
	}
	return out
}
