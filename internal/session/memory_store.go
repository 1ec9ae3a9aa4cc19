package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. Suitable for a single instance.
type MemoryStore struct {
	c   *cache.Cache
	ttl time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{c: cache.New(ttl, cleanup), ttl: ttl}
}

func (m *MemoryStore) Put(ctx context.Context, s State) error {
	if s.CallSid == "" {
		return ErrInvalidState
	}
	m.c.Set(s.CallSid, s, m.ttl)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, callSid string) (State, bool, error) {
	v, ok := m.c.Get(callSid)
	if !ok {
		return State{}, false, nil
	}
	s, ok := v.(State)
	return s, ok, nil
}

func (m *MemoryStore) Remove(ctx context.Context, callSid string) error {
	m.c.Delete(callSid)
	return nil
}

// Count excludes expired entries that have not been swept yet.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	return len(m.c.Items()), nil
}
