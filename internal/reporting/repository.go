package reporting

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrNotFound       = errors.New("reporting: not found")
)

// Repository stores metrics entries, at most one per Key.
type Repository interface {
	Get(ctx context.Context, k Key) (Entry, error)
	ListPeriod(ctx context.Context, tenantID string, p Period) ([]Entry, error)
	// Apply loads the entry for k (zero-valued when absent), lets fn mutate
	// its metrics and stores the result in one step.
	Apply(ctx context.Context, k Key, now time.Time, fn func(*Metrics)) (Entry, error)
}
