package tenants

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Repository is the persistence contract for tenants.
//
// Lookups taking a status return only tenants in that status; an empty status
// matches any. Number lookups prefer a primary-number match over an
// additional-agent match.
type Repository interface {
	Create(ctx context.Context, t Tenant) error
	Get(ctx context.Context, clientID string) (Tenant, error)
	FindByNumber(ctx context.Context, phone string, status Status) (Tenant, error)
	FindByAgentID(ctx context.Context, agentID string, status Status) (Tenant, error)
	FindByContactPhone(ctx context.Context, phone string, status Status) (Tenant, error)
	List(ctx context.Context, f Filter) ([]Tenant, int, error)

	// Update runs fn against the current row under a row lock and persists the
	// result. If fn returns an error nothing is written.
	Update(ctx context.Context, clientID string, fn func(*Tenant) error) (Tenant, error)
	Delete(ctx context.Context, clientID string) error
	CountByStatus(ctx context.Context) (StatusCounts, error)
}
