package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("call already recorded")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Repository is the persistence contract for call history.
//
// Updates address a single row by (tenantID, callSid); concurrent writers to
// the same row resolve last-write-wins.
type Repository interface {
	// Insert writes the entry and its correlation atomically.
	// A second insert for the same (tenant, callSid) returns ErrDuplicate and writes nothing.
	Insert(ctx context.Context, e Entry) error
	Correlation(ctx context.Context, callSid string) (Correlation, error)
	Get(ctx context.Context, tenantID, callSid string) (Entry, error)
	Update(ctx context.Context, tenantID, callSid string, p Patch, now time.Time) error
	List(ctx context.Context, f ListFilter) ([]Entry, int, error)
	Stats(ctx context.Context, tenantID string, recentSince time.Time) (Stats, error)
}
