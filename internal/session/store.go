package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long an abandoned session can linger.
const DefaultTTL = 2 * time.Hour

var ErrInvalidState = errors.New("session: callSid required")

// State is the serializable part of a live call. Socket handles stay with the
// relay goroutine that owns the call.
type State struct {
	CallSid   string    `json:"callSid"`
	StreamSid string    `json:"streamSid"`
	TenantID  string    `json:"tenantId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the session registry. Every Put refreshes the entry's TTL.
// Get on an unknown or expired key returns ok=false and no error.
type Store interface {
	Put(ctx context.Context, s State) error
	Get(ctx context.Context, callSid string) (State, bool, error)
	Remove(ctx context.Context, callSid string) error
	Count(ctx context.Context) (int, error)
}
