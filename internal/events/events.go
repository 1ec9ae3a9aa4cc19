package events

import (
	"context"
	"sync"
	"time"
)

const (
	CallStarted       = "call.started"
	CallEnded         = "call.ended"
	CallTransferred   = "call.transferred"
	CallStatus        = "call.status"
	AppointmentBooked = "appointment.booked"
)

// Event is a call lifecycle notification for downstream consumers.
type Event struct {
	Type       string         `json:"type"`
	CallSid    string         `json:"callSid,omitempty"`
	TenantID   string         `json:"clientId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	Direction  string         `json:"direction,omitempty"`
	Status     string         `json:"status,omitempty"`
	Duration   int            `json:"duration,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher delivers events. Publishing is best effort; callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
