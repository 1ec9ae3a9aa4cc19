package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresActorAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminAction}); err == nil {
		t.Fatalf("expected error without actor")
	}
	if err := svc.Append(context.Background(), Event{ActorID: "ops"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_RecordAndList(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.Record(ctx, Event{TenantID: "loc-1", Type: EventTypeSecretReset, ActorID: "ops", IPAddress: "1.2.3.4"})
	svc.Record(ctx, Event{TenantID: "loc-2", Type: EventTypeOutboundCall, ActorID: "ops", CallSid: "CA9"})
	svc.Record(ctx, Event{TenantID: "loc-1", Type: EventTypeOutboundCall, ActorID: "ops", CallSid: "CA10"})
	// Invalid events are dropped without failing the caller.
	svc.Record(ctx, Event{TenantID: "loc-1"})

	got, err := svc.List(ctx, Filter{TenantID: "loc-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].CallSid != "CA10" || got[1].Type != EventTypeSecretReset {
		t.Fatalf("expected newest first: %+v", got)
	}
	if got[1].ID == "" || got[1].CreatedAt.IsZero() || got[1].IPAddress != "1.2.3.4" {
		t.Fatalf("expected id, timestamp and ip captured: %+v", got[1])
	}

	calls, _ := svc.List(ctx, Filter{Type: EventTypeOutboundCall, Limit: 1})
	if len(calls) != 1 || calls[0].CallSid != "CA10" {
		t.Fatalf("unexpected filtered list: %+v", calls)
	}
}
