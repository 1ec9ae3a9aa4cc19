package session

import (
	"context"
	"os"
	"testing"
	"time"

	"voice-relay/pkg/utils"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "CA-missing"); ok || err != nil {
		t.Fatalf("unknown key must be absent without error, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, State{}); err == nil {
		t.Fatalf("expected error for empty callSid")
	}

	st := State{CallSid: "CA1", StreamSid: "MZ1", TenantID: "loc-1", Direction: "inbound", Status: "Bridged"}
	if err := s.Put(ctx, st); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "CA1")
	if err != nil || !ok || got.StreamSid != "MZ1" || got.TenantID != "loc-1" {
		t.Fatalf("get: %+v ok=%v err=%v", got, ok, err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}

	if err := s.Remove(ctx, "CA1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "CA1"); err != nil {
		t.Fatalf("second remove must be a no-op, got %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expected 0 sessions, got %d", n)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Minute))
}

func TestMemoryStore_ExpiresAbandonedSessions(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	_ = s.Put(ctx, State{CallSid: "CA1"})

	time.Sleep(120 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "CA1"); ok {
		t.Fatalf("expected session to expire")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expired sessions must not be counted, got %d", n)
	}
}

// Needs a live Redis: REDIS_TEST_ADDR=localhost:6379 go test ./internal/session/
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb, err := utils.OpenRedis(context.Background(), utils.RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	s := NewRedisStore(rdb, time.Minute)
	s.prefix = "relay:test:" + time.Now().Format("150405.000000")
	exerciseStore(t, s)
}
