package calls

import (
	"context"
	"testing"
	"time"
)

func newTestWriter() (*Writer, *MemoryRepo, *time.Time) {
	repo := NewMemoryRepo()
	w := NewWriter(repo)
	now := time.Unix(1700000000, 0).UTC()
	w.clock = func() time.Time { return now }
	return w, repo, &now
}

func TestRecordStart_IdempotentPerTenantAndCall(t *testing.T) {
	w, repo, _ := newTestWriter()
	ctx := context.Background()
	rec := StartRecord{TenantID: "loc-1", CallSid: "CA1", Phone: "+1555", From: "+1666", AgentID: "agent-a", Status: StatusFollowUp}

	first, created, err := w.RecordStart(ctx, rec)
	if err != nil || !created {
		t.Fatalf("first start: created=%v err=%v", created, err)
	}
	second, created, err := w.RecordStart(ctx, rec)
	if err != nil || created {
		t.Fatalf("second start: created=%v err=%v", created, err)
	}
	if second.CallID != first.CallID {
		t.Fatalf("expected the stored entry back, got %q vs %q", second.CallID, first.CallID)
	}

	list, total, _ := repo.List(ctx, ListFilter{TenantID: "loc-1"})
	if total != 1 || len(list) != 1 {
		t.Fatalf("expected exactly one entry, got %d", total)
	}

	c, err := w.Resolve(ctx, "CA1")
	if err != nil || c.TenantID != "loc-1" || c.AgentID != "agent-a" {
		t.Fatalf("expected correlation, got %+v %v", c, err)
	}
}

func TestRecordStop_FloorsDurationAndIsIdempotent(t *testing.T) {
	w, repo, now := newTestWriter()
	ctx := context.Background()
	start := *now
	if _, _, err := w.RecordStart(ctx, StartRecord{TenantID: "loc-1", CallSid: "CA1", StartTime: start}); err != nil {
		t.Fatalf("start: %v", err)
	}

	end := start.Add(61*time.Second + 900*time.Millisecond)
	for i := 0; i < 2; i++ {
		e, ok, err := w.RecordStop(ctx, "CA1", end, "user: hi")
		if err != nil || !ok {
			t.Fatalf("stop %d: ok=%v err=%v", i, ok, err)
		}
		if e.CallData.Duration != 61 {
			t.Fatalf("expected floored duration 61, got %d", e.CallData.Duration)
		}
	}

	stored, _ := repo.Get(ctx, "loc-1", "CA1")
	if stored.CallData.Status != StatusHangUp || stored.CallData.EndTime == nil || !stored.CallData.EndTime.Equal(end) {
		t.Fatalf("unexpected terminal record: %+v", stored.CallData)
	}
	if stored.Details.CallTranscript != "user: hi" {
		t.Fatalf("expected transcript stored")
	}
	_, total, _ := repo.List(ctx, ListFilter{})
	if total != 1 {
		t.Fatalf("terminal updates must not duplicate entries, got %d", total)
	}
}

func TestRecordStop_UnknownCallSkipped(t *testing.T) {
	w, _, now := newTestWriter()
	_, ok, err := w.RecordStop(context.Background(), "CA404", *now, "")
	if err != nil || ok {
		t.Fatalf("expected silent skip, got ok=%v err=%v", ok, err)
	}
}

func TestRecordStatus_CompletedSetsEndTime(t *testing.T) {
	w, repo, now := newTestWriter()
	ctx := context.Background()
	_, _, _ = w.RecordStart(ctx, StartRecord{TenantID: "loc-1", CallSid: "CA1", Direction: DirectionOutbound, Status: StatusInitiated})

	if err := w.RecordStatus(ctx, StatusUpdate{CallSid: "CA1", Status: "ringing"}); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	e, _ := repo.Get(ctx, "loc-1", "CA1")
	if e.CallData.Status != "ringing" || e.CallData.EndTime != nil {
		t.Fatalf("unexpected after ringing: %+v", e.CallData)
	}

	if err := w.RecordStatus(ctx, StatusUpdate{TenantID: "loc-1", CallSid: "CA1", Status: StatusCompleted, Duration: "42"}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	e, _ = repo.Get(ctx, "loc-1", "CA1")
	if e.CallData.Duration != 42 || e.CallData.EndTime == nil || !e.CallData.EndTime.Equal(*now) {
		t.Fatalf("unexpected after completed: %+v", e.CallData)
	}

	if err := w.RecordStatus(ctx, StatusUpdate{CallSid: "CA-unknown", Status: StatusCompleted}); err != nil {
		t.Fatalf("unknown call must be skipped, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"12abc", 0, false},
		{"-3", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDuration(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseDuration(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRecordTransfer_SetsDetails(t *testing.T) {
	w, repo, _ := newTestWriter()
	ctx := context.Background()
	_, _, _ = w.RecordStart(ctx, StartRecord{TenantID: "loc-1", CallSid: "CA1"})

	if err := w.RecordTransfer(ctx, "loc-1", "CA1", "+15551112222"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	e, _ := repo.Get(ctx, "loc-1", "CA1")
	d := e.Details
	if d.CallOutcome != StatusBookedAppointment || d.NextAction != "agent_followup" || d.CallSentiment != SentimentPositive {
		t.Fatalf("unexpected details: %+v", d)
	}
	if d.CallSummary != "Call transferred to agent at +15551112222" {
		t.Fatalf("unexpected summary %q", d.CallSummary)
	}
}

func TestStats(t *testing.T) {
	w, repo, now := newTestWriter()
	ctx := context.Background()
	_, _, _ = w.RecordStart(ctx, StartRecord{TenantID: "a", CallSid: "1", Status: StatusFollowUp, StartTime: now.Add(-48 * time.Hour)})
	_, _, _ = w.RecordStart(ctx, StartRecord{TenantID: "a", CallSid: "2", Status: StatusFollowUp})
	_, _, _ = w.RecordStart(ctx, StartRecord{TenantID: "b", CallSid: "3", Status: StatusHangUp})
	_ = w.RecordTransfer(ctx, "b", "3", "+1")

	s, err := repo.Stats(ctx, "", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Total != 3 || s.Recent != 2 || s.ByStatus[StatusFollowUp] != 2 || s.ByOutcome[StatusBookedAppointment] != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestDuration(t *testing.T) {
	start := time.Unix(100, 0)
	if got := Duration(start, start.Add(999*time.Millisecond)); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Duration(start, start.Add(-time.Second)); got != 0 {
		t.Fatalf("expected 0 for clock skew, got %d", got)
	}
}
