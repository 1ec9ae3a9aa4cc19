package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-relay/internal/calls"
	"voice-relay/internal/crm"
	"voice-relay/internal/tenants"
	"voice-relay/internal/voiceai"
)

type stubConversations struct {
	byAgent map[string][]voiceai.Conversation
	err     error
}

func (s stubConversations) MonthConversations(_ context.Context, agentID string, _ int, _ time.Month) ([]voiceai.Conversation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byAgent[agentID], nil
}

type stubAppointments []crm.Appointment

func (s stubAppointments) MonthAppointments(context.Context, tenants.Tenant, int, time.Month) []crm.Appointment {
	return s
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepo
	calls   *calls.MemoryRepo
	tenants *tenants.Service
	now     time.Time
}

func newFixture(t *testing.T, d Deps) fixture {
	t.Helper()
	ctx := context.Background()
	ts := tenants.NewService(tenants.NewMemoryRepo(), nil)
	if _, err := ts.Create(ctx, tenants.CreateRequest{
		ClientID:          "loc-1",
		CalID:             "cal-1",
		AgentID:           "agent-a",
		TwilioPhoneNumber: "+15550000001",
		RefreshToken:      "refresh",
		ClientMeta:        tenants.ClientMeta{FullName: "Dana Reyes", Email: "dana@example.com", Phone: "+15559990000"},
		AdditionalAgents:  []tenants.NewAgent{{AgentID: "agent-b", TwilioPhoneNumber: "+15550000002"}},
	}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	cr := calls.NewMemoryRepo()
	d.Tenants = ts
	d.Calls = cr
	repo := NewMemoryRepo()
	svc := NewService(repo, d)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	return fixture{svc: svc, repo: repo, calls: cr, tenants: ts, now: now}
}

func TestIncrementCall_FirstInboundBookedCall(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	e, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", Duration: 120, Booked: true})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	m := e.Metrics
	if m.InboundCalls != 1 || m.TotalCalls != 1 || m.TotalDuration != 120 || m.AverageDuration != 120 || m.SuccessfulBookings != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if e.Period != "2026-10" || e.Source != SourceInternal {
		t.Fatalf("unexpected key: %s %s", e.Period, e.Source)
	}
}

func TestIncrementCall_AccumulatesAndRoundsAverage(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	for _, d := range []int{10, 11} {
		if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "outbound", Duration: d}); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	m, err := f.svc.Get(ctx, "loc-1", "agent-a", PeriodOf(f.now))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.OutboundCalls != 2 || m.TotalDuration != 21 || m.AverageDuration != 11 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestIncrementBooking_LeavesCallCountsAlone(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", Duration: 120}); err != nil {
		t.Fatalf("increment call: %v", err)
	}
	e, err := f.svc.IncrementBooking(ctx, "loc-1", "agent-a", time.Time{})
	if err != nil {
		t.Fatalf("increment booking: %v", err)
	}
	m := e.Metrics
	if m.TotalCalls != 1 || m.InboundCalls != 1 || m.SuccessfulBookings != 1 || m.TotalDuration != 120 || m.AverageDuration != 120 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	if _, err := f.svc.IncrementBooking(ctx, "loc-1", "", f.now); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestListForTenant_ZeroForAgentsWithoutData(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-b", Direction: "inbound", Duration: 30}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	list, err := f.svc.ListForTenant(ctx, "loc-1", PeriodOf(f.now))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected both agents, got %d", len(list))
	}
	if !list[0].IsPrimary || list[0].Metrics.TotalCalls != 0 {
		t.Fatalf("expected zero metrics for primary, got %+v", list[0])
	}
	if list[1].AgentID != "agent-b" || list[1].Metrics.TotalCalls != 1 {
		t.Fatalf("unexpected second agent: %+v", list[1])
	}
}

func TestCompare_PercentChange(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	sep := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", At: sep}); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", Booked: i == 0}); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	c, err := f.svc.Compare(ctx, "loc-1", "agent-a", Period{2026, time.September}, Period{2026, time.October})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if c.Changes["totalCalls"] != 25 {
		t.Fatalf("expected +25%%, got %d", c.Changes["totalCalls"])
	}
	if c.Changes["successfulBookings"] != 100 {
		t.Fatalf("expected 100 when starting from zero, got %d", c.Changes["successfulBookings"])
	}
	if c.Changes["outboundCalls"] != 0 {
		t.Fatalf("expected 0 for zero to zero, got %d", c.Changes["outboundCalls"])
	}
}

func TestPercentChange(t *testing.T) {
	cases := []struct{ start, end, want int }{
		{0, 0, 0},
		{0, 3, 100},
		{4, 2, -50},
		{3, 4, 33},
		{2, 5, 150},
	}
	for _, c := range cases {
		if got := PercentChange(c.start, c.end); got != c.want {
			t.Fatalf("PercentChange(%d, %d) = %d, want %d", c.start, c.end, got, c.want)
		}
	}
}

func TestRecalculate_FromHistory(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	w := calls.NewWriter(f.calls)
	start := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	for i, sid := range []string{"CA1", "CA2", "CA3"} {
		dir := calls.DirectionInbound
		if i == 2 {
			dir = calls.DirectionOutbound
		}
		if _, _, err := w.RecordStart(ctx, calls.StartRecord{TenantID: "loc-1", CallSid: sid, AgentID: "agent-a", Direction: dir, StartTime: start}); err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, _, err := w.RecordStop(ctx, sid, start.Add(time.Duration(60*(i+1))*time.Second), ""); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}
	if err := w.RecordBooking(ctx, "loc-1", "CA1"); err != nil {
		t.Fatalf("booking: %v", err)
	}
	if err := w.RecordConversation(ctx, "CA1", "conv-1"); err != nil {
		t.Fatalf("conversation: %v", err)
	}
	// Outside the period.
	if _, _, err := w.RecordStart(ctx, calls.StartRecord{TenantID: "loc-1", CallSid: "CA9", AgentID: "agent-a", StartTime: start.AddDate(0, -1, 0)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Stale accumulated numbers are replaced.
	if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", Duration: 999}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	m, err := f.svc.Recalculate(ctx, "loc-1", "agent-a", Period{2026, time.October})
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if m.TotalCalls != 3 || m.InboundCalls != 2 || m.OutboundCalls != 1 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.TotalDuration != 360 || m.AverageDuration != 120 || m.SuccessfulBookings != 1 {
		t.Fatalf("unexpected totals: %+v", m)
	}
	if m.CallsFromVoiceAI != 1 || m.VoiceAISuccessRate != 33 {
		t.Fatalf("unexpected voice-ai figures: %+v", m)
	}
}

func TestSyncAndCombined(t *testing.T) {
	convs := stubConversations{byAgent: map[string][]voiceai.Conversation{
		"agent-a": {
			{ConversationID: "c1", CallDurationSecs: 100, CallSuccessful: "success", Direction: "inbound"},
			{ConversationID: "c2", CallDurationSecs: 50, CallSuccessful: "failure"},
		},
	}}
	appts := stubAppointments{
		{ID: "1", AppointmentStatus: "confirmed"},
		{ID: "2", AppointmentStatus: "showed"},
		{ID: "3", AppointmentStatus: "cancelled"},
		{ID: "4", Status: "noshow"},
	}
	f := newFixture(t, Deps{Conversations: convs, Appointments: appts})
	ctx := context.Background()
	p := PeriodOf(f.now)

	if _, err := f.svc.IncrementCall(ctx, Increment{TenantID: "loc-1", AgentID: "agent-a", Direction: "inbound", Duration: 30, Booked: true}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	vs, err := f.svc.SyncVoiceAI(ctx, "loc-1", p)
	if err != nil {
		t.Fatalf("sync voice-ai: %v", err)
	}
	if len(vs.Agents) != 2 || !vs.Agents[0].Synced || vs.Agents[0].Metrics.CallsFromVoiceAI != 2 || vs.Agents[0].Metrics.VoiceAISuccessRate != 50 {
		t.Fatalf("unexpected voice-ai sync: %+v", vs)
	}

	as, err := f.svc.SyncAppointments(ctx, "loc-1", p)
	if err != nil {
		t.Fatalf("sync appointments: %v", err)
	}
	if as.TotalAppointments != 4 || as.SuccessfulAppointments != 2 || as.CreditedAgentID != "agent-a" {
		t.Fatalf("unexpected appointment sync: %+v", as)
	}

	view, err := f.svc.Combined(ctx, "loc-1", p)
	if err != nil {
		t.Fatalf("combined: %v", err)
	}
	a := view["agent-a"].Sources
	if a.Combined.TotalCalls != 3 || a.Combined.TotalDuration != 180 || a.Combined.AverageDuration != 60 {
		t.Fatalf("unexpected combined calls: %+v", a.Combined)
	}
	if a.Combined.SuccessfulBookings != 3 || a.CRM.CancelledAppointments != 1 || a.CRM.NoShowAppointments != 1 {
		t.Fatalf("unexpected combined bookings: %+v / %+v", a.Combined, a.CRM)
	}
	if b := view["agent-b"].Sources; b.Combined.TotalCalls != 0 || b.CRM.SuccessfulBookings != 0 {
		t.Fatalf("additional agent must not be credited: %+v", b)
	}

	// Stored rows never include a combined source.
	entries, _ := f.repo.ListPeriod(ctx, "loc-1", p)
	for _, e := range entries {
		if e.Source == SourceCombined {
			t.Fatal("combined entries must not be stored")
		}
	}
}

func TestSyncVoiceAI_AgentFailureIsReported(t *testing.T) {
	f := newFixture(t, Deps{Conversations: stubConversations{err: errors.New("vendor down")}})
	out, err := f.svc.SyncVoiceAI(context.Background(), "loc-1", PeriodOf(f.now))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, a := range out.Agents {
		if a.Synced || a.Error != "vendor down" {
			t.Fatalf("expected per-agent failure, got %+v", a)
		}
	}
}

func TestDashboardAndActivity(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	w := calls.NewWriter(f.calls)
	recent := f.now.Add(-time.Hour)
	old := f.now.AddDate(0, 0, -10)
	for sid, at := range map[string]time.Time{"CA1": recent, "CA2": recent, "CA3": old} {
		if _, _, err := w.RecordStart(ctx, calls.StartRecord{TenantID: "loc-1", CallSid: sid, Status: calls.StatusFollowUp, StartTime: at}); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	d, err := f.svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Clients.Active != 1 || d.Calls.Total != 3 || d.Calls.Recent != 2 || d.Calls.ByStatus[calls.StatusFollowUp] != 3 {
		t.Fatalf("unexpected dashboard: %+v", d)
	}

	act, err := f.svc.Activity(ctx, 7, 1)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(act) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(act))
	}
}
