package tenants

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubIssuer struct{ n int }

func (s *stubIssuer) IssueClientToken(now time.Time, clientID string) (string, error) {
	s.n++
	return "tok-" + clientID, nil
}

func newTestService(t *testing.T) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	svc := NewService(repo, &stubIssuer{})
	svc.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return svc, repo
}

func seedTenant(t *testing.T, svc *Service) Tenant {
	t.Helper()
	out, err := svc.Create(context.Background(), CreateRequest{
		ClientID:          "loc-1",
		CalID:             "cal-1",
		AgentID:           "agent-a",
		TwilioPhoneNumber: "+15550000001",
		ClientMeta: ClientMeta{
			FullName:     "Dana Reyes",
			Email:        "dana@example.com",
			Phone:        "+15559990000",
			BusinessName: "Reyes Roofing",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out
}

func TestCreate_DefaultsAndCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ten := seedTenant(t, svc)

	if ten.Status != StatusActive {
		t.Fatalf("expected Active default, got %q", ten.Status)
	}
	if ten.ClientSecret == "" || ten.ClientToken != "tok-loc-1" {
		t.Fatalf("expected generated credentials, got secret=%q token=%q", ten.ClientSecret, ten.ClientToken)
	}
	if ten.MeetingTitle != DefaultMeetingTitle || ten.MeetingLocation != DefaultMeetingLocation {
		t.Fatalf("unexpected meeting defaults: %q %q", ten.MeetingTitle, ten.MeetingLocation)
	}
}

func TestCreate_MissingFieldsAndDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Create(context.Background(), CreateRequest{ClientID: "x"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	seedTenant(t, svc)
	_, err := svc.Create(context.Background(), CreateRequest{
		ClientID: "loc-1", CalID: "c", AgentID: "a2", TwilioPhoneNumber: "+1999",
		ClientMeta: ClientMeta{FullName: "x", Email: "x", Phone: "x"},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAddAgent_UniquenessAcrossPrimaryAndAdditional(t *testing.T) {
	svc, repo := newTestService(t)
	seedTenant(t, svc)
	ctx := context.Background()

	if _, err := svc.AddAgent(ctx, "loc-1", NewAgent{AgentID: "agent-b", TwilioPhoneNumber: "+15550000002"}); err != nil {
		t.Fatalf("add agent-b: %v", err)
	}

	cases := []struct {
		name   string
		agent  NewAgent
		reason string
	}{
		{"primary id", NewAgent{AgentID: "agent-a", TwilioPhoneNumber: "+1777"}, "Agent ID already exists as primary agent"},
		{"additional id", NewAgent{AgentID: "agent-b", TwilioPhoneNumber: "+1777"}, "Agent ID already exists in additional agents"},
		{"primary phone", NewAgent{AgentID: "agent-c", TwilioPhoneNumber: "+15550000001"}, "Twilio phone number already exists as primary number"},
		{"additional phone", NewAgent{AgentID: "agent-c", TwilioPhoneNumber: "+15550000002"}, "Twilio phone number already exists in additional agents"},
	}
	for _, tc := range cases {
		_, err := svc.AddAgent(ctx, "loc-1", tc.agent)
		var ce *ConflictError
		if !errors.As(err, &ce) || ce.Reason != tc.reason {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.reason, err)
		}
	}

	stored, _ := repo.Get(ctx, "loc-1")
	if len(stored.AdditionalAgents) != 1 {
		t.Fatalf("rejected adds must not mutate, got %d agents", len(stored.AdditionalAgents))
	}
}

func TestAddAgent_Defaults(t *testing.T) {
	svc, _ := newTestService(t)
	seedTenant(t, svc)
	off := false

	a, err := svc.AddAgent(context.Background(), "loc-1", NewAgent{AgentID: "agent-b", TwilioPhoneNumber: "+1888", OutboundEnabled: &off})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.AgentName != "Agent agent-b" || a.AgentType != AgentTypeBoth || !a.IsEnabled || !a.InboundEnabled || a.OutboundEnabled {
		t.Fatalf("unexpected defaults: %+v", a)
	}
}

func TestUpdateAndRemoveAgent_PrimaryProtected(t *testing.T) {
	svc, _ := newTestService(t)
	seedTenant(t, svc)
	ctx := context.Background()

	if _, err := svc.UpdateAgent(ctx, "loc-1", "agent-a", AgentPatch{}); !errors.Is(err, ErrPrimaryAgent) {
		t.Fatalf("expected primary agent error, got %v", err)
	}
	if _, err := svc.RemoveAgent(ctx, "loc-1", "agent-a"); !errors.Is(err, ErrPrimaryAgent) {
		t.Fatalf("expected primary agent error, got %v", err)
	}
	if _, err := svc.RemoveAgent(ctx, "loc-1", "nope"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, _ = svc.AddAgent(ctx, "loc-1", NewAgent{AgentID: "agent-b", TwilioPhoneNumber: "+1888"})
	_, _ = svc.AddAgent(ctx, "loc-1", NewAgent{AgentID: "agent-c", TwilioPhoneNumber: "+1889"})

	taken := "+1889"
	if _, err := svc.UpdateAgent(ctx, "loc-1", "agent-b", AgentPatch{TwilioPhoneNumber: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	name := "Front desk"
	a, err := svc.UpdateAgent(ctx, "loc-1", "agent-b", AgentPatch{AgentName: &name})
	if err != nil || a.AgentName != name {
		t.Fatalf("expected rename, got %+v %v", a, err)
	}

	removed, err := svc.RemoveAgent(ctx, "loc-1", "agent-b")
	if err != nil || removed.AgentID != "agent-b" {
		t.Fatalf("remove: %+v %v", removed, err)
	}
	agents, _ := svc.ListAgents(ctx, "loc-1")
	if len(agents) != 2 || !agents[0].IsPrimary || agents[1].AgentID != "agent-c" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestUpdate_CannotChangeClientID(t *testing.T) {
	svc, _ := newTestService(t)
	seedTenant(t, svc)
	other := "loc-2"
	if _, err := svc.Update(context.Background(), "loc-1", UpdateRequest{ClientID: &other}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestDiscover_Priority(t *testing.T) {
	svc, _ := newTestService(t)
	seedTenant(t, svc)
	ctx := context.Background()
	_, _ = svc.AddAgent(ctx, "loc-1", NewAgent{AgentID: "agent-b", TwilioPhoneNumber: "+1888"})

	d, err := svc.Discover(ctx, DiscoverQuery{TwilioPhone: "+1888", ClientID: "missing"})
	if err != nil || d.FoundBy != "additionalTwilioPhone" || d.MatchedAgent == nil || d.MatchedAgent.AgentID != "agent-b" {
		t.Fatalf("unexpected discovery: %+v %v", d, err)
	}

	d, err = svc.Discover(ctx, DiscoverQuery{TwilioPhone: "+1000", ClientID: "loc-1"})
	if err != nil || d.FoundBy != "clientId" || d.MatchedAgent != nil {
		t.Fatalf("unexpected discovery: %+v %v", d, err)
	}

	d, err = svc.Discover(ctx, DiscoverQuery{AgentID: "agent-a"})
	if err != nil || d.FoundBy != "primaryAgentId" || d.MatchedAgent == nil || !d.MatchedAgent.IsPrimary {
		t.Fatalf("unexpected discovery: %+v %v", d, err)
	}

	d, err = svc.Discover(ctx, DiscoverQuery{CustomerPhone: "+15559990000"})
	if err != nil || d.FoundBy != "customerPhone" {
		t.Fatalf("unexpected discovery: %+v %v", d, err)
	}

	inactive := StatusInactive
	_, _ = svc.Update(ctx, "loc-1", UpdateRequest{Status: &inactive})
	if _, err := svc.Discover(ctx, DiscoverQuery{TwilioPhone: "+1888"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive tenants must not be discovered, got %v", err)
	}
}

func TestAuthenticateAndResetSecret(t *testing.T) {
	svc, _ := newTestService(t)
	ten := seedTenant(t, svc)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, "loc-1", ten.ClientSecret); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "loc-1", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	reset, err := svc.ResetSecret(ctx, "loc-1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.ClientSecret == ten.ClientSecret {
		t.Fatalf("expected rotated secret")
	}
	if _, err := svc.Authenticate(ctx, "loc-1", ten.ClientSecret); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old secret must stop working")
	}
}

func TestResolveByNumber(t *testing.T) {
	svc, _ := newTestService(t)
	seedTenant(t, svc)
	ten, agent, err := svc.ResolveByNumber(context.Background(), "+15550000001")
	if err != nil || ten.ClientID != "loc-1" || !agent.IsPrimary {
		t.Fatalf("unexpected resolution: %v %+v %v", ten.ClientID, agent, err)
	}
	if _, _, err := svc.ResolveByNumber(context.Background(), "+1000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
