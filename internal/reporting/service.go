package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-relay/internal/calls"
	"voice-relay/internal/tenants"
)

// TenantDirectory is the part of the tenant service reporting reads.
type TenantDirectory interface {
	Get(ctx context.Context, clientID string) (tenants.Tenant, error)
	Counts(ctx context.Context) (tenants.StatusCounts, error)
}

// CallHistory is the part of the call-history repository reporting reads.
type CallHistory interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Entry, int, error)
	Stats(ctx context.Context, tenantID string, recentSince time.Time) (calls.Stats, error)
}

type Service struct {
	repo    Repository
	tenants TenantDirectory
	calls   CallHistory

	conversations ConversationSource
	appointments  AppointmentSource

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Deps struct {
	Tenants       TenantDirectory
	Calls         CallHistory
	Conversations ConversationSource
	Appointments  AppointmentSource
}

func NewService(repo Repository, d Deps) *Service {
	return &Service{
		repo:          repo,
		tenants:       d.Tenants,
		calls:         d.Calls,
		conversations: d.Conversations,
		appointments:  d.Appointments,
		clock:         time.Now,
	}
}

// IncrementCall counts one finished call against the agent's internal
// entry for the month the call happened in.
func (s *Service) IncrementCall(ctx context.Context, inc Increment) (Entry, error) {
	if inc.TenantID == "" || inc.AgentID == "" {
		return Entry{}, ErrInvalidRequest
	}
	at := inc.At
	if at.IsZero() {
		at = s.clock()
	}
	k := Key{TenantID: inc.TenantID, AgentID: inc.AgentID, Period: PeriodOf(at), Source: SourceInternal}
	return s.repo.Apply(ctx, k, s.clock().UTC(), func(m *Metrics) {
		m.TotalCalls++
		switch inc.Direction {
		case string(calls.DirectionInbound):
			m.InboundCalls++
		case string(calls.DirectionOutbound):
			m.OutboundCalls++
		}
		if inc.Booked {
			m.SuccessfulBookings++
		}
		if inc.Duration > 0 {
			m.TotalDuration += inc.Duration
		}
		m.recomputeAverage()
	})
}

// IncrementBooking counts an appointment that no relayed call will report,
// so only SuccessfulBookings moves.
func (s *Service) IncrementBooking(ctx context.Context, tenantID, agentID string, at time.Time) (Entry, error) {
	if tenantID == "" || agentID == "" {
		return Entry{}, ErrInvalidRequest
	}
	if at.IsZero() {
		at = s.clock()
	}
	k := Key{TenantID: tenantID, AgentID: agentID, Period: PeriodOf(at), Source: SourceInternal}
	return s.repo.Apply(ctx, k, s.clock().UTC(), func(m *Metrics) {
		m.SuccessfulBookings++
	})
}

// Get returns the agent's internal metrics; zero values when none exist yet.
func (s *Service) Get(ctx context.Context, tenantID, agentID string, p Period) (Metrics, error) {
	return s.metrics(ctx, Key{TenantID: tenantID, AgentID: agentID, Period: p, Source: SourceInternal})
}

func (s *Service) metrics(ctx context.Context, k Key) (Metrics, error) {
	e, err := s.repo.Get(ctx, k)
	if errors.Is(err, ErrNotFound) {
		return Metrics{}, nil
	}
	if err != nil {
		return Metrics{}, err
	}
	return e.Metrics, nil
}

// ListForTenant lists every agent of the tenant with its internal metrics for
// the period. Agents without data get zero metrics.
func (s *Service) ListForTenant(ctx context.Context, tenantID string, p Period) ([]AgentMetrics, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListPeriod(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	internal := map[string]Metrics{}
	for _, e := range entries {
		if e.Source == SourceInternal {
			internal[e.AgentID] = e.Metrics
		}
	}

	out := make([]AgentMetrics, 0)
	for _, a := range t.AllAgents() {
		out = append(out, AgentMetrics{
			AgentID:           a.AgentID,
			AgentName:         a.AgentName,
			TwilioPhoneNumber: a.TwilioPhoneNumber,
			IsPrimary:         a.IsPrimary,
			Metrics:           internal[a.AgentID],
		})
	}
	return out, nil
}

// Compare reports the percentage change of the agent's internal metrics
// between two periods.
func (s *Service) Compare(ctx context.Context, tenantID, agentID string, start, end Period) (Comparison, error) {
	if tenantID == "" || agentID == "" {
		return Comparison{}, ErrInvalidRequest
	}
	a, err := s.Get(ctx, tenantID, agentID, start)
	if err != nil {
		return Comparison{}, err
	}
	b, err := s.Get(ctx, tenantID, agentID, end)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		AgentID:      agentID,
		StartPeriod:  start.String(),
		EndPeriod:    end.String(),
		StartMetrics: a,
		EndMetrics:   b,
		Changes: map[string]int{
			"inboundCalls":          PercentChange(a.InboundCalls, b.InboundCalls),
			"outboundCalls":         PercentChange(a.OutboundCalls, b.OutboundCalls),
			"totalCalls":            PercentChange(a.TotalCalls, b.TotalCalls),
			"successfulBookings":    PercentChange(a.SuccessfulBookings, b.SuccessfulBookings),
			"averageDuration":       PercentChange(a.AverageDuration, b.AverageDuration),
			"elevenlabsSuccessRate": PercentChange(a.VoiceAISuccessRate, b.VoiceAISuccessRate),
		},
	}, nil
}

// Recalculate rebuilds the agent's internal entry for the period from call
// history, replacing whatever was accumulated.
func (s *Service) Recalculate(ctx context.Context, tenantID, agentID string, p Period) (Metrics, error) {
	if tenantID == "" || agentID == "" {
		return Metrics{}, ErrInvalidRequest
	}
	from, to := p.Range()
	rows, _, err := s.calls.List(ctx, calls.ListFilter{TenantID: tenantID, AgentID: agentID, Since: from, Until: to})
	if err != nil {
		return Metrics{}, fmt.Errorf("list call history: %w", err)
	}

	var m Metrics
	for _, e := range rows {
		m.TotalCalls++
		switch e.CallData.Direction {
		case calls.DirectionInbound:
			m.InboundCalls++
		case calls.DirectionOutbound:
			m.OutboundCalls++
		}
		if e.CallData.IsBookingSuccessful {
			m.SuccessfulBookings++
		}
		m.TotalDuration += e.CallData.Duration
		if e.CallData.ConversationID != "" {
			m.CallsFromVoiceAI++
		}
	}
	m.recomputeAverage()
	if m.CallsFromVoiceAI > 0 {
		m.VoiceAISuccessRate = roundDiv(m.SuccessfulBookings*100, m.TotalCalls)
	}

	k := Key{TenantID: tenantID, AgentID: agentID, Period: p, Source: SourceInternal}
	e, err := s.repo.Apply(ctx, k, s.clock().UTC(), func(cur *Metrics) { *cur = m })
	if err != nil {
		return Metrics{}, err
	}
	return e.Metrics, nil
}

// Combined derives, per agent, the sum of the internal, voice-AI and CRM
// views. Calls and duration come from internal plus voice-AI; bookings from
// internal plus CRM.
func (s *Service) Combined(ctx context.Context, tenantID string, p Period) (map[string]CombinedView, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListPeriod(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	bySource := map[string]map[Source]Metrics{}
	for _, e := range entries {
		if bySource[e.AgentID] == nil {
			bySource[e.AgentID] = map[Source]Metrics{}
		}
		bySource[e.AgentID][e.Source] = e.Metrics
	}

	out := map[string]CombinedView{}
	for _, a := range t.AllAgents() {
		src := bySource[a.AgentID]
		v := Sources{
			Internal: src[SourceInternal],
			VoiceAI:  src[SourceVoiceAI],
			CRM:      src[SourceCRM],
		}
		v.Combined = combine(v)
		out[a.AgentID] = CombinedView{AgentID: a.AgentID, Period: p.String(), Sources: v}
	}
	return out, nil
}

func combine(v Sources) Metrics {
	c := Metrics{
		InboundCalls:          v.Internal.InboundCalls + v.VoiceAI.InboundCalls,
		OutboundCalls:         v.Internal.OutboundCalls + v.VoiceAI.OutboundCalls,
		TotalCalls:            v.Internal.TotalCalls + v.VoiceAI.TotalCalls,
		TotalDuration:         v.Internal.TotalDuration + v.VoiceAI.TotalDuration,
		SuccessfulBookings:    v.Internal.SuccessfulBookings + v.CRM.SuccessfulBookings,
		CallsFromVoiceAI:      v.VoiceAI.CallsFromVoiceAI,
		VoiceAISuccessRate:    v.VoiceAI.VoiceAISuccessRate,
		TotalAppointments:     v.CRM.TotalAppointments,
		CancelledAppointments: v.CRM.CancelledAppointments,
		NoShowAppointments:    v.CRM.NoShowAppointments,
		CompletedAppointments: v.CRM.CompletedAppointments,
	}
	c.recomputeAverage()
	for _, m := range []Metrics{v.Internal, v.VoiceAI, v.CRM} {
		if m.LastUpdated.After(c.LastUpdated) {
			c.LastUpdated = m.LastUpdated
		}
	}
	return c
}

// Dashboard aggregates tenant and call counts across the platform.
type Dashboard struct {
	Clients tenants.StatusCounts `json:"clients"`
	Calls   calls.Stats          `json:"calls"`
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	counts, err := s.tenants.Counts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	stats, err := s.calls.Stats(ctx, "", s.clock().UTC().Add(-24*time.Hour))
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Clients: counts, Calls: stats}, nil
}

// Activity lists the most recent calls across tenants started within days.
func (s *Service) Activity(ctx context.Context, days, limit int) ([]calls.Entry, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	since := s.clock().UTC().AddDate(0, 0, -days)
	rows, _, err := s.calls.List(ctx, calls.ListFilter{Since: since, Limit: limit})
	return rows, err
}

func normalizeStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
}
