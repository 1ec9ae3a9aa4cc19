package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"voice-relay/internal/crm"
	"voice-relay/internal/tenants"
	"voice-relay/internal/voiceai"
	"voice-relay/pkg/logger"
)

// ConversationSource lists an agent's voice-AI conversations for a month.
type ConversationSource interface {
	MonthConversations(ctx context.Context, agentID string, year int, month time.Month) ([]voiceai.Conversation, error)
}

// AppointmentSource lists a tenant's CRM appointments for a month.
type AppointmentSource interface {
	MonthAppointments(ctx context.Context, t tenants.Tenant, year int, month time.Month) []crm.Appointment
}

var ErrSourceUnavailable = errors.New("reporting: source not configured")

type AgentSync struct {
	AgentID string   `json:"agentId"`
	Synced  bool     `json:"synced"`
	Error   string   `json:"error,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

type VoiceAISync struct {
	ClientID string      `json:"clientId"`
	Period   string      `json:"period"`
	Agents   []AgentSync `json:"agents"`
}

// SyncVoiceAI pulls each agent's conversations for the period and stores
// them as the agent's voice-AI entry. One agent failing does not stop the rest.
func (s *Service) SyncVoiceAI(ctx context.Context, tenantID string, p Period) (VoiceAISync, error) {
	if s.conversations == nil {
		return VoiceAISync{}, ErrSourceUnavailable
	}
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return VoiceAISync{}, err
	}
	log := logger.From(ctx).With("client_id", tenantID, "period", p.String())

	out := VoiceAISync{ClientID: tenantID, Period: p.String(), Agents: make([]AgentSync, 0)}
	for _, a := range t.AllAgents() {
		convs, err := s.conversations.MonthConversations(ctx, a.AgentID, p.Year, p.Month)
		if err != nil {
			log.Warn("voice-ai sync failed for agent", "agent_id", a.AgentID, "err", err)
			out.Agents = append(out.Agents, AgentSync{AgentID: a.AgentID, Error: err.Error()})
			continue
		}
		sum := voiceai.Aggregate(convs)
		k := Key{TenantID: tenantID, AgentID: a.AgentID, Period: p, Source: SourceVoiceAI}
		e, err := s.repo.Apply(ctx, k, s.clock().UTC(), func(m *Metrics) {
			m.InboundCalls = sum.InboundCalls
			m.OutboundCalls = sum.OutboundCalls
			m.TotalCalls = sum.TotalCalls
			m.TotalDuration = sum.TotalDuration
			m.AverageDuration = sum.AverageDuration
			m.CallsFromVoiceAI = sum.TotalCalls
			m.VoiceAISuccessRate = int(math.Round(sum.SuccessRate()))
		})
		if err != nil {
			return VoiceAISync{}, err
		}
		out.Agents = append(out.Agents, AgentSync{AgentID: a.AgentID, Synced: true, Metrics: &e.Metrics})
	}
	log.Info("voice-ai metrics synced", "agents", len(out.Agents))
	return out, nil
}

type AppointmentSync struct {
	ClientID               string `json:"clientId"`
	Period                 string `json:"period"`
	TotalAppointments      int    `json:"totalAppointments"`
	SuccessfulAppointments int    `json:"successfulAppointments"`
	CreditedAgentID        string `json:"creditedAgentId,omitempty"`
}

// SyncAppointments counts the tenant's CRM appointments for the period.
// The CRM does not say which agent booked an appointment, so the whole count
// is credited to the primary agent.
func (s *Service) SyncAppointments(ctx context.Context, tenantID string, p Period) (AppointmentSync, error) {
	if s.appointments == nil {
		return AppointmentSync{}, ErrSourceUnavailable
	}
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return AppointmentSync{}, err
	}
	if !t.HasCRMIntegration() {
		return AppointmentSync{}, crm.ErrNoIntegration
	}
	if t.CalID == "" {
		return AppointmentSync{}, crm.ErrNoCalendar
	}

	var tally Metrics
	for _, a := range s.appointments.MonthAppointments(ctx, t, p.Year, p.Month) {
		tally.TotalAppointments++
		switch normalizeStatus(a.EffectiveStatus()) {
		case "confirmed", "booked":
			tally.SuccessfulBookings++
		case "showed", "completed":
			tally.SuccessfulBookings++
			tally.CompletedAppointments++
		case "cancelled", "canceled":
			tally.CancelledAppointments++
		case "noshow":
			tally.NoShowAppointments++
		}
	}

	out := AppointmentSync{
		ClientID:               tenantID,
		Period:                 p.String(),
		TotalAppointments:      tally.TotalAppointments,
		SuccessfulAppointments: tally.SuccessfulBookings,
	}
	primary := t.PrimaryAgent()
	if primary.AgentID == "" {
		return out, nil
	}
	k := Key{TenantID: tenantID, AgentID: primary.AgentID, Period: p, Source: SourceCRM}
	if _, err := s.repo.Apply(ctx, k, s.clock().UTC(), func(m *Metrics) {
		m.TotalAppointments = tally.TotalAppointments
		m.SuccessfulBookings = tally.SuccessfulBookings
		m.CompletedAppointments = tally.CompletedAppointments
		m.CancelledAppointments = tally.CancelledAppointments
		m.NoShowAppointments = tally.NoShowAppointments
	}); err != nil {
		return AppointmentSync{}, err
	}
	out.CreditedAgentID = primary.AgentID
	return out, nil
}
