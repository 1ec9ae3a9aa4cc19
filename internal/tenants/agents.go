package tenants

import (
	"errors"
	"strings"
	"time"
)

// ConflictError describes an agent id or phone number collision.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError describes a rejected input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

func invalid(reason string) error { return &ValidationError{Reason: reason} }

var (
	ErrPrimaryAgent  = errors.New("primary agent cannot be changed through agent routes")
	ErrAgentNotFound = errors.New("additional agent not found")
)

// PrimaryAgent describes the top-level agent fields as an Agent.
func (t Tenant) PrimaryAgent() Agent {
	return Agent{
		AgentID:           t.AgentID,
		TwilioPhoneNumber: t.TwilioPhoneNumber,
		AgentName:         primaryAgentName,
		AgentType:         AgentTypeBoth,
		MeetingTitle:      orDefault(t.MeetingTitle, DefaultMeetingTitle),
		MeetingLocation:   orDefault(t.MeetingLocation, DefaultMeetingLocation),
		IsEnabled:         t.IsActive(),
		InboundEnabled:    true,
		OutboundEnabled:   true,
		IsPrimary:         true,
		CreatedAt:         t.CreatedAt,
	}
}

// AllAgents lists the primary agent first, then additional agents in insertion order.
func (t Tenant) AllAgents() []Agent {
	out := make([]Agent, 0, 1+len(t.AdditionalAgents))
	out = append(out, t.PrimaryAgent())
	out = append(out, t.AdditionalAgents...)
	return out
}

func (t Tenant) FindAgentByPhone(phone string) (Agent, bool) {
	if phone == "" {
		return Agent{}, false
	}
	for _, a := range t.AllAgents() {
		if a.TwilioPhoneNumber == phone {
			return a, true
		}
	}
	return Agent{}, false
}

func (t Tenant) FindAgentByID(agentID string) (Agent, bool) {
	if agentID == "" {
		return Agent{}, false
	}
	for _, a := range t.AllAgents() {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return Agent{}, false
}

// NewAgent applies defaults to an agent being added.
// Boolean toggles are pointers so that an explicit false survives.
type NewAgent struct {
	AgentID           string    `json:"agentId"`
	TwilioPhoneNumber string    `json:"twilioPhoneNumber"`
	AgentName         string    `json:"agentName"`
	AgentType         AgentType `json:"agentType"`
	MeetingTitle      string    `json:"meetingTitle"`
	MeetingLocation   string    `json:"meetingLocation"`
	InboundEnabled    *bool     `json:"inboundEnabled"`
	OutboundEnabled   *bool     `json:"outboundEnabled"`
}

func (n NewAgent) build(now time.Time) Agent {
	a := Agent{
		AgentID:           strings.TrimSpace(n.AgentID),
		TwilioPhoneNumber: strings.TrimSpace(n.TwilioPhoneNumber),
		AgentName:         n.AgentName,
		AgentType:         n.AgentType,
		MeetingTitle:      orDefault(n.MeetingTitle, DefaultMeetingTitle),
		MeetingLocation:   orDefault(n.MeetingLocation, DefaultMeetingLocation),
		IsEnabled:         true,
		InboundEnabled:    boolOr(n.InboundEnabled, true),
		OutboundEnabled:   boolOr(n.OutboundEnabled, true),
		CreatedAt:         now,
	}
	if a.AgentName == "" {
		a.AgentName = "Agent " + a.AgentID
	}
	if a.AgentType == "" {
		a.AgentType = AgentTypeBoth
	}
	return a
}

// AgentPatch updates an additional agent. Nil fields are left unchanged.
type AgentPatch struct {
	TwilioPhoneNumber *string    `json:"twilioPhoneNumber"`
	AgentName         *string    `json:"agentName"`
	AgentType         *AgentType `json:"agentType"`
	MeetingTitle      *string    `json:"meetingTitle"`
	MeetingLocation   *string    `json:"meetingLocation"`
	IsEnabled         *bool      `json:"isEnabled"`
	InboundEnabled    *bool      `json:"inboundEnabled"`
	OutboundEnabled   *bool      `json:"outboundEnabled"`
}

// addAgent appends a to the additional agents after checking uniqueness.
// t is left untouched on conflict.
func (t *Tenant) addAgent(a Agent) error {
	if a.AgentID == "" || a.TwilioPhoneNumber == "" {
		return invalid("agentId and twilioPhoneNumber are required")
	}
	if a.AgentType != "" && !validAgentType(a.AgentType) {
		return invalid("agentType must be inbound, outbound or both")
	}
	if t.AgentID == a.AgentID {
		return &ConflictError{Reason: "Agent ID already exists as primary agent"}
	}
	for _, ex := range t.AdditionalAgents {
		if ex.AgentID == a.AgentID {
			return &ConflictError{Reason: "Agent ID already exists in additional agents"}
		}
	}
	if t.TwilioPhoneNumber == a.TwilioPhoneNumber {
		return &ConflictError{Reason: "Twilio phone number already exists as primary number"}
	}
	for _, ex := range t.AdditionalAgents {
		if ex.TwilioPhoneNumber == a.TwilioPhoneNumber {
			return &ConflictError{Reason: "Twilio phone number already exists in additional agents"}
		}
	}
	t.AdditionalAgents = append(t.AdditionalAgents, a)
	return nil
}

func (t *Tenant) updateAgent(agentID string, p AgentPatch) (Agent, error) {
	if t.AgentID == agentID {
		return Agent{}, ErrPrimaryAgent
	}
	idx := -1
	for i, a := range t.AdditionalAgents {
		if a.AgentID == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Agent{}, ErrAgentNotFound
	}

	a := t.AdditionalAgents[idx]
	if p.TwilioPhoneNumber != nil {
		phone := strings.TrimSpace(*p.TwilioPhoneNumber)
		if phone == "" {
			return Agent{}, invalid("twilioPhoneNumber cannot be empty")
		}
		if phone == t.TwilioPhoneNumber {
			return Agent{}, &ConflictError{Reason: "Twilio phone number conflicts with primary number"}
		}
		for i, ex := range t.AdditionalAgents {
			if i != idx && ex.TwilioPhoneNumber == phone {
				return Agent{}, &ConflictError{Reason: "Twilio phone number conflicts with another additional agent"}
			}
		}
		a.TwilioPhoneNumber = phone
	}
	if p.AgentType != nil {
		if !validAgentType(*p.AgentType) {
			return Agent{}, invalid("agentType must be inbound, outbound or both")
		}
		a.AgentType = *p.AgentType
	}
	if p.AgentName != nil {
		a.AgentName = *p.AgentName
	}
	if p.MeetingTitle != nil {
		a.MeetingTitle = *p.MeetingTitle
	}
	if p.MeetingLocation != nil {
		a.MeetingLocation = *p.MeetingLocation
	}
	if p.IsEnabled != nil {
		a.IsEnabled = *p.IsEnabled
	}
	if p.InboundEnabled != nil {
		a.InboundEnabled = *p.InboundEnabled
	}
	if p.OutboundEnabled != nil {
		a.OutboundEnabled = *p.OutboundEnabled
	}
	t.AdditionalAgents[idx] = a
	return a, nil
}

func (t *Tenant) removeAgent(agentID string) (Agent, error) {
	if t.AgentID == agentID {
		return Agent{}, ErrPrimaryAgent
	}
	for i, a := range t.AdditionalAgents {
		if a.AgentID == agentID {
			t.AdditionalAgents = append(t.AdditionalAgents[:i:i], t.AdditionalAgents[i+1:]...)
			return a, nil
		}
	}
	return Agent{}, ErrAgentNotFound
}

// checkAgentsUnique validates the whole agent set, used when a tenant is
// created or its primary agent is changed.
func (t Tenant) checkAgentsUnique() error {
	ids := map[string]struct{}{}
	phones := map[string]struct{}{}
	for _, a := range t.AllAgents() {
		if _, ok := ids[a.AgentID]; ok {
			return &ConflictError{Reason: "Agent ID " + a.AgentID + " is used more than once"}
		}
		ids[a.AgentID] = struct{}{}
		if _, ok := phones[a.TwilioPhoneNumber]; ok {
			return &ConflictError{Reason: "Twilio phone number " + a.TwilioPhoneNumber + " is used more than once"}
		}
		phones[a.TwilioPhoneNumber] = struct{}{}
	}
	return nil
}

func validAgentType(t AgentType) bool {
	switch t {
	case AgentTypeInbound, AgentTypeOutbound, AgentTypeBoth:
		return true
	default:
		return false
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
