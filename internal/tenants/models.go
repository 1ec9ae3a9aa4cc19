package tenants

import "time"

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "Active"
	StatusInactive  Status = "Inactive"
	StatusSuspended Status = "Suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	default:
		return false
	}
}

// AgentType restricts which call directions an agent serves.
type AgentType string

const (
	AgentTypeInbound  AgentType = "inbound"
	AgentTypeOutbound AgentType = "outbound"
	AgentTypeBoth     AgentType = "both"
)

const (
	DefaultMeetingTitle    = "Consultation"
	DefaultMeetingLocation = "Google Meet"
	primaryAgentName       = "Primary Agent"
)

// ClientMeta is contact information about the business behind a tenant.
type ClientMeta struct {
	FullName     string `json:"fullName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	BusinessName string `json:"businessName,omitempty"`
	City         string `json:"city,omitempty"`
	JobTitle     string `json:"jobTitle,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Agent is one voice-AI agent bound to one carrier number.
type Agent struct {
	AgentID           string    `json:"agentId"`
	TwilioPhoneNumber string    `json:"twilioPhoneNumber"`
	AgentName         string    `json:"agentName"`
	AgentType         AgentType `json:"agentType"`
	MeetingTitle      string    `json:"meetingTitle"`
	MeetingLocation   string    `json:"meetingLocation"`
	IsEnabled         bool      `json:"isEnabled"`
	InboundEnabled    bool      `json:"inboundEnabled"`
	OutboundEnabled   bool      `json:"outboundEnabled"`
	IsPrimary         bool      `json:"isPrimary,omitempty"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
}

// Tenant is a business customer of the relay.
//
// The primary agent lives in the top-level AgentID/TwilioPhoneNumber fields;
// further agents live in AdditionalAgents. Agent ids and phone numbers are
// unique across both.
type Tenant struct {
	ClientID string `json:"clientId"`
	CalID    string `json:"calId"`

	ClientToken  string `json:"clientToken,omitempty"`
	ClientSecret string `json:"-"`

	// CRM OAuth material. Never serialized.
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`

	AgentID           string `json:"agentId"`
	TwilioPhoneNumber string `json:"twilioPhoneNumber"`
	MeetingTitle      string `json:"meetingTitle"`
	MeetingLocation   string `json:"meetingLocation"`

	AdditionalAgents []Agent `json:"additionalAgents"`

	Status     Status     `json:"status"`
	ClientMeta ClientMeta `json:"clientMeta"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCRMIntegration reports whether a refresh token is on file.
func (t Tenant) HasCRMIntegration() bool { return t.RefreshToken != "" }

// IsActive reports whether the tenant may place or receive calls.
func (t Tenant) IsActive() bool { return t.Status == StatusActive }

// FirstName returns the first word of the contact's full name.
func (m ClientMeta) FirstName() string {
	for i, r := range m.FullName {
		if r == ' ' {
			return m.FullName[:i]
		}
	}
	return m.FullName
}

// Filter narrows tenant listings.
type Filter struct {
	Status Status
	// Search matches fullName, email or businessName, case-insensitively.
	Search string
	Limit  int
	Offset int
}

// StatusCounts is the number of tenants per status.
type StatusCounts struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Total    int `json:"total"`
}
