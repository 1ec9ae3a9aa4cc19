package audit

import "time"

// Event is an immutable, append-only record of an operator action.
//
// Events are never updated or deleted. Actor and IP capture are best-effort;
// critical flows never block on audit failures.
type Event struct {
	ID string `json:"id"`

	// TenantID is empty for actions that are not tenant scoped.
	TenantID string    `json:"clientId,omitempty"`
	Type     EventType `json:"type"`

	ActorID   string `json:"actorId"`
	ActorRole string `json:"actorRole,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`

	// Target identifiers, depending on the event type.
	CallSid string `json:"callSid,omitempty"`
	AgentID string `json:"agentId,omitempty"`

	Message  string `json:"message,omitempty"`
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type EventType string

const (
	EventTypeAdminAction  EventType = "admin_action"
	EventTypeSecretReset  EventType = "secret_reset"
	EventTypeOutboundCall EventType = "outbound_call"
	EventTypeTransfer     EventType = "call_transfer"
	EventTypeTokenIssued  EventType = "token_issued"
)

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	TenantID string
	Type     EventType
	Limit    int
}
