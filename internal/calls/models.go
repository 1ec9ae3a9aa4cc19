package calls

import "time"

// Direction of a call relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Call statuses written by the relay. The carrier status callback may also
// write raw carrier statuses (ringing, completed, busy, ...).
const (
	StatusBookedAppointment = "booked_appointment"
	StatusFollowUp          = "follow_up"
	StatusHangUp            = "hang_up"
	StatusDNC               = "dnc"
	StatusNoCallMatch       = "no_call_match"
	StatusInitiated         = "initiated"
	StatusCompleted         = "completed"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Data is the call-level record.
type Data struct {
	CallSid             string     `json:"callSid"`
	RequestID           string     `json:"requestId,omitempty"`
	Phone               string     `json:"phone"`
	From                string     `json:"from"`
	AgentID             string     `json:"agentId,omitempty"`
	Direction           Direction  `json:"direction"`
	StartTime           time.Time  `json:"startTime"`
	EndTime             *time.Time `json:"endTime,omitempty"`
	Duration            int        `json:"duration"`
	Status              string     `json:"status"`
	IsBookingSuccessful bool       `json:"isBookingSuccessful"`
	ConversationID      string     `json:"conversationId,omitempty"`
	AdminInitiated      bool       `json:"adminInitiated,omitempty"`
}

// Details is the post-call summary.
type Details struct {
	CallOutcome    string    `json:"callOutcome,omitempty"`
	CallSummary    string    `json:"callSummary,omitempty"`
	CallTranscript string    `json:"callTranscript,omitempty"`
	CallSentiment  Sentiment `json:"callSentiment,omitempty"`
	NextAction     string    `json:"nextAction,omitempty"`
	TranscriptURL  string    `json:"transcriptUrl,omitempty"`
}

// Entry is one call-history row. (TenantID, CallSid) is unique.
type Entry struct {
	CallID    string    `json:"callId"`
	TenantID  string    `json:"clientId"`
	CallData  Data      `json:"callData"`
	Details   Details   `json:"callDetails"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Correlation maps a carrier call id to its owning tenant.
// It is written in the same transaction as the history entry.
type Correlation struct {
	CallSid   string    `json:"callSid"`
	TenantID  string    `json:"clientId"`
	AgentID   string    `json:"agentId"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
}

// Patch is a partial update of an entry. Nil fields are left unchanged.
type Patch struct {
	Status              *string
	EndTime             *time.Time
	Duration            *int
	ConversationID      *string
	IsBookingSuccessful *bool

	CallOutcome    *string
	CallSummary    *string
	CallTranscript *string
	CallSentiment  *Sentiment
	NextAction     *string
	TranscriptURL  *string
}

// ListFilter narrows history listings. An empty TenantID spans all tenants.
type ListFilter struct {
	TenantID string
	AgentID  string
	Status   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Stats summarizes call history for dashboards.
type Stats struct {
	Total     int            `json:"total"`
	Recent    int            `json:"recent"`
	ByOutcome map[string]int `json:"byOutcome"`
	ByStatus  map[string]int `json:"byStatus"`
}

func ptr[T any](v T) *T { return &v }
