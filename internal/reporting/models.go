package reporting

import (
	"fmt"
	"time"
)

// Source identifies where a metrics entry's numbers came from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceVoiceAI  Source = "elevenlabs"
	SourceCRM      Source = "ghl"
	// SourceCombined is derived at read time and never stored.
	SourceCombined Source = "combined"
)

// Period is a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: period must be YYYY-MM", ErrInvalidRequest)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

// Range is [start of month, start of next month).
func (p Period) Range() (time.Time, time.Time) {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Metrics are the counters kept per agent, period and source.
type Metrics struct {
	InboundCalls          int       `json:"inboundCalls"`
	OutboundCalls         int       `json:"outboundCalls"`
	TotalCalls            int       `json:"totalCalls"`
	SuccessfulBookings    int       `json:"successfulBookings"`
	TotalDuration         int       `json:"totalDuration"`
	AverageDuration       int       `json:"averageDuration"`
	CallsFromVoiceAI      int       `json:"callsFromElevenlabs"`
	VoiceAISuccessRate    int       `json:"elevenlabsSuccessRate"`
	TotalAppointments     int       `json:"totalAppointments,omitempty"`
	CancelledAppointments int       `json:"cancelledAppointments,omitempty"`
	NoShowAppointments    int       `json:"noShowAppointments,omitempty"`
	CompletedAppointments int       `json:"completedAppointments,omitempty"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

func (m *Metrics) recomputeAverage() {
	m.AverageDuration = roundDiv(m.TotalDuration, m.TotalCalls)
}

// Key addresses one metrics entry.
type Key struct {
	TenantID string
	AgentID  string
	Period   Period
	Source   Source
}

// Entry is one stored metrics row.
type Entry struct {
	TenantID string  `json:"clientId"`
	AgentID  string  `json:"agentId"`
	Period   string  `json:"period"`
	Source   Source  `json:"source"`
	Metrics  Metrics `json:"metrics"`
}

// Increment is one finished call to be counted.
type Increment struct {
	TenantID  string
	AgentID   string
	Direction string
	Duration  int
	Booked    bool
	At        time.Time
}

// AgentMetrics is a tenant agent with its numbers for one period.
type AgentMetrics struct {
	AgentID           string  `json:"agentId"`
	AgentName         string  `json:"agentName"`
	TwilioPhoneNumber string  `json:"twilioPhoneNumber"`
	IsPrimary         bool    `json:"isPrimary"`
	Metrics           Metrics `json:"metrics"`
}

// Comparison is the change between two periods for one agent.
type Comparison struct {
	AgentID      string         `json:"agentId"`
	StartPeriod  string         `json:"startPeriod"`
	EndPeriod    string         `json:"endPeriod"`
	StartMetrics Metrics        `json:"startMetrics"`
	EndMetrics   Metrics        `json:"endMetrics"`
	Changes      map[string]int `json:"changes"`
}

// Sources holds one agent's numbers side by side.
type Sources struct {
	Internal Metrics `json:"internal"`
	VoiceAI  Metrics `json:"elevenlabs"`
	CRM      Metrics `json:"ghl"`
	Combined Metrics `json:"combined"`
}

type CombinedView struct {
	AgentID string  `json:"agentId"`
	Period  string  `json:"period"`
	Sources Sources `json:"sources"`
}

// PercentChange is the rounded percentage change from start to end; 100 when
// start is zero and end is not.
func PercentChange(start, end int) int {
	if start == 0 {
		if end > 0 {
			return 100
		}
		return 0
	}
	return roundDiv((end-start)*100, start)
}

// roundDiv divides and rounds half away from zero.
func roundDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	if (a < 0) != (b < 0) {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}
