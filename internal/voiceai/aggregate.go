package voiceai

import "strings"

// Summary aggregates a conversation listing.
type Summary struct {
	TotalCalls      int `json:"totalCalls"`
	InboundCalls    int `json:"inboundCalls"`
	OutboundCalls   int `json:"outboundCalls"`
	TotalDuration   int `json:"totalDuration"`
	AverageDuration int `json:"averageDuration"`
	SuccessfulCalls int `json:"successfulCalls"`
	FailedCalls     int `json:"failedCalls"`
}

// SuccessRate is the share of successful calls in percent.
func (s Summary) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessfulCalls) / float64(s.TotalCalls) * 100
}

// Aggregate counts conversations. Without a direction a conversation counts
// as outbound.
func Aggregate(convs []Conversation) Summary {
	var s Summary
	for _, c := range convs {
		s.TotalCalls++
		if strings.HasPrefix(strings.ToLower(c.Direction), "in") {
			s.InboundCalls++
		} else {
			s.OutboundCalls++
		}
		if c.CallDurationSecs > 0 {
			s.TotalDuration += c.CallDurationSecs
		}
		if successful(c) {
			s.SuccessfulCalls++
		} else {
			s.FailedCalls++
		}
	}
	if s.TotalCalls > 0 {
		s.AverageDuration = (s.TotalDuration + s.TotalCalls/2) / s.TotalCalls
	}
	return s
}

func successful(c Conversation) bool {
	switch strings.ToLower(c.CallSuccessful) {
	case "success":
		return true
	case "failure":
		return false
	}
	switch strings.ToLower(c.Status) {
	case "done", "completed", "ended", "finished":
		return true
	case "failed", "error", "cancelled", "timeout":
		return false
	}
	return c.MessageCount > 0 || c.CallDurationSecs > 10
}
