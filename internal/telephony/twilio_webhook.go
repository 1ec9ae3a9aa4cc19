package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// InboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default; the webhook may
// also be configured as GET, so query values are accepted too.
type InboundForm struct {
	CallSid     string
	AccountSid  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	CallerName  string
	FromCity    string
	FromState   string
	FromCountry string
}

func ParseInboundCall(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	return InboundForm{
		CallSid:     r.FormValue("CallSid"),
		AccountSid:  r.FormValue("AccountSid"),
		From:        normalizePhone(r.FormValue("From")),
		To:          normalizePhone(r.FormValue("To")),
		Direction:   r.FormValue("Direction"),
		CallStatus:  r.FormValue("CallStatus"),
		CallerName:  r.FormValue("CallerName"),
		FromCity:    r.FormValue("FromCity"),
		FromState:   r.FormValue("FromState"),
		FromCountry: r.FormValue("FromCountry"),
	}, nil
}

// StatusCallback is the carrier's call progress notification. RequestID and
// TenantID come from the callback URL's query string.
type StatusCallback struct {
	CallSid        string
	CallStatus     string
	CallDuration   string
	RequestID      string
	TenantID       string
	AdminInitiated bool
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	q := r.URL.Query()
	admin, _ := strconv.ParseBool(q.Get("admin_initiated"))
	requestID := q.Get("requestId")
	if requestID == "" {
		requestID = "unknown"
	}
	return StatusCallback{
		CallSid:        r.FormValue("CallSid"),
		CallStatus:     r.FormValue("CallStatus"),
		CallDuration:   r.FormValue("CallDuration"),
		RequestID:      requestID,
		TenantID:       q.Get("clientId"),
		AdminInitiated: admin,
	}, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
