package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Carrier is the call-control surface the rest of the service uses. The
// Twilio REST client is the only implementation; tests use fakes.
type Carrier interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (Call, error)
	UpdateCallTwiML(ctx context.Context, callSid, twiml string) (Call, error)
	FetchCall(ctx context.Context, callSid string) (Call, error)
	SendSMS(ctx context.Context, req SMSRequest) (Message, error)
}

// CreateCallRequest places an outbound call. Exactly one of URL or TwiML is set.
type CreateCallRequest struct {
	To    string
	From  string
	URL   string
	TwiML string

	StatusCallback       string
	StatusCallbackEvents []string
	StatusCallbackMethod string
}

type Call struct {
	Sid       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration,omitempty"`
}

type SMSRequest struct {
	To   string
	From string
	Body string
}

type Message struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
}

// Carrier error codes with dedicated API messages.
const (
	CodeInvalidTo   = 21211
	CodeInvalidFrom = 21214
)

// APIError is an error document returned by the carrier REST API.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// ErrorCode returns the carrier error code carried by err, or 0.
func ErrorCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
