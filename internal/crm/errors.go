package crm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoIntegration      = errors.New("tenant has no crm integration")
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	ErrNoCalendar         = errors.New("tenant has no calendar configured")
	ErrContactNotFound    = errors.New("contact not found")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// UpstreamError is a non-2xx answer from the CRM API.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("crm %s: status %d, body: %s", e.Op, e.Status, e.Body)
}

// Failure is how a booking error is presented to API callers.
type Failure struct {
	Status  int
	Message string
	Details string
}

// ClassifyBookingError maps a booking error to an HTTP status and message.
func ClassifyBookingError(err error) Failure {
	var up *UpstreamError
	if !errors.As(err, &up) {
		if errors.Is(err, ErrTokenRefreshFailed) || errors.Is(err, ErrNoIntegration) {
			return Failure{
				Status:  http.StatusUnauthorized,
				Message: "GHL authentication failed",
				Details: "The GHL integration may need to be re-authorized",
			}
		}
		return Failure{Status: http.StatusInternalServerError, Message: "Failed to book appointment", Details: err.Error()}
	}

	body := strings.ToLower(up.Body)
	switch {
	case up.Status == http.StatusUnauthorized || up.Status == http.StatusForbidden:
		return Failure{
			Status:  up.Status,
			Message: "GHL authentication failed",
			Details: "The GHL integration may need to be re-authorized",
		}
	case strings.Contains(body, "already booked"),
		strings.Contains(body, "unavailable"),
		strings.Contains(body, "not available"):
		return Failure{Status: http.StatusConflict, Message: "Time slot is no longer available", Details: up.Body}
	case strings.Contains(body, "invalid calendar"), strings.Contains(body, "not found"):
		return Failure{Status: http.StatusNotFound, Message: "Calendar not found or invalid", Details: up.Body}
	}
	status := up.Status
	if status < 400 {
		status = http.StatusBadGateway
	}
	return Failure{Status: status, Message: "Failed to book appointment in GoHighLevel", Details: up.Body}
}
