package crm

import (
	"context"
	"strings"
	"time"

	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"
)

const (
	DefaultTimezone   = "America/New_York"
	defaultSlotWindow = 7 * 24 * time.Hour
	StatusNew         = "new"
	StatusConfirmed   = "confirmed"
	contactSource     = "Voice AI Call"
)

// ValidationError is a caller mistake; it matches ErrInvalidArgument.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

type SlotQuery struct {
	Start    time.Time
	End      time.Time
	Timezone string
	LookBusy bool
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Availability struct {
	DateRange    DateRange      `json:"dateRange"`
	Timezone     string         `json:"timezone"`
	Availability map[string]any `json:"availability"`
	Slots        []any          `json:"slots"`
}

// Availability fetches free slots for the tenant's calendar. The window
// defaults to the next seven days.
func (b *Broker) Availability(ctx context.Context, t tenants.Tenant, q SlotQuery) (Availability, error) {
	if t.CalID == "" {
		return Availability{}, ErrNoCalendar
	}
	if !t.HasCRMIntegration() {
		return Availability{}, ErrNoIntegration
	}
	now := b.clock()
	if q.Start.IsZero() {
		q.Start = now
	}
	if q.End.IsZero() {
		q.End = now.Add(defaultSlotWindow)
	}
	if q.Timezone == "" {
		q.Timezone = DefaultTimezone
	}

	tok, err := b.EnsureValidAccessToken(ctx, t.ClientID)
	if err != nil {
		return Availability{}, err
	}
	raw, err := b.client.FreeSlots(ctx, tok.AccessToken, t.CalID, q.Start, q.End, q.Timezone, q.LookBusy)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		DateRange:    DateRange{Start: q.Start.UTC(), End: q.End.UTC()},
		Timezone:     q.Timezone,
		Availability: raw,
		Slots:        extractSlots(raw),
	}, nil
}

func extractSlots(raw map[string]any) []any {
	dates, ok := raw["_dates_"].(map[string]any)
	if !ok {
		return []any{}
	}
	slots, ok := dates["slots"].([]any)
	if !ok {
		return []any{}
	}
	return slots
}

type BookingRequest struct {
	StartTime       string
	EndTime         string
	Phone           string
	Name            string
	MeetingTitle    string
	MeetingLocation string
	// Agent is the agent the booking is made for; nil means the primary agent.
	Agent *tenants.Agent
	// CreateMissingContact creates a contact instead of failing with
	// ErrContactNotFound.
	CreateMissingContact bool
	AppointmentStatus    string
}

type Booking struct {
	Appointment    Appointment        `json:"appointment"`
	Request        AppointmentRequest `json:"request"`
	Contact        Contact            `json:"contact"`
	ContactCreated bool               `json:"contactCreated"`
}

// Book validates the request, resolves (or creates) the contact by phone and
// books the appointment on the tenant's calendar.
func (b *Broker) Book(ctx context.Context, t tenants.Tenant, req BookingRequest) (Booking, error) {
	if t.CalID == "" {
		return Booking{}, ErrNoCalendar
	}
	if req.StartTime == "" || req.EndTime == "" {
		return Booking{}, &ValidationError{Reason: "Both startTime and endTime are required"}
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" || phone == "unknown" {
		return Booking{}, &ValidationError{Reason: "A phone number is required to find the contact"}
	}
	if !t.HasCRMIntegration() {
		return Booking{}, ErrNoIntegration
	}

	tok, err := b.EnsureValidAccessToken(ctx, t.ClientID)
	if err != nil {
		return Booking{}, err
	}

	contact, err := b.searchContact(ctx, tok, phone)
	if err != nil {
		return Booking{}, err
	}
	created := false
	if contact == nil {
		if !req.CreateMissingContact {
			return Booking{}, ErrContactNotFound
		}
		first, last := splitName(req.Name)
		contact, err = b.client.CreateContact(ctx, tok.AccessToken, NewContact{
			FirstName:  first,
			LastName:   last,
			Phone:      normalizePhone(phone),
			LocationID: t.ClientID,
			Source:     contactSource,
		})
		if err != nil {
			return Booking{}, err
		}
		created = true
	}

	status := req.AppointmentStatus
	if status == "" {
		status = StatusNew
	}
	appt := AppointmentRequest{
		CalendarID:          t.CalID,
		LocationID:          t.ClientID,
		ContactID:           contact.ID,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		Title:               bookingTitle(t, req, *contact),
		MeetingLocationType: "default",
		AppointmentStatus:   status,
		Address:             meetingLocation(t, req),
		ToNotify:            true,
	}
	res, err := b.client.BookAppointment(ctx, tok.AccessToken, appt)
	if err != nil {
		return Booking{}, err
	}
	logger.From(ctx).Info("appointment booked",
		"client_id", t.ClientID, "appointment_id", res.ID, "contact_created", created)
	return Booking{Appointment: res, Request: appt, Contact: *contact, ContactCreated: created}, nil
}

// searchContact tries the normalized number, then the national form of
// +1 numbers.
func (b *Broker) searchContact(ctx context.Context, tok Token, phone string) (*Contact, error) {
	normalized := normalizePhone(phone)
	candidates := []string{normalized}
	if strings.HasPrefix(normalized, "+1") {
		candidates = append(candidates, normalized[2:])
	}
	for _, p := range candidates {
		c, err := b.FindContactByPhone(ctx, tok, p)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func normalizePhone(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "New", "Contact"
	}
	if len(parts) == 1 {
		return parts[0], "Contact"
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func bookingTitle(t tenants.Tenant, req BookingRequest, c Contact) string {
	first := ""
	if f := strings.Fields(req.Name); len(f) > 0 {
		first = f[0]
	}
	if first == "" {
		first = c.DisplayFirstName()
	}
	if first == "" {
		first = "Client"
	}
	business := t.ClientMeta.BusinessName
	if business == "" {
		business = "Business"
	}
	return first + " x " + business + " - " + meetingTitle(t, req)
}

func meetingTitle(t tenants.Tenant, req BookingRequest) string {
	switch {
	case req.MeetingTitle != "":
		return req.MeetingTitle
	case req.Agent != nil && req.Agent.MeetingTitle != "":
		return req.Agent.MeetingTitle
	case req.Agent == nil && t.MeetingTitle != "":
		return t.MeetingTitle
	}
	return tenants.DefaultMeetingTitle
}

func meetingLocation(t tenants.Tenant, req BookingRequest) string {
	switch {
	case req.MeetingLocation != "":
		return req.MeetingLocation
	case req.Agent != nil && req.Agent.MeetingLocation != "":
		return req.Agent.MeetingLocation
	case req.Agent == nil && t.MeetingLocation != "":
		return t.MeetingLocation
	}
	return tenants.DefaultMeetingLocation
}

// MonthAppointments lists the tenant's appointments for one calendar month.
// Failures are logged and yield an empty list.
func (b *Broker) MonthAppointments(ctx context.Context, t tenants.Tenant, year int, month time.Month) []Appointment {
	log := logger.From(ctx).With("client_id", t.ClientID)
	if t.CalID == "" || !t.HasCRMIntegration() {
		return nil
	}
	tok, err := b.EnsureValidAccessToken(ctx, t.ClientID)
	if err != nil {
		log.Warn("appointments: token unavailable", "err", err)
		return nil
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	out, err := b.client.ListAppointments(ctx, tok.AccessToken, t.ClientID, t.CalID, start, end)
	if err != nil {
		log.Warn("appointments: listing failed", "err", err)
		return nil
	}
	return out
}
