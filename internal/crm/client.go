package crm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-relay/pkg/telemetry"
)

const (
	versionContacts  = "2021-07-28"
	versionCalendars = "2021-04-15"
)

type ClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

// Client talks to the CRM REST API. Every call takes the tenant's access
// token; token lifecycle is handled by Broker.
type Client struct {
	http    *resty.Client
	cfg     ClientConfig
	metrics *telemetry.Metrics
}

func NewClient(cfg ClientConfig, m *telemetry.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)
	return &Client{http: h, cfg: cfg, metrics: m}
}

type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Title       string `json:"title,omitempty"`
	City        string `json:"city,omitempty"`
	LocationID  string `json:"locationId,omitempty"`
	DateAdded   string `json:"dateAdded,omitempty"`
}

// DisplayFirstName falls back to the first word of Name.
func (c Contact) DisplayFirstName() string {
	if c.FirstName != "" {
		return c.FirstName
	}
	if f := strings.Fields(c.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

func (c Contact) FullName() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type NewContact struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	LocationID string `json:"locationId"`
	Source     string `json:"source,omitempty"`
}

type AppointmentRequest struct {
	CalendarID               string `json:"calendarId"`
	LocationID               string `json:"locationId"`
	ContactID                string `json:"contactId"`
	StartTime                string `json:"startTime"`
	EndTime                  string `json:"endTime"`
	Title                    string `json:"title"`
	MeetingLocationType      string `json:"meetingLocationType"`
	AppointmentStatus        string `json:"appointmentStatus"`
	Address                  string `json:"address"`
	IgnoreDateRange          bool   `json:"ignoreDateRange"`
	ToNotify                 bool   `json:"toNotify"`
	IgnoreFreeSlotValidation bool   `json:"ignoreFreeSlotValidation"`
}

type Appointment struct {
	ID                string `json:"id"`
	CalendarID        string `json:"calendarId,omitempty"`
	ContactID         string `json:"contactId,omitempty"`
	Title             string `json:"title,omitempty"`
	StartTime         string `json:"startTime,omitempty"`
	EndTime           string `json:"endTime,omitempty"`
	Address           string `json:"address,omitempty"`
	AppointmentStatus string `json:"appointmentStatus,omitempty"`
	Status            string `json:"status,omitempty"`
	IsRecurring       bool   `json:"isRecurring,omitempty"`
}

// EffectiveStatus prefers appointmentStatus over the legacy status field.
func (a Appointment) EffectiveStatus() string {
	if a.AppointmentStatus != "" {
		return a.AppointmentStatus
	}
	return a.Status
}

func (c *Client) upstream(op string, resp *resty.Response) error {
	return &UpstreamError{Op: op, Status: resp.StatusCode(), Body: resp.String()}
}

// RefreshToken exchanges a refresh token for a new grant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	defer c.metrics.TrackUpstream("crm", "refresh_token")()

	var grant TokenGrant
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"redirect_uri":  c.cfg.RedirectURI,
		}).
		SetResult(&grant).
		Post("/oauth/token")
	if err != nil {
		return TokenGrant{}, fmt.Errorf("crm refresh token request failed: %w", err)
	}
	if resp.IsError() {
		return TokenGrant{}, c.upstream("refresh token", resp)
	}
	if grant.AccessToken == "" {
		return TokenGrant{}, fmt.Errorf("crm refresh token: response carried no access_token")
	}
	return grant, nil
}

// SearchContactByPhone returns the newest contact whose phone contains the
// digits of phone, or nil.
func (c *Client) SearchContactByPhone(ctx context.Context, accessToken, locationID, phone string) (*Contact, error) {
	defer c.metrics.TrackUpstream("crm", "search_contact")()

	body := map[string]any{
		"locationId": locationID,
		"page":       1,
		"pageLimit":  10,
		"filters": []map[string]string{
			{"field": "phone", "operator": "contains", "value": Digits(phone)},
		},
		"sort": []map[string]string{
			{"field": "dateAdded", "direction": "desc"},
		},
	}
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Version", versionContacts).
		SetBody(body).
		SetResult(&out).
		Post("/contacts/search")
	if err != nil {
		return nil, fmt.Errorf("crm contact search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.upstream("contact search", resp)
	}
	if len(out.Contacts) == 0 {
		return nil, nil
	}
	contact := out.Contacts[0]
	return &contact, nil
}

func (c *Client) CreateContact(ctx context.Context, accessToken string, in NewContact) (*Contact, error) {
	defer c.metrics.TrackUpstream("crm", "create_contact")()

	var out struct {
		Contact Contact `json:"contact"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Version", versionContacts).
		SetBody(in).
		SetResult(&out).
		Post("/contacts/")
	if err != nil {
		return nil, fmt.Errorf("crm create contact request failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.upstream("create contact", resp)
	}
	if out.Contact.ID == "" {
		return nil, fmt.Errorf("crm create contact: response carried no contact id")
	}
	return &out.Contact, nil
}

// FreeSlots returns the raw availability document for a calendar.
func (c *Client) FreeSlots(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string, lookBusy bool) (map[string]any, error) {
	defer c.metrics.TrackUpstream("crm", "free_slots")()

	q := map[string]string{
		"startDate": strconv.FormatInt(start.UnixMilli(), 10),
		"endDate":   strconv.FormatInt(end.UnixMilli(), 10),
		"timezone":  timezone,
	}
	if lookBusy {
		q["enableLookBusy"] = "true"
	}
	out := map[string]any{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Version", versionCalendars).
		SetPathParam("calendarId", calendarID).
		SetQueryParams(q).
		SetResult(&out).
		Get("/calendars/{calendarId}/free-slots")
	if err != nil {
		return nil, fmt.Errorf("crm free slots request failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.upstream("free slots", resp)
	}
	return out, nil
}

func (c *Client) BookAppointment(ctx context.Context, accessToken string, in AppointmentRequest) (Appointment, error) {
	defer c.metrics.TrackUpstream("crm", "book_appointment")()

	var out Appointment
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Version", versionCalendars).
		SetBody(in).
		SetResult(&out).
		Post("/calendars/events/appointments")
	if err != nil {
		return Appointment{}, fmt.Errorf("crm book appointment request failed: %w", err)
	}
	if resp.IsError() {
		return Appointment{}, c.upstream("book appointment", resp)
	}
	return out, nil
}

// ListAppointments lists calendar events between start and end.
func (c *Client) ListAppointments(ctx context.Context, accessToken, locationID, calendarID string, start, end time.Time) ([]Appointment, error) {
	defer c.metrics.TrackUpstream("crm", "list_appointments")()

	var out struct {
		Events []Appointment `json:"events"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Version", versionCalendars).
		SetQueryParams(map[string]string{
			"locationId": locationID,
			"calendarId": calendarID,
			"startTime":  strconv.FormatInt(start.UnixMilli(), 10),
			"endTime":    strconv.FormatInt(end.UnixMilli(), 10),
		}).
		SetResult(&out).
		Get("/calendars/events")
	if err != nil {
		return nil, fmt.Errorf("crm list appointments request failed: %w", err)
	}
	if resp.IsError() {
		return nil, c.upstream("list appointments", resp)
	}
	return out.Events, nil
}

// Digits strips everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
