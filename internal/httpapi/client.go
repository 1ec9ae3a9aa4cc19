package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voice-relay/internal/audit"
	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/crm"
	"voice-relay/internal/reporting"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// currentTenant loads the tenant named by the client token.
func (h Handlers) currentTenant(c *gin.Context) (tenants.Tenant, bool) {
	id, err := auth.ClientID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "Invalid or expired token")
		return tenants.Tenant{}, false
	}
	t, err := h.Tenants.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, "Failed to load client")
		return tenants.Tenant{}, false
	}
	return t, true
}

// Me returns the authenticated tenant.
func (h Handlers) Me(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": t, "agents": t.AllAgents()})
}

// MyCalls lists the authenticated tenant's call history.
func (h Handlers) MyCalls(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	f, err := callFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	f.TenantID = t.ClientID
	entries, total, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		failErr(c, err, "Failed to fetch call history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientId": t.ClientID, "total": total, "filtered": len(entries), "callHistory": entries})
}

// MyMetrics returns per-agent metrics for one month, the current one by default.
func (h Handlers) MyMetrics(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	p, err := periodQuery(c, "period", h.now())
	if err != nil {
		fail(c, http.StatusBadRequest, "period must be formatted YYYY-MM")
		return
	}
	if agentID := c.Query("agentId"); agentID != "" {
		m, err := h.Reporting.Get(c.Request.Context(), t.ClientID, agentID, p)
		if err != nil {
			failErr(c, err, "Failed to fetch metrics")
			return
		}
		c.JSON(http.StatusOK, gin.H{"clientId": t.ClientID, "agentId": agentID, "period": p.String(), "metrics": m})
		return
	}
	agents, err := h.Reporting.ListForTenant(c.Request.Context(), t.ClientID, p)
	if err != nil {
		failErr(c, err, "Failed to fetch metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientId": t.ClientID, "period": p.String(), "agents": agents})
}

type getInfoRequest struct {
	CallerID     string `json:"caller_id"`
	CalledNumber string `json:"called_number"`
	AgentID      string `json:"agent_id"`
	CallSid      string `json:"call_sid"`
}

// GetInfo answers the voice vendor's pre-call personalization webhook. Every
// lookup failure degrades to the plain greeting.
func (h Handlers) GetInfo(c *gin.Context) {
	var req getInfoRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CallerID == "" || req.CalledNumber == "" {
		fail(c, http.StatusBadRequest, "Missing required parameters", "requiredParams", []string{"caller_id", "called_number"})
		return
	}
	c.JSON(http.StatusOK, h.CRM.Personalize(c.Request.Context(), req.CallerID, req.CalledNumber))
}

// MyAvailability returns free calendar slots for the authenticated tenant.
func (h Handlers) MyAvailability(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	q, err := slotQuery(c.Query("startDate"), c.Query("endDate"), c.Query("timezone"), c.Query("enableLookBusy"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.availability(c, t, q, nil)
}

func (h Handlers) availability(c *gin.Context, t tenants.Tenant, q crm.SlotQuery, extra gin.H) {
	av, err := h.CRM.Availability(c.Request.Context(), t, q)
	if err != nil {
		var up *crm.UpstreamError
		if errors.As(err, &up) {
			f := crm.ClassifyBookingError(err)
			if f.Status == http.StatusUnauthorized || f.Status == http.StatusForbidden {
				fail(c, f.Status, f.Message, "details", f.Details)
				return
			}
			fail(c, up.Status, "Failed to fetch availability from GoHighLevel", "details", err.Error())
			return
		}
		if errors.Is(err, crm.ErrTokenRefreshFailed) {
			f := crm.ClassifyBookingError(err)
			fail(c, f.Status, f.Message, "details", f.Details)
			return
		}
		failErr(c, err, "Failed to get availability")
		return
	}

	body := gin.H{
		"requestId":    logger.RequestID(c),
		"dateRange":    av.DateRange,
		"timezone":     av.Timezone,
		"availability": av.Availability,
		"slots":        av.Slots,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

type bookRequest struct {
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Phone        string `json:"phone"`
	MeetingTitle string `json:"meeting_title"`
}

// MyBook books an appointment for an existing CRM contact of the tenant.
func (h Handlers) MyBook(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	b, err := h.CRM.Book(c.Request.Context(), t, crm.BookingRequest{
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Phone:        req.Phone,
		MeetingTitle: req.MeetingTitle,
	})
	if err != nil {
		h.bookingFailed(c, err)
		return
	}
	h.afterBooking(c, t, nil, b, "")

	c.JSON(http.StatusOK, bookingBody(c, t, b))
}

func (h Handlers) bookingFailed(c *gin.Context, err error) {
	var cv *crm.ValidationError
	switch {
	case errors.As(err, &cv), errors.Is(err, crm.ErrNoCalendar), errors.Is(err, crm.ErrNoIntegration) && !errors.Is(err, crm.ErrTokenRefreshFailed):
		failErr(c, err, "Failed to book appointment")
	case errors.Is(err, crm.ErrContactNotFound):
		fail(c, http.StatusNotFound, "Contact not found in GoHighLevel", "details", "No contact exists with the provided phone number")
	default:
		f := crm.ClassifyBookingError(err)
		if f.Status >= http.StatusInternalServerError {
			logger.FromGin(c).Error("booking failed", "err", err)
		}
		fail(c, f.Status, f.Message, "details", f.Details)
	}
}

// afterBooking confirms a booking to the contact by SMS and counts it for
// the agent. Both are best effort. callSid, when set, is the call the
// booking was made on.
func (h Handlers) afterBooking(c *gin.Context, t tenants.Tenant, agent *tenants.Agent, b crm.Booking, callSid string) {
	ctx := c.Request.Context()
	log := logger.FromGin(c)

	a := t.PrimaryAgent()
	if agent != nil {
		a = *agent
	}

	to := b.Contact.Phone
	if to != "" && a.TwilioPhoneNumber != "" && h.Carrier != nil {
		if _, err := h.Carrier.SendSMS(ctx, telephony.SMSRequest{
			To:   to,
			From: a.TwilioPhoneNumber,
			Body: confirmationText(t, b),
		}); err != nil {
			log.Warn("booking confirmation sms failed", "client_id", t.ClientID, "err", err)
		}
	}

	if h.markLiveCallBooked(c, t, callSid) {
		return
	}
	if _, err := h.Reporting.IncrementBooking(ctx, t.ClientID, a.AgentID, h.now()); err != nil {
		log.Warn("booking metric failed", "client_id", t.ClientID, "agent_id", a.AgentID, "err", err)
	}
}

// markLiveCallBooked flags the tenant's call as booked. It reports true when
// the call is still relaying, in which case the relay counts the booking
// together with the call when it ends.
func (h Handlers) markLiveCallBooked(c *gin.Context, t tenants.Tenant, callSid string) bool {
	if callSid == "" || h.Writer == nil {
		return false
	}
	ctx := c.Request.Context()
	e, err := h.Writer.Lookup(ctx, callSid)
	if err != nil || e.TenantID != t.ClientID {
		return false
	}
	if err := h.Writer.RecordBooking(ctx, e.TenantID, callSid); err != nil {
		logger.FromGin(c).Warn("record booking failed", "client_id", t.ClientID, "call_sid", callSid, "err", err)
		return false
	}
	return e.CallData.EndTime == nil
}

func confirmationText(t tenants.Tenant, b crm.Booking) string {
	name := b.Contact.DisplayFirstName()
	if name == "" {
		name = "there"
	}
	business := t.ClientMeta.BusinessName
	if business == "" {
		business = "our office"
	}
	location := b.Request.Address
	if location == "" {
		location = "TBD"
	}
	date, clock := b.Request.StartTime, ""
	if st, err := time.Parse(time.RFC3339, b.Request.StartTime); err == nil {
		date, clock = st.Format("Monday, January 2, 2006"), st.Format("3:04 PM")
	}
	return "Hi " + name + "! Your appointment with " + business + " has been confirmed.\n\n" +
		"📅 " + date + "\n🕒 " + clock + "\n📍 " + location + "\n\nWe look forward to seeing you!"
}

func bookingBody(c *gin.Context, t tenants.Tenant, b crm.Booking) gin.H {
	status := b.Appointment.EffectiveStatus()
	if status == "" {
		status = b.Request.AppointmentStatus
	}
	address := b.Appointment.Address
	if address == "" {
		address = b.Request.Address
	}
	return gin.H{
		"requestId":     logger.RequestID(c),
		"status":        "success",
		"message":       "Appointment booked successfully",
		"appointmentId": b.Appointment.ID,
		"details": gin.H{
			"calendarId":  b.Request.CalendarID,
			"locationId":  t.ClientID,
			"contactId":   b.Contact.ID,
			"startTime":   b.Request.StartTime,
			"endTime":     b.Request.EndTime,
			"title":       b.Request.Title,
			"status":      status,
			"address":     address,
			"isRecurring": b.Appointment.IsRecurring,
		},
		"contact": gin.H{
			"id":         b.Contact.ID,
			"name":       b.Contact.FullName(),
			"phone":      b.Contact.Phone,
			"email":      b.Contact.Email,
			"wasCreated": b.ContactCreated,
		},
	}
}

type outboundRequest struct {
	Phone   string `json:"phone"`
	AgentID string `json:"agentId"`
}

// MyOutboundCall places an outbound call from one of the tenant's agents.
func (h Handlers) MyOutboundCall(c *gin.Context) {
	t, ok := h.currentTenant(c)
	if !ok {
		return
	}
	var req outboundRequest
	if !bindJSON(c, &req) {
		return
	}
	h.placeCall(c, t, req, false)
}

// placeCall validates the destination, asks the carrier to dial it and
// records the call as initiated.
func (h Handlers) placeCall(c *gin.Context, t tenants.Tenant, req outboundRequest, admin bool) {
	ctx := c.Request.Context()
	rid := logger.RequestID(c)
	log := logger.FromGin(c)

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		fail(c, http.StatusBadRequest, "Destination phone number is required")
		return
	}
	if !e164.MatchString(phone) {
		fail(c, http.StatusBadRequest, "Phone number must be in E.164 format (e.g., +12125551234)")
		return
	}
	if !t.IsActive() {
		fail(c, http.StatusForbidden, "Client is not active (status: "+string(t.Status)+")")
		return
	}

	agent := t.PrimaryAgent()
	if req.AgentID != "" {
		a, found := t.FindAgentByID(req.AgentID)
		if !found {
			fail(c, http.StatusNotFound, "Agent not found")
			return
		}
		if !a.IsEnabled || !a.OutboundEnabled {
			fail(c, http.StatusForbidden, "Agent is not enabled for outbound calls")
			return
		}
		agent = a
	}

	meta := t.ClientMeta
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	if first := meta.FirstName(); first != "" {
		set("first_message", first+"?")
	}
	set("clientId", t.ClientID)
	set("agentId", agent.AgentID)
	set("full_name", meta.FullName)
	set("business_name", meta.BusinessName)
	set("city", meta.City)
	set("job_title", meta.JobTitle)
	set("email", meta.Email)
	set("phone", phone)
	set("requestId", rid)
	if admin {
		set("admin_initiated", "true")
	}

	status := url.Values{}
	status.Set("requestId", rid)
	status.Set("clientId", t.ClientID)
	if admin {
		status.Set("admin_initiated", "true")
	}

	base := "https://" + h.host(c)
	call, err := h.Carrier.CreateCall(ctx, telephony.CreateCallRequest{
		To:                   phone,
		From:                 agent.TwilioPhoneNumber,
		URL:                  base + telephony.OutboundTwiMLPath + "?" + q.Encode(),
		StatusCallback:       base + telephony.CallStatusPath + "?" + status.Encode(),
		StatusCallbackEvents: []string{"initiated", "ringing", "answered", "completed"},
		StatusCallbackMethod: http.MethodPost,
	})
	if err != nil {
		log.Error("outbound call failed", "client_id", t.ClientID, "err", err)
		switch telephony.ErrorCode(err) {
		case telephony.CodeInvalidTo:
			fail(c, http.StatusBadRequest, "Invalid 'To' phone number", "details", err.Error(),
				"resolution", "Check the phone number format and try again")
		case telephony.CodeInvalidFrom:
			fail(c, http.StatusBadRequest, "Invalid 'From' phone number", "details", err.Error(),
				"resolution", "Verify the Twilio phone number is active and properly configured")
		default:
			fail(c, http.StatusInternalServerError, "Failed to initiate call", "details", err.Error())
		}
		return
	}

	if _, _, err := h.Writer.RecordStart(ctx, calls.StartRecord{
		TenantID:       t.ClientID,
		CallSid:        call.Sid,
		RequestID:      rid,
		Phone:          phone,
		From:           agent.TwilioPhoneNumber,
		AgentID:        agent.AgentID,
		Direction:      calls.DirectionOutbound,
		Status:         calls.StatusInitiated,
		AdminInitiated: admin,
		StartTime:      h.now(),
	}); err != nil {
		// The call is already ringing; history is repaired by the relay on stream start.
		log.Error("record outbound call failed", "call_sid", call.Sid, "err", err)
	}
	if admin {
		h.record(c, audit.Event{TenantID: t.ClientID, Type: audit.EventTypeOutboundCall, CallSid: call.Sid, AgentID: agent.AgentID, Message: "outbound call to " + phone})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Call initiated successfully",
		"callSid":   call.Sid,
		"clientId":  t.ClientID,
		"agentId":   agent.AgentID,
		"requestId": rid,
	})
}

/* ===================== QUERY PARSING ===================== */

func callFilter(c *gin.Context) (calls.ListFilter, error) {
	f := calls.ListFilter{
		AgentID: c.Query("agentId"),
		Status:  c.Query("status"),
	}
	var err error
	if f.Limit, err = intQuery(c, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		return f, err
	}
	if v := c.Query("startDate"); v != "" {
		if f.Since, err = parseDate(v); err != nil {
			return f, errors.New("startDate must be an ISO date")
		}
	}
	if v := c.Query("endDate"); v != "" {
		if f.Until, err = parseDate(v); err != nil {
			return f, errors.New("endDate must be an ISO date")
		}
	}
	return f, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return n, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func periodQuery(c *gin.Context, name string, now time.Time) (reporting.Period, error) {
	v := c.Query(name)
	if v == "" {
		return reporting.PeriodOf(now), nil
	}
	return reporting.ParsePeriod(v)
}

func slotQuery(start, end, tz, lookBusy string) (crm.SlotQuery, error) {
	q := crm.SlotQuery{Timezone: tz, LookBusy: lookBusy == "true"}
	var err error
	if start != "" {
		if q.Start, err = parseDate(start); err != nil {
			return q, errors.New("startDate must be an ISO date")
		}
	}
	if end != "" {
		if q.End, err = parseDate(end); err != nil {
			return q, errors.New("endDate must be an ISO date")
		}
	}
	return q, nil
}
