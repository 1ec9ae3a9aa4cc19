package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"voice-relay/internal/crm"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultToolTimezone = "America/New_York"

// Tool webhooks are called by the voice agent mid-conversation. They locate
// the tenant from whatever the agent knows about the call.

type toolTarget struct {
	TwilioPhone string `json:"twilioPhone"`
	ClientID    string `json:"clientId"`
	AgentID     string `json:"agentId"`
}

func (q toolTarget) query() tenants.DiscoverQuery {
	return tenants.DiscoverQuery{TwilioPhone: q.TwilioPhone, ClientID: q.ClientID, AgentID: q.AgentID}
}

// discover resolves the target or writes the 404 response.
func (h Handlers) discover(c *gin.Context, q tenants.DiscoverQuery, searched gin.H, note string) (tenants.Discovery, bool) {
	d, err := h.Tenants.Discover(c.Request.Context(), q)
	if errors.Is(err, tenants.ErrNotFound) {
		fail(c, http.StatusNotFound, "Client not found", "searchedFor", searched, "note", note)
		return d, false
	}
	if err != nil {
		failErr(c, err, "Failed to discover client")
		return d, false
	}
	logger.FromGin(c).Info("tool client resolved", "client_id", d.Tenant.ClientID, "found_by", d.FoundBy)
	return d, true
}

func (h Handlers) discoverTarget(c *gin.Context, t toolTarget) (tenants.Discovery, bool) {
	return h.discover(c, t.query(),
		gin.H{"twilioPhone": t.TwilioPhone, "clientId": t.ClientID, "agentId": t.AgentID},
		"Provide twilioPhone, clientId, or agentId to find the client")
}

func (h Handlers) DiscoverClient(c *gin.Context) {
	var req tenants.DiscoverQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, ok := h.discover(c, req,
		gin.H{"clientId": req.ClientID, "phone": req.CustomerPhone, "twilioPhone": req.TwilioPhone, "agentId": req.AgentID},
		"Ensure the Twilio phone number matches a client's twilioPhoneNumber field")
	if !ok {
		return
	}

	t := d.Tenant
	all := t.AllAgents()
	c.JSON(http.StatusOK, gin.H{
		"requestId":         logger.RequestID(c),
		"clientId":          t.ClientID,
		"clientName":        t.ClientMeta.FullName,
		"businessName":      t.ClientMeta.BusinessName,
		"twilioPhoneNumber": t.TwilioPhoneNumber,
		"status":            t.Status,
		"hasGhlIntegration": t.HasCRMIntegration(),
		"hasCalendar":       t.CalID != "",
		"foundBy":           d.FoundBy,
		"matchedAgent":      d.MatchedAgent,
		"totalAgents":       len(all),
		"allAgents":         all,
	})
}

type toolAvailabilityRequest struct {
	toolTarget
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	Timezone       string `json:"timezone"`
	EnableLookBusy bool   `json:"enableLookBusy"`
}

func (h Handlers) ToolAvailability(c *gin.Context) {
	var req toolAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, ok := h.discoverTarget(c, req.toolTarget)
	if !ok {
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = defaultToolTimezone
	}
	lookBusy := ""
	if req.EnableLookBusy {
		lookBusy = "true"
	}
	q, err := slotQuery(req.StartDate, req.EndDate, tz, lookBusy)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.availability(c, d.Tenant, q, gin.H{"clientId": d.Tenant.ClientID, "foundBy": d.FoundBy})
}

type toolBookRequest struct {
	toolTarget
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	Phone           string `json:"phone"`
	MeetingTitle    string `json:"meetingTitle"`
	MeetingLocation string `json:"meetingLocation"`
	Name            string `json:"name"`
	CallSid         string `json:"callSid"`
}

// ToolBook books on behalf of the caller, creating the CRM contact when the
// caller is not known yet.
func (h Handlers) ToolBook(c *gin.Context) {
	var req toolBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, ok := h.discoverTarget(c, req.toolTarget)
	if !ok {
		return
	}

	b, err := h.CRM.Book(c.Request.Context(), d.Tenant, crm.BookingRequest{
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		Phone:                req.Phone,
		Name:                 req.Name,
		MeetingTitle:         req.MeetingTitle,
		MeetingLocation:      req.MeetingLocation,
		Agent:                d.MatchedAgent,
		CreateMissingContact: true,
	})
	if err != nil {
		h.bookingFailed(c, err)
		return
	}
	h.afterBooking(c, d.Tenant, d.MatchedAgent, b, req.CallSid)

	body := bookingBody(c, d.Tenant, b)
	body["foundBy"] = d.FoundBy
	body["matchedAgent"] = d.MatchedAgent
	c.JSON(http.StatusOK, body)
}

type toolInfoRequest struct {
	toolTarget
	Phone string `json:"phone"`
}

func (h Handlers) ToolClientInfo(c *gin.Context) {
	var req toolInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, ok := h.discoverTarget(c, req.toolTarget)
	if !ok {
		return
	}
	t := d.Tenant
	if !t.HasCRMIntegration() {
		failErr(c, crm.ErrNoIntegration, "Failed to get client info")
		return
	}

	ctx := c.Request.Context()
	tok, err := h.CRM.EnsureValidAccessToken(ctx, t.ClientID)
	if err != nil {
		h.bookingFailed(c, err)
		return
	}
	var contact *crm.Contact
	if req.Phone != "" {
		contact, err = h.CRM.FindContactByPhone(ctx, tok, req.Phone)
		if err != nil {
			logger.FromGin(c).Info("contact search failed", "client_id", t.ClientID, "err", err)
			contact = nil
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId":    logger.RequestID(c),
		"clientId":     t.ClientID,
		"foundBy":      d.FoundBy,
		"matchedAgent": d.MatchedAgent,
		"clientInfo": gin.H{
			"name":         t.ClientMeta.FullName,
			"businessName": t.ClientMeta.BusinessName,
			"email":        t.ClientMeta.Email,
			"phone":        t.ClientMeta.Phone,
			"city":         t.ClientMeta.City,
			"jobTitle":     t.ClientMeta.JobTitle,
		},
		"contactInfo": contact,
		"hasContact":  contact != nil,
	})
}

// GetTime returns today's date shifted by week*7+day days, as YYYY-MM-DD.
func (h Handlers) GetTime(c *gin.Context) {
	day, err1 := strconv.Atoi(c.DefaultQuery("day", "0"))
	week, err2 := strconv.Atoi(c.DefaultQuery("week", "0"))
	if err1 != nil || err2 != nil {
		fail(c, http.StatusBadRequest, "Invalid parameters: day and week must be numbers")
		return
	}
	d := h.now().UTC().AddDate(0, 0, week*7+day)
	c.String(http.StatusOK, d.Format("2006-01-02"))
}
