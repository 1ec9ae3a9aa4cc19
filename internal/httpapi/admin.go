package httpapi

import (
	"net/http"
	"strconv"

	"voice-relay/internal/audit"
	"voice-relay/internal/crm"
	"voice-relay/internal/tenants"

	"github.com/gin-gonic/gin"
)

/* ===================== CLIENTS ===================== */

func (h Handlers) ListClients(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ts, total, err := h.Tenants.List(c.Request.Context(), tenants.Filter{
		Status: tenants.Status(c.Query("status")),
		Search: c.Query("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		failErr(c, err, "Failed to list clients")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "count": len(ts), "clients": ts})
}

func (h Handlers) CreateClient(c *gin.Context) {
	var req tenants.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.Tenants.Create(c.Request.Context(), req)
	if err != nil {
		failErr(c, err, "Failed to create client")
		return
	}
	h.record(c, audit.Event{TenantID: t.ClientID, Type: audit.EventTypeAdminAction, Message: "client created"})

	// The secret is only ever shown here and on reset.
	c.JSON(http.StatusCreated, gin.H{"client": t, "clientSecret": t.ClientSecret})
}

func (h Handlers) GetClient(c *gin.Context) {
	t, err := h.Tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, "Failed to fetch client")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h Handlers) UpdateClient(c *gin.Context) {
	var req tenants.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.Tenants.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		failErr(c, err, "Failed to update client")
		return
	}
	h.record(c, audit.Event{TenantID: t.ClientID, Type: audit.EventTypeAdminAction, Message: "client updated"})
	c.JSON(http.StatusOK, t)
}

func (h Handlers) DeleteClient(c *gin.Context) {
	id := c.Param("id")
	if err := h.Tenants.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err, "Failed to delete client")
		return
	}
	h.record(c, audit.Event{TenantID: id, Type: audit.EventTypeAdminAction, Message: "client deleted"})
	c.JSON(http.StatusOK, gin.H{"message": "Client deleted successfully", "clientId": id})
}

// ResetSecret rotates the client secret and reissues the client token.
func (h Handlers) ResetSecret(c *gin.Context) {
	t, err := h.Tenants.ResetSecret(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, "Failed to reset client secret")
		return
	}
	h.record(c, audit.Event{TenantID: t.ClientID, Type: audit.EventTypeSecretReset})
	c.JSON(http.StatusOK, gin.H{
		"clientId":     t.ClientID,
		"clientSecret": t.ClientSecret,
		"clientToken":  t.ClientToken,
	})
}

func (h Handlers) ClientCalls(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Tenants.Get(c.Request.Context(), id); err != nil {
		failErr(c, err, "Failed to fetch client")
		return
	}
	f, err := callFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	f.TenantID = id
	entries, total, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		failErr(c, err, "Failed to fetch call history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientId": id, "total": total, "filtered": len(entries), "callHistory": entries})
}

func (h Handlers) MakeCall(c *gin.Context) {
	t, err := h.Tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, "Failed to fetch client")
		return
	}
	var req outboundRequest
	if !bindJSON(c, &req) {
		return
	}
	h.placeCall(c, t, req, true)
}

/* ===================== PLATFORM ===================== */

func (h Handlers) Dashboard(c *gin.Context) {
	d, err := h.Reporting.Dashboard(c.Request.Context())
	if err != nil {
		failErr(c, err, "Failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) Activity(c *gin.Context) {
	days, err := intQuery(c, "days", 7)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.Reporting.Activity(c.Request.Context(), days, limit)
	if err != nil {
		failErr(c, err, "Failed to fetch activity")
		return
	}
	if days <= 0 {
		days = 7
	}
	c.JSON(http.StatusOK, gin.H{"period": strconv.Itoa(days) + " days", "count": len(rows), "activities": rows})
}

func (h Handlers) AuditLog(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"count": 0, "events": []audit.Event{}})
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.Audit.List(c.Request.Context(), audit.Filter{
		TenantID: c.Query("clientId"),
		Type:     audit.EventType(c.Query("type")),
		Limit:    limit,
	})
	if err != nil {
		failErr(c, err, "Failed to fetch audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
}

// ToolToken issues an admin token for the voice agent's tool webhooks.
func (h Handlers) ToolToken(c *gin.Context) {
	subject, _ := actor(c)
	tok, err := h.Auth.IssueAdminToken(h.now(), "tools:"+subject)
	if err != nil {
		failErr(c, err, "Failed to issue token")
		return
	}
	h.record(c, audit.Event{Type: audit.EventTypeTokenIssued, Message: "tool token issued"})
	c.JSON(http.StatusOK, gin.H{"token": tok, "type": "admin"})
}

/* ===================== CRM TOKENS ===================== */

func (h Handlers) RefreshCRMToken(c *gin.Context) {
	id := c.Param("id")
	tok, err := h.CRM.Refresh(c.Request.Context(), id)
	if err != nil {
		if f := crm.ClassifyBookingError(err); f.Status == http.StatusUnauthorized {
			fail(c, f.Status, "Failed to refresh GHL token", "details", err.Error())
			return
		}
		failErr(c, err, "Failed to refresh GHL token")
		return
	}
	h.record(c, audit.Event{TenantID: id, Type: audit.EventTypeAdminAction, Message: "crm token refreshed"})
	c.JSON(http.StatusOK, gin.H{
		"message":        "Token refreshed successfully",
		"clientId":       id,
		"tokenExpiresAt": tok.ExpiresAt,
	})
}

func (h Handlers) CRMTokenStatus(c *gin.Context) {
	t, err := h.Tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, "Failed to fetch client")
		return
	}
	c.JSON(http.StatusOK, crm.TokenStatus(t, h.now()))
}

/* ===================== AGENTS ===================== */

func (h Handlers) ListAgents(c *gin.Context) {
	id := c.Param("id")
	agents, err := h.Tenants.ListAgents(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, "Failed to list agents")
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientId": id, "count": len(agents), "agents": agents})
}

func (h Handlers) AddAgent(c *gin.Context) {
	var req tenants.NewAgent
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	id := c.Param("id")
	a, err := h.Tenants.AddAgent(c.Request.Context(), id, req)
	if err != nil {
		failErr(c, err, "Failed to add agent")
		return
	}
	h.record(c, audit.Event{TenantID: id, AgentID: a.AgentID, Type: audit.EventTypeAdminAction, Message: "agent added"})
	c.JSON(http.StatusCreated, gin.H{"message": "Agent added successfully", "agent": a})
}

func (h Handlers) UpdateAgent(c *gin.Context) {
	var req tenants.AgentPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	id := c.Param("id")
	a, err := h.Tenants.UpdateAgent(c.Request.Context(), id, c.Param("agentId"), req)
	if err != nil {
		failErr(c, err, "Failed to update agent")
		return
	}
	h.record(c, audit.Event{TenantID: id, AgentID: a.AgentID, Type: audit.EventTypeAdminAction, Message: "agent updated"})
	c.JSON(http.StatusOK, gin.H{"message": "Agent updated successfully", "agent": a})
}

func (h Handlers) RemoveAgent(c *gin.Context) {
	id := c.Param("id")
	a, err := h.Tenants.RemoveAgent(c.Request.Context(), id, c.Param("agentId"))
	if err != nil {
		failErr(c, err, "Failed to remove agent")
		return
	}
	h.record(c, audit.Event{TenantID: id, AgentID: a.AgentID, Type: audit.EventTypeAdminAction, Message: "agent removed"})
	c.JSON(http.StatusOK, gin.H{"message": "Agent removed successfully", "agent": a})
}
