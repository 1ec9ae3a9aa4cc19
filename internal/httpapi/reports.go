package httpapi

import (
	"errors"
	"net/http"

	"voice-relay/internal/reporting"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	ClientID    string `json:"clientId" form:"clientId"`
	AgentID     string `json:"agentId" form:"agentId"`
	Period      string `json:"period" form:"period"`
	StartPeriod string `json:"startPeriod" form:"startPeriod"`
	EndPeriod   string `json:"endPeriod" form:"endPeriod"`
}

// bindReport reads report parameters from the query string and, for POST
// requests, the JSON body. clientId is always required.
func (h Handlers) bindReport(c *gin.Context) (reportRequest, reporting.Period, bool) {
	var req reportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid query parameters")
		return req, reporting.Period{}, false
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return req, reporting.Period{}, false
		}
	}
	if req.ClientID == "" {
		fail(c, http.StatusBadRequest, "clientId is required")
		return req, reporting.Period{}, false
	}
	p := reporting.PeriodOf(h.now())
	if req.Period != "" {
		var err error
		if p, err = reporting.ParsePeriod(req.Period); err != nil {
			fail(c, http.StatusBadRequest, "period must be formatted YYYY-MM")
			return req, reporting.Period{}, false
		}
	}
	return req, p, true
}

func (h Handlers) AgentMetrics(c *gin.Context) {
	req, p, ok := h.bindReport(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if req.AgentID != "" {
		m, err := h.Reporting.Get(ctx, req.ClientID, req.AgentID, p)
		if err != nil {
			failErr(c, err, "Failed to fetch agent metrics")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "clientId": req.ClientID, "agentId": req.AgentID, "period": p.String(), "metrics": m})
		return
	}
	agents, err := h.Reporting.ListForTenant(ctx, req.ClientID, p)
	if err != nil {
		failErr(c, err, "Failed to fetch agent metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clientId": req.ClientID, "period": p.String(), "agents": agents})
}

func (h Handlers) SyncVoiceAI(c *gin.Context) {
	req, p, ok := h.bindReport(c)
	if !ok {
		return
	}
	res, err := h.Reporting.SyncVoiceAI(c.Request.Context(), req.ClientID, p)
	if err != nil {
		syncFailed(c, err, "Failed to sync ElevenLabs metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (h Handlers) SyncAppointments(c *gin.Context) {
	req, p, ok := h.bindReport(c)
	if !ok {
		return
	}
	res, err := h.Reporting.SyncAppointments(c.Request.Context(), req.ClientID, p)
	if err != nil {
		syncFailed(c, err, "Failed to sync GHL appointments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func syncFailed(c *gin.Context, err error, msg string) {
	if errors.Is(err, reporting.ErrSourceUnavailable) {
		fail(c, http.StatusServiceUnavailable, msg, "details", err.Error())
		return
	}
	failErr(c, err, msg)
}

func (h Handlers) CombinedMetrics(c *gin.Context) {
	req, p, ok := h.bindReport(c)
	if !ok {
		return
	}
	views, err := h.Reporting.Combined(c.Request.Context(), req.ClientID, p)
	if err != nil {
		failErr(c, err, "Failed to combine metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clientId": req.ClientID, "period": p.String(), "combinedMetrics": views})
}

func (h Handlers) CompareMetrics(c *gin.Context) {
	req, _, ok := h.bindReport(c)
	if !ok {
		return
	}
	if req.AgentID == "" || req.StartPeriod == "" || req.EndPeriod == "" {
		fail(c, http.StatusBadRequest, "agentId, startPeriod and endPeriod are required")
		return
	}
	start, err := reporting.ParsePeriod(req.StartPeriod)
	if err != nil {
		fail(c, http.StatusBadRequest, "startPeriod must be formatted YYYY-MM")
		return
	}
	end, err := reporting.ParsePeriod(req.EndPeriod)
	if err != nil {
		fail(c, http.StatusBadRequest, "endPeriod must be formatted YYYY-MM")
		return
	}
	cmp, err := h.Reporting.Compare(c.Request.Context(), req.ClientID, req.AgentID, start, end)
	if err != nil {
		failErr(c, err, "Failed to compare metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clientId": req.ClientID, "comparison": cmp})
}

func (h Handlers) RecalculateMetrics(c *gin.Context) {
	req, p, ok := h.bindReport(c)
	if !ok {
		return
	}
	if req.AgentID == "" {
		fail(c, http.StatusBadRequest, "agentId is required")
		return
	}
	m, err := h.Reporting.Recalculate(c.Request.Context(), req.ClientID, req.AgentID, p)
	if err != nil {
		failErr(c, err, "Failed to recalculate metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clientId": req.ClientID, "agentId": req.AgentID, "period": p.String(), "metrics": m})
}
