package httpapi

import (
	"net/http"

	"voice-relay/internal/audit"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

func (h Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Server is running"})
}

// Status reports database reachability and live call counts.
func (h Handlers) Status(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.Tenants.Counts(ctx)
	if err != nil {
		logger.FromGin(c).Error("status: count clients failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to fetch server status",
			"error":   err.Error(),
		})
		return
	}

	dbUp := false
	if h.DBPing != nil {
		dbUp = h.DBPing(ctx) == nil
	}
	active := 0
	if h.Sessions != nil {
		if n, err := h.Sessions.Count(ctx); err == nil {
			active = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "online",
		"databaseConnected": dbUp,
		"activeConnections": active,
		"clientCount":       counts.Total,
	})
}

type transferRequest struct {
	CallSid     string `json:"callSid"`
	AgentNumber string `json:"agentNumber"`
}

// TransferCall moves a live call to a human, the same way the voice agent's
// transfer tool does.
func (h Handlers) TransferCall(c *gin.Context) {
	var req transferRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CallSid == "" {
		fail(c, http.StatusBadRequest, "Missing callSid parameter")
		return
	}
	res := h.Transfers.Transfer(c.Request.Context(), req.CallSid, req.AgentNumber)
	h.record(c, audit.Event{
		TenantID: res.ClientID,
		Type:     audit.EventTypeTransfer,
		CallSid:  req.CallSid,
		Message:  "transfer to " + res.TransferNumber,
		Metadata: res.Error,
	})
	c.JSON(http.StatusOK, res)
}
