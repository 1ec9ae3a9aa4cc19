package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voice-relay/pkg/logger"
)

const (
	InboundCallPath    = "/incoming-call-eleven"
	OutboundTwiMLPath  = "/outbound-call-twiml"
	CallStatusPath     = "/call-status"
	InboundStreamPath  = "/media-stream"
	OutboundStreamPath = "/outbound-media-stream"
)

// OutboundParams are forwarded from the outbound TwiML URL to the media stream.
var OutboundParams = []string{
	"first_message", "full_name", "business_name", "city", "job_title",
	"email", "phone", "requestId", "clientId", "agentId",
}

// InboundCall is what the inbound webhook knows about a new call.
type InboundCall struct {
	CallSid    string
	RequestID  string
	From       string
	To         string
	TenantID   string
	AgentID    string
	ReceivedAt time.Time
}

// WebhookHandler serves the carrier's TwiML and status webhooks. Persistence
// and tenant lookup are injected so the adapter holds no business logic.
type WebhookHandler struct {
	// PublicHost overrides the request Host when building stream URLs.
	PublicHost string

	// ResolveNumber maps a dialed number to its tenant and agent. found is
	// false for numbers no Active tenant owns.
	ResolveNumber func(ctx context.Context, to string) (tenantID, agentID string, found bool, err error)
	RecordInbound func(ctx context.Context, call InboundCall) error
	RecordStatus  func(ctx context.Context, cb StatusCallback) error

	Now func() time.Time
}

func (h WebhookHandler) host(c *gin.Context) string {
	if h.PublicHost != "" {
		return h.PublicHost
	}
	return c.Request.Host
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleInboundCall answers an inbound call by streaming it to the relay.
// Calls to unknown numbers still stream; the relay falls back to the default
// agent. Any processing error apologizes and hangs up.
func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	form, err := ParseInboundCall(c.Request)
	if err != nil {
		log.Warn("inbound webhook parse failed", "err", err)
		writeTwiML(c, UnavailableTwiML())
		return
	}
	requestID := "inbound_" + uuid.NewString()[:13]
	log = log.With("call_sid", form.CallSid, "request_id", requestID)

	call := InboundCall{
		CallSid:    form.CallSid,
		RequestID:  requestID,
		From:       form.From,
		To:         form.To,
		ReceivedAt: now().UTC(),
	}
	if h.ResolveNumber != nil {
		tenantID, agentID, found, err := h.ResolveNumber(c.Request.Context(), form.To)
		if err != nil {
			log.Error("inbound number resolution failed", "to", form.To, "err", err)
			writeTwiML(c, UnavailableTwiML())
			return
		}
		if !found {
			log.Warn("no tenant owns dialed number", "to", form.To)
		}
		call.TenantID, call.AgentID = tenantID, agentID
	}
	if call.TenantID != "" && call.CallSid != "" && h.RecordInbound != nil {
		if err := h.RecordInbound(c.Request.Context(), call); err != nil {
			log.Error("inbound call record failed", "err", err)
			writeTwiML(c, UnavailableTwiML())
			return
		}
	}

	twiml, err := StreamTwiML("wss://"+h.host(c)+InboundStreamPath,
		Param{Name: "callSid", Value: call.CallSid},
		Param{Name: "clientId", Value: call.TenantID},
		Param{Name: "agentId", Value: call.AgentID},
		Param{Name: "requestId", Value: requestID},
	)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		writeTwiML(c, UnavailableTwiML())
		return
	}
	writeTwiML(c, twiml)
}

// HandleOutboundTwiML is fetched by the carrier when an outbound call is
// answered. Query values become stream parameters.
func (h WebhookHandler) HandleOutboundTwiML(c *gin.Context) {
	params := make([]Param, 0, len(OutboundParams))
	for _, name := range OutboundParams {
		params = append(params, Param{Name: name, Value: c.Query(name)})
	}
	twiml, err := StreamTwiML("wss://"+h.host(c)+OutboundStreamPath, params...)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		writeTwiML(c, UnavailableTwiML())
		return
	}
	writeTwiML(c, twiml)
}

// HandleCallStatus applies a status callback. The carrier always gets a 200.
func (h WebhookHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	cb, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	log.Info("call status", "request_id", cb.RequestID, "call_sid", cb.CallSid, "status", cb.CallStatus)

	if h.RecordStatus != nil {
		if err := h.RecordStatus(c.Request.Context(), cb); err != nil {
			log.Error("call status update failed", "request_id", cb.RequestID, "err", err)
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
