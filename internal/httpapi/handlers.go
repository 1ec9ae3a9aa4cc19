package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"voice-relay/internal/audit"
	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/crm"
	"voice-relay/internal/dispatch"
	"voice-relay/internal/reporting"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CRM is the slice of the CRM broker the REST surface uses.
type CRM interface {
	Availability(ctx context.Context, t tenants.Tenant, q crm.SlotQuery) (crm.Availability, error)
	Book(ctx context.Context, t tenants.Tenant, req crm.BookingRequest) (crm.Booking, error)
	EnsureValidAccessToken(ctx context.Context, clientID string) (crm.Token, error)
	Refresh(ctx context.Context, clientID string) (crm.Token, error)
	FindContactByPhone(ctx context.Context, tok crm.Token, phone string) (*crm.Contact, error)
	Personalize(ctx context.Context, callerID, calledNumber string) crm.Personalization
}

// CallHistory lists call-history entries.
type CallHistory interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Entry, int, error)
}

// Transferer moves a live call to a human agent.
type Transferer interface {
	Transfer(ctx context.Context, callSid, number string) dispatch.Result
}

// ActiveCounter reports the number of calls currently relayed.
type ActiveCounter interface {
	Count(ctx context.Context) (int, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Tenants   *tenants.Service
	Calls     CallHistory
	Writer    *calls.Writer
	Reporting *reporting.Service
	CRM       CRM
	Carrier   telephony.Carrier
	Transfers Transferer
	Sessions  ActiveCounter
	Audit     *audit.Service

	// PublicHost overrides the request Host in callback URLs.
	PublicHost string

	// DBPing reports database reachability for /status; nil means no database.
	DBPing func(ctx context.Context) error

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) host(c *gin.Context) string {
	if h.PublicHost != "" {
		return h.PublicHost
	}
	return c.Request.Host
}

// fail writes the standard error envelope.
func fail(c *gin.Context, status int, msg string, extra ...any) {
	body := gin.H{"error": msg, "requestId": logger.RequestID(c)}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			body[k] = extra[i+1]
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes an optional JSON body into req. A malformed body writes
// the 400 and reports false.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// failErr maps a service error to its status. Unexpected errors are logged
// and reported as 500 with msg.
func failErr(c *gin.Context, err error, msg string) {
	var (
		tv *tenants.ValidationError
		tc *tenants.ConflictError
		cv *crm.ValidationError
	)
	switch {
	case errors.As(err, &tv):
		fail(c, http.StatusBadRequest, tv.Reason)
	case errors.As(err, &tc):
		fail(c, http.StatusConflict, tc.Reason)
	case errors.As(err, &cv):
		fail(c, http.StatusBadRequest, cv.Reason)
	case errors.Is(err, tenants.ErrNotFound):
		fail(c, http.StatusNotFound, "Client not found")
	case errors.Is(err, tenants.ErrAgentNotFound):
		fail(c, http.StatusNotFound, "Agent not found")
	case errors.Is(err, tenants.ErrPrimaryAgent):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenants.ErrConflict):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, tenants.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, crm.ErrNoCalendar):
		fail(c, http.StatusBadRequest, "Client does not have a calendar ID configured")
	case errors.Is(err, crm.ErrNoIntegration):
		fail(c, http.StatusBadRequest, "Client does not have GHL integration set up")
	default:
		logger.FromGin(c).Error(msg, "err", err)
		fail(c, http.StatusInternalServerError, msg, "details", err.Error())
	}
}

// actor records who did something for the audit log.
func actor(c *gin.Context) (id, role string) {
	id, _ = auth.Subject(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return id, role
}

func (h Handlers) record(c *gin.Context, e audit.Event) {
	if h.Audit == nil {
		return
	}
	e.ActorID, e.ActorRole = actor(c)
	e.IPAddress = c.ClientIP()
	h.Audit.Record(c.Request.Context(), e)
}
