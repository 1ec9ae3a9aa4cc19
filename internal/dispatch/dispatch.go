package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-relay/internal/calls"
	"voice-relay/internal/events"
	"voice-relay/internal/session"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/telemetry"
)

// ToolTransfer is the only tool the voice agent can invoke.
const ToolTransfer = "transfer_to_agent"

// Variant is the vendor envelope a tool invocation arrived in.
type Variant string

const (
	// VariantClientTool is client_tool_call / client_tool_response.
	VariantClientTool Variant = "client_tool_call"
	// VariantToolRequest is tool_request / tool_response.
	VariantToolRequest Variant = "tool_request"
)

const (
	holdAnnouncement  = "Please hold while we connect you to an agent."
	agentAnnouncement = "You are being connected to a caller who was speaking with our AI assistant."

	errNoTenant = "No matching client found for this call"
	errNoNumber = "No transfer number available"
)

// Invocation is a tool call decoded from either vendor envelope.
type Invocation struct {
	Variant Variant
	// ID is tool_call_id or event_id, echoed back in the response.
	ID      string
	Tool    string
	Number  string
	CallSid string
}

// Result is what the voice agent receives back.
type Result struct {
	Success        bool   `json:"success"`
	AgentCallSid   string `json:"agentCallSid,omitempty"`
	TransferNumber string `json:"transferNumber,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
	Error          string `json:"error,omitempty"`
}

func failure(msg string) Result { return Result{Success: false, Error: msg} }

// Response wraps res in the envelope matching inv's variant.
func Response(inv Invocation, res Result) map[string]any {
	if inv.Variant == VariantToolRequest {
		return map[string]any{
			"type":      "tool_response",
			"event_id":  inv.ID,
			"tool_name": inv.Tool,
			"result":    res,
		}
	}
	return map[string]any{
		"type":         "client_tool_response",
		"tool_call_id": inv.ID,
		"data":         res,
	}
}

// TenantGetter loads a tenant by id.
type TenantGetter interface {
	Get(ctx context.Context, clientID string) (tenants.Tenant, error)
}

// Dispatcher executes tool calls against the carrier.
type Dispatcher struct {
	sessions     session.Store
	writer       *calls.Writer
	tenants      TenantGetter
	carrier      telephony.Carrier
	events       events.Publisher
	metrics      *telemetry.Metrics
	holdMusicURL string
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Config struct {
	Sessions     session.Store
	Writer       *calls.Writer
	Tenants      TenantGetter
	Carrier      telephony.Carrier
	Events       events.Publisher
	Metrics      *telemetry.Metrics
	HoldMusicURL string
}

func New(cfg Config) *Dispatcher {
	pub := cfg.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Dispatcher{
		sessions:     cfg.Sessions,
		writer:       cfg.Writer,
		tenants:      cfg.Tenants,
		carrier:      cfg.Carrier,
		events:       pub,
		metrics:      cfg.Metrics,
		holdMusicURL: cfg.HoldMusicURL,
		clock:        time.Now,
	}
}

// Dispatch runs one tool invocation. It never returns an error; failures are
// reported in the Result so the agent can tell the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (res Result) {
	log := logger.From(ctx).With("tool", inv.Tool, "call_sid", inv.CallSid)
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool call panicked", "panic", r)
			res = failure("Internal error while handling tool call")
		}
		d.metrics.ToolCall(inv.Tool, res.Success)
	}()

	switch inv.Tool {
	case ToolTransfer:
		return d.Transfer(ctx, inv.CallSid, inv.Number)
	default:
		log.Warn("unknown tool requested")
		return failure(fmt.Sprintf("Unknown tool: %s", inv.Tool))
	}
}

// Transfer bridges the caller and a human agent into a conference named after
// the call. The caller's leg is never hung up on failure.
func (d *Dispatcher) Transfer(ctx context.Context, callSid, number string) Result {
	log := logger.From(ctx).With("call_sid", callSid)
	if strings.TrimSpace(callSid) == "" {
		return failure("Missing callSid parameter")
	}

	tenant, err := d.resolveTenant(ctx, callSid)
	if err != nil {
		log.Warn("transfer: tenant not resolved", "error", err)
		return failure(errNoTenant)
	}

	number = strings.TrimSpace(number)
	if number == "" {
		number = strings.TrimSpace(tenant.ClientMeta.Phone)
	}
	if number == "" {
		log.Warn("transfer: no destination number", "tenant_id", tenant.ClientID)
		return failure(errNoNumber)
	}

	call, err := d.carrier.FetchCall(ctx, callSid)
	if err != nil {
		log.Error("transfer: fetch call failed", "error", err)
		return failure(err.Error())
	}

	conf := "transfer_" + callSid
	callerTwiML, err := telephony.ConferenceTwiML(telephony.Conference{
		Name:           conf,
		WaitURL:        d.holdMusicURL,
		AnnounceBefore: holdAnnouncement,
	})
	if err != nil {
		return failure(err.Error())
	}
	if _, err := d.carrier.UpdateCallTwiML(ctx, callSid, callerTwiML); err != nil {
		log.Error("transfer: redirect caller failed", "error", err)
		return failure(err.Error())
	}

	agentTwiML, err := telephony.ConferenceTwiML(telephony.Conference{
		Name:           conf,
		StartOnEnter:   true,
		EndOnExit:      true,
		SuppressBeep:   true,
		AnnounceBefore: agentAnnouncement,
	})
	if err != nil {
		return failure(err.Error())
	}
	agentLeg, err := d.carrier.CreateCall(ctx, telephony.CreateCallRequest{
		To:    number,
		From:  call.From,
		TwiML: agentTwiML,
	})
	if err != nil {
		log.Error("transfer: agent leg failed", "error", err, "transfer_number", number)
		return failure(err.Error())
	}

	if err := d.writer.RecordTransfer(ctx, tenant.ClientID, callSid, number); err != nil {
		log.Error("transfer: record outcome failed", "error", err)
	}
	ev := events.Event{
		Type:       events.CallTransferred,
		CallSid:    callSid,
		TenantID:   tenant.ClientID,
		OccurredAt: d.clock().UTC(),
		Data:       map[string]any{"agentCallSid": agentLeg.Sid, "transferNumber": number},
	}
	if err := d.events.Publish(ctx, ev); err != nil {
		log.Warn("publish call.transferred failed", "error", err)
	}

	log.Info("call transferred", "tenant_id", tenant.ClientID, "agent_call_sid", agentLeg.Sid)
	return Result{
		Success:        true,
		AgentCallSid:   agentLeg.Sid,
		TransferNumber: number,
		ClientID:       tenant.ClientID,
	}
}

// resolveTenant checks the live session first and falls back to the
// correlation table, which is authoritative.
func (d *Dispatcher) resolveTenant(ctx context.Context, callSid string) (tenants.Tenant, error) {
	tenantID := ""
	if d.sessions != nil {
		if st, ok, err := d.sessions.Get(ctx, callSid); err == nil && ok {
			tenantID = st.TenantID
		}
	}
	if tenantID == "" {
		c, err := d.writer.Resolve(ctx, callSid)
		if err != nil {
			return tenants.Tenant{}, err
		}
		tenantID = c.TenantID
	}
	if tenantID == "" {
		return tenants.Tenant{}, errors.New("call has no tenant")
	}
	return d.tenants.Get(ctx, tenantID)
}
