package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voice-relay/internal/archive"
	"voice-relay/internal/calls"
	"voice-relay/internal/dispatch"
	"voice-relay/internal/events"
	"voice-relay/internal/reporting"
	"voice-relay/internal/session"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/telemetry"

	"github.com/gorilla/websocket"
)

type TenantGetter interface {
	Get(ctx context.Context, clientID string) (tenants.Tenant, error)
}

// ToolDispatcher runs tool calls made by the voice agent.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, inv dispatch.Invocation) dispatch.Result
}

// CallCounter receives one increment per finished call.
type CallCounter interface {
	IncrementCall(ctx context.Context, inc reporting.Increment) (reporting.Entry, error)
}

type Config struct {
	// Context bounds every call; cancelling it closes all live calls.
	Context context.Context

	Sessions session.Store
	Writer   *calls.Writer
	Tenants  TenantGetter
	Tools    ToolDispatcher
	Counter  CallCounter
	Dialer   VendorDialer
	Archiver archive.Archiver
	Events   events.Publisher
	Metrics  *telemetry.Metrics

	// DefaultAgentID is used when a call resolves to no agent.
	DefaultAgentID string
}

// Relay bridges carrier media streams to voice-AI conversations. One Relay
// serves every call; each call runs in its own Serve invocation.
type Relay struct {
	cfg Config
	wg  sync.WaitGroup

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func New(cfg Config) *Relay {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Archiver == nil {
		cfg.Archiver = archive.Nop{}
	}
	return &Relay{cfg: cfg, clock: time.Now}
}

func (r *Relay) root() context.Context {
	if r.cfg.Context == nil {
		return context.Background()
	}
	return r.cfg.Context
}

// Wait blocks until every call being served has finished.
func (r *Relay) Wait() { r.wg.Wait() }

type event struct {
	kind eventKind
	raw  []byte
	err  error

	start   *carrierStart
	payload string

	vendor Conn

	inv    dispatch.Invocation
	result dispatch.Result
}

// call is the per-call state. It is owned by the goroutine running Serve;
// reader goroutines only post events.
type call struct {
	r   *Relay
	ctx context.Context
	log *slog.Logger

	state     State
	direction calls.Direction
	events    chan event
	done      chan struct{}

	carrier *socket
	vendor  *socket

	streamSid      string
	callSid        string
	tenantID       string
	agentID        string
	conversationID string
	params         map[string]string
	startedAt      time.Time
	counted        bool

	// queue holds caller audio received before the vendor socket is ready.
	queue       []string
	pendingInit vendorInit
	transcript  []archive.Line

	// pending tracks dial and tool goroutines that may still post events.
	pending sync.WaitGroup
}

// Serve relays one carrier media stream until either side goes away or ctx
// is cancelled. It returns once the call is Closed.
func (r *Relay) Serve(ctx context.Context, carrier Conn, dir calls.Direction) {
	r.wg.Add(1)
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)

	c := &call{
		r:         r,
		ctx:       ctx,
		log:       logger.From(ctx).With("direction", string(dir)),
		state:     AwaitingStreamStart,
		direction: dir,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		carrier:   &socket{Conn: carrier},
		startedAt: r.clock().UTC(),
	}
	defer c.settle(cancel)
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("relay panicked", "panic", p, "state", c.state.String())
			c.abort()
		}
	}()

	go c.read(c.carrier, evCarrierFrame, evCarrierClosed)

	for c.state != Closed {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-ctx.Done():
			c.handle(event{kind: evCarrierClosed, err: ctx.Err()})
		}
	}
}

// settle waits out background goroutines once the call is Closed and closes
// any vendor socket that was delivered too late to be used.
func (c *call) settle(cancel context.CancelFunc) {
	cancel()
	c.pending.Wait()
	for {
		select {
		case ev := <-c.events:
			if ev.vendor != nil {
				_ = ev.vendor.Close()
			}
		default:
			return
		}
	}
}

func (c *call) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *call) read(conn Conn, msg, closed eventKind) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(event{kind: closed, err: err})
			return
		}
		if !c.post(event{kind: msg, raw: data}) {
			return
		}
	}
}

func (c *call) handle(ev event) {
	if ev.kind == evCarrierFrame {
		decoded, ok := c.decodeCarrier(ev.raw)
		if !ok {
			return
		}
		ev = decoded
	}
	c.step(ev)
}

func (c *call) decodeCarrier(raw []byte) (event, bool) {
	var m carrierMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warn("malformed carrier frame dropped", "err", err)
		return event{}, false
	}
	switch m.Event {
	case "start":
		if m.Start == nil {
			c.log.Warn("start frame without start block dropped")
			return event{}, false
		}
		return event{kind: evStart, start: m.Start}, true
	case "media":
		if m.Media == nil {
			return event{}, false
		}
		return event{kind: evMedia, payload: m.Media.Payload}, true
	case "stop":
		return event{kind: evStop}, true
	default:
		c.log.Debug("carrier frame ignored", "event", m.Event)
		return event{}, false
	}
}

// step applies one event to the state machine.
func (c *call) step(ev event) {
	to, ok := next(c.state, ev.kind)
	if !ok {
		c.reject(ev)
		return
	}
	from := c.state
	c.state = to

	switch ev.kind {
	case evStart:
		c.onStart(ev.start)
	case evMedia:
		c.onCallerAudio(ev.payload)
	case evVendorOpened:
		c.onVendorOpened(ev.vendor)
	case evVendorFailed:
		c.onVendorFailed(ev.err)
	case evVendorMessage:
		c.onVendorMessage(ev.raw)
	case evToolResult:
		c.writeVendor(dispatch.Response(ev.inv, ev.result))
	case evStop, evCarrierClosed, evVendorClosed:
		c.log.Info("call ending", "trigger", ev.kind.String(), "from", from.String(), "err", ev.err)
	}

	if c.state == Closing {
		c.finish()
		c.state = Closed
		close(c.done)
	}
}

func (c *call) reject(ev event) {
	c.log.Warn("event rejected", "state", c.state.String(), "event", ev.kind.String())
	c.r.cfg.Metrics.EventRejected(c.state.String(), ev.kind.String())
	if ev.vendor != nil {
		_ = ev.vendor.Close()
	}
}

/* ===================== CARRIER SIDE ===================== */

func (c *call) onStart(s *carrierStart) {
	c.streamSid = s.StreamSid
	c.callSid = s.CallSid
	c.params = s.CustomParameters
	if c.params == nil {
		c.params = map[string]string{}
	}
	c.log = logger.ForCall(c.log, c.callSid, c.streamSid)
	c.log.Info("media stream started")

	callerNumber := c.resolveOwner()
	c.r.cfg.Metrics.CallStarted(string(c.direction))
	c.counted = true
	c.saveSession()
	c.publish(events.CallStarted, 0)

	c.pendingInit = c.buildInit(callerNumber)
	agentID := c.agentID
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		conn, err := c.r.cfg.Dialer.Dial(c.ctx, agentID)
		ev := event{kind: evVendorOpened, vendor: conn}
		if err != nil {
			ev = event{kind: evVendorFailed, err: err}
		}
		if !c.post(ev) && conn != nil {
			_ = conn.Close()
		}
	}()
}

// resolveOwner fills tenantID and agentID and makes sure a history entry
// exists. It returns the remote party's number when known.
func (c *call) resolveOwner() string {
	ctx := c.ctx
	cfg := c.r.cfg

	c.tenantID = c.params["clientId"]
	c.agentID = c.params["agentId"]

	corr, err := cfg.Writer.Resolve(ctx, c.callSid)
	if err == nil {
		if c.tenantID == "" {
			c.tenantID = corr.TenantID
		}
		if c.agentID == "" {
			c.agentID = corr.AgentID
		}
	} else if !errors.Is(err, calls.ErrNotFound) {
		c.log.Warn("correlation lookup failed", "err", err)
	}

	if c.agentID == "" && c.tenantID != "" && cfg.Tenants != nil {
		if t, err := cfg.Tenants.Get(ctx, c.tenantID); err == nil {
			c.agentID = t.AgentID
		}
	}
	if c.agentID == "" {
		c.agentID = cfg.DefaultAgentID
	}

	callerNumber := c.params["phone"]
	if c.tenantID == "" {
		c.log.Warn("call has no tenant; relaying without a history entry")
		return callerNumber
	}
	entry, _, err := cfg.Writer.RecordStart(ctx, calls.StartRecord{
		TenantID:  c.tenantID,
		CallSid:   c.callSid,
		RequestID: c.params["requestId"],
		Phone:     callerNumber,
		AgentID:   c.agentID,
		Direction: c.direction,
		Status:    calls.StatusFollowUp,
		StartTime: c.startedAt,
	})
	if err != nil {
		c.log.Error("record call start failed", "err", err)
		return callerNumber
	}
	if entry.CallData.Phone != "" {
		callerNumber = entry.CallData.Phone
	}
	return callerNumber
}

func (c *call) buildInit(callerNumber string) vendorInit {
	init := vendorInit{Type: vendorInitType}
	if c.direction == calls.DirectionOutbound {
		vars := map[string]string{}
		for _, k := range []string{"full_name", "business_name", "city", "job_title", "email", "phone"} {
			if v := c.params[k]; v != "" {
				vars[k] = v
			}
		}
		init.DynamicVariables = vars
		greeting := c.params["first_message"]
		if greeting == "" {
			greeting = defaultGreeting
		}
		init.Override = &configOverride{Agent: agentOverride{FirstMessage: greeting}}
		return init
	}
	init.DynamicVariables = map[string]string{
		"call_sid":      c.callSid,
		"caller_number": callerNumber,
		"client_id":     c.tenantID,
	}
	return init
}

func (c *call) onCallerAudio(payload string) {
	m := c.r.cfg.Metrics
	switch {
	case c.state == AwaitingVendorReady:
		c.queue = append(c.queue, payload)
		m.Frame(carrierToVendor, frameQueued)
	case c.vendor == nil:
		m.Frame(carrierToVendor, frameDropped)
	default:
		if c.writeVendor(userAudio{Chunk: payload}) {
			m.Frame(carrierToVendor, frameForwarded)
		}
	}
}

func (c *call) writeCarrier(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode carrier frame", "err", err)
		return false
	}
	if err := c.carrier.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Warn("carrier write failed", "err", err)
		// The reader sees the closed socket and ends the call.
		_ = c.carrier.Close()
		return false
	}
	return true
}

/* ===================== VENDOR SIDE ===================== */

func (c *call) onVendorOpened(conn Conn) {
	c.vendor = &socket{Conn: conn}
	c.log.Info("voice-ai socket open", "agent_id", c.agentID)

	c.writeVendor(c.pendingInit)
	queued := c.queue
	c.queue = nil
	for _, p := range queued {
		if c.writeVendor(userAudio{Chunk: p}) {
			c.r.cfg.Metrics.Frame(carrierToVendor, frameForwarded)
		}
	}
	c.saveSession()
	go c.read(c.vendor, evVendorMessage, evVendorClosed)
}

func (c *call) onVendorFailed(err error) {
	c.r.cfg.Metrics.VendorDialFailed()
	c.log.Error("voice-ai socket unavailable; continuing without agent", "err", err, "agent_id", c.agentID, "discarded_frames", len(c.queue))
	for range c.queue {
		c.r.cfg.Metrics.Frame(carrierToVendor, frameDropped)
	}
	c.queue = nil
	c.saveSession()
}

func (c *call) writeVendor(v any) bool {
	if c.vendor == nil {
		c.log.Debug("no voice-ai socket; frame dropped")
		return false
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode voice-ai frame", "err", err)
		return false
	}
	if err := c.vendor.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Warn("voice-ai write failed", "err", err)
		_ = c.vendor.Close()
		return false
	}
	return true
}

func (c *call) onVendorMessage(raw []byte) {
	var m vendorMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warn("malformed voice-ai frame dropped", "err", err)
		return
	}
	metrics := c.r.cfg.Metrics

	switch m.Type {
	case "conversation_initiation_metadata":
		if m.Metadata == nil || m.Metadata.ConversationID == "" {
			return
		}
		c.conversationID = m.Metadata.ConversationID
		if err := c.r.cfg.Writer.RecordConversation(c.ctx, c.callSid, c.conversationID); err != nil {
			c.log.Warn("record conversation id failed", "err", err)
		}

	case "audio":
		if m.AudioEvent == nil || m.AudioEvent.Audio == "" {
			return
		}
		if c.streamSid == "" {
			c.log.Warn("agent audio before stream id; dropped")
			metrics.Frame(vendorToCarrier, frameDropped)
			return
		}
		if c.writeCarrier(carrierOutMedia{Event: "media", StreamSid: c.streamSid, Media: carrierMedia{Payload: m.AudioEvent.Audio}}) {
			metrics.Frame(vendorToCarrier, frameForwarded)
		}

	case "interruption":
		if c.streamSid != "" {
			c.writeCarrier(carrierClear{Event: "clear", StreamSid: c.streamSid})
		}

	case "ping":
		if m.PingEvent == nil || len(m.PingEvent.EventID) == 0 {
			return
		}
		c.writeVendor(pong{Type: "pong", EventID: m.PingEvent.EventID})

	case "agent_response":
		if m.AgentResponse != nil && m.AgentResponse.Text != "" {
			c.appendLine(speakerAgent, m.AgentResponse.Text)
		}

	case "user_transcript":
		if m.UserTranscript != nil && m.UserTranscript.Text != "" {
			c.appendLine(speakerCaller, m.UserTranscript.Text)
		}

	case "client_tool_call":
		if m.ClientToolCall == nil {
			return
		}
		c.runTool(dispatch.Invocation{
			Variant: dispatch.VariantClientTool,
			ID:      m.ClientToolCall.ToolCallID,
			Tool:    m.ClientToolCall.ToolName,
			Number:  m.ClientToolCall.Parameters.PhoneNumber,
			CallSid: c.callSid,
		})

	case "tool_request":
		if m.ToolRequest == nil {
			return
		}
		c.runTool(dispatch.Invocation{
			Variant: dispatch.VariantToolRequest,
			ID:      m.ToolRequest.EventID,
			Tool:    m.ToolRequest.ToolName,
			Number:  m.ToolRequest.Params.AgentNumber,
			CallSid: c.callSid,
		})

	default:
		c.log.Debug("voice-ai frame ignored", "type", m.Type)
	}
}

func (c *call) appendLine(speaker, text string) {
	c.log.Debug("transcript", "speaker", speaker, "text", text)
	c.transcript = append(c.transcript, archive.Line{Speaker: speaker, Text: text, At: c.r.clock().UTC()})
}

// runTool dispatches off the call goroutine so audio and keepalives keep
// flowing; the result comes back as an event.
func (c *call) runTool(inv dispatch.Invocation) {
	c.log.Info("tool call received", "tool", inv.Tool, "id", inv.ID)
	if c.r.cfg.Tools == nil {
		c.writeVendor(dispatch.Response(inv, dispatch.Result{Error: "Tool calls are not available"}))
		return
	}
	ctx := logger.With(c.ctx, c.log)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		res := c.r.cfg.Tools.Dispatch(ctx, inv)
		c.post(event{kind: evToolResult, inv: inv, result: res})
	}()
}

/* ===================== TEARDOWN ===================== */

// finish runs the Closing actions. Storage writes use a context that
// outlives cancellation of the call.
func (c *call) finish() {
	ctx := context.WithoutCancel(c.ctx)
	cfg := c.r.cfg
	end := c.r.clock().UTC()

	c.closeSockets()
	if c.counted {
		cfg.Metrics.CallEnded()
	}
	if c.callSid == "" {
		c.log.Info("call closed before stream start")
		return
	}
	if cfg.Sessions != nil {
		if err := cfg.Sessions.Remove(ctx, c.callSid); err != nil {
			c.log.Warn("session remove failed", "err", err)
		}
	}

	t := archive.Transcript{
		TenantID:       c.tenantID,
		CallSid:        c.callSid,
		AgentID:        c.agentID,
		ConversationID: c.conversationID,
		Direction:      string(c.direction),
		StartedAt:      c.startedAt,
		EndedAt:        end,
		Lines:          c.transcript,
	}

	entry, ok, err := cfg.Writer.RecordStop(ctx, c.callSid, end, t.Text())
	if err != nil {
		c.log.Error("record call stop failed", "err", err)
	}
	duration := calls.Duration(c.startedAt, end)
	if ok {
		duration = entry.CallData.Duration
		c.count(ctx, entry)
	}

	if len(t.Lines) > 0 {
		url, err := cfg.Archiver.Store(ctx, t)
		if err != nil {
			c.log.Warn("transcript archive failed", "err", err)
		} else if url != "" && ok {
			if err := cfg.Writer.RecordTranscriptURL(ctx, entry.TenantID, c.callSid, url); err != nil {
				c.log.Warn("record transcript url failed", "err", err)
			}
		}
	}

	c.publish(events.CallEnded, duration)
	c.log.Info("call closed", "duration", duration, "transcript_lines", len(t.Lines))
}

func (c *call) count(ctx context.Context, e calls.Entry) {
	if c.r.cfg.Counter == nil {
		return
	}
	agentID := e.CallData.AgentID
	if agentID == "" {
		agentID = c.agentID
	}
	if agentID == "" {
		return
	}
	_, err := c.r.cfg.Counter.IncrementCall(ctx, reporting.Increment{
		TenantID:  e.TenantID,
		AgentID:   agentID,
		Direction: string(e.CallData.Direction),
		Duration:  e.CallData.Duration,
		Booked:    e.CallData.IsBookingSuccessful,
		At:        e.CallData.StartTime,
	})
	if err != nil {
		c.log.Warn("agent metrics increment failed", "err", err)
	}
}

func (c *call) closeSockets() {
	if c.vendor != nil {
		_ = c.vendor.Close()
	}
	_ = c.carrier.Close()
}

// abort tears down after a panic without touching storage.
func (c *call) abort() {
	c.closeSockets()
	if c.state != Closed {
		c.state = Closed
		close(c.done)
	}
}

func (c *call) saveSession() {
	if c.r.cfg.Sessions == nil || c.callSid == "" {
		return
	}
	now := c.r.clock().UTC()
	err := c.r.cfg.Sessions.Put(c.ctx, session.State{
		CallSid:   c.callSid,
		StreamSid: c.streamSid,
		TenantID:  c.tenantID,
		AgentID:   c.agentID,
		Direction: string(c.direction),
		Status:    c.state.String(),
		StartedAt: c.startedAt,
		UpdatedAt: now,
	})
	if err != nil {
		c.log.Warn("session save failed", "err", err)
	}
}

func (c *call) publish(typ string, duration int) {
	ev := events.Event{
		Type:       typ,
		CallSid:    c.callSid,
		TenantID:   c.tenantID,
		AgentID:    c.agentID,
		Direction:  string(c.direction),
		Duration:   duration,
		OccurredAt: c.r.clock().UTC(),
	}
	if err := c.r.cfg.Events.Publish(context.WithoutCancel(c.ctx), ev); err != nil {
		c.log.Warn("publish event failed", "type", typ, "err", err)
	}
}
