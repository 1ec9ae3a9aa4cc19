package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-relay/internal/calls"
	"voice-relay/internal/events"
	"voice-relay/internal/session"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
)

type fakeCarrier struct {
	mu       sync.Mutex
	call     telephony.Call
	fetchErr error
	updated  map[string]string
	created  []telephony.CreateCallRequest
}

func (f *fakeCarrier) CreateCall(_ context.Context, req telephony.CreateCallRequest) (telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return telephony.Call{Sid: "CA-agent", To: req.To, From: req.From}, nil
}

func (f *fakeCarrier) UpdateCallTwiML(_ context.Context, sid, twiml string) (telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = map[string]string{}
	}
	f.updated[sid] = twiml
	return f.call, nil
}

func (f *fakeCarrier) FetchCall(_ context.Context, sid string) (telephony.Call, error) {
	if f.fetchErr != nil {
		return telephony.Call{}, f.fetchErr
	}
	return f.call, nil
}

func (f *fakeCarrier) SendSMS(context.Context, telephony.SMSRequest) (telephony.Message, error) {
	return telephony.Message{}, nil
}

type fixture struct {
	d       *Dispatcher
	carrier *fakeCarrier
	writer  *calls.Writer
	rec     *events.Recorder
	store   session.Store
	tenants *tenants.Service
}

func newFixture(t *testing.T, contactPhone string) fixture {
	t.Helper()
	ctx := context.Background()
	svc := tenants.NewService(tenants.NewMemoryRepo(), nil)
	if _, err := svc.Create(ctx, tenants.CreateRequest{
		ClientID:          "loc-1",
		CalID:             "cal-1",
		AgentID:           "agent-a",
		TwilioPhoneNumber: "+15550000001",
		ClientMeta:        tenants.ClientMeta{FullName: "Dana Reyes", Email: "dana@example.com", Phone: contactPhone},
	}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	writer := calls.NewWriter(calls.NewMemoryRepo())
	if _, _, err := writer.RecordStart(ctx, calls.StartRecord{TenantID: "loc-1", CallSid: "CA1", Phone: "+15557770000", From: "+15550000001"}); err != nil {
		t.Fatalf("record start: %v", err)
	}

	carrier := &fakeCarrier{call: telephony.Call{Sid: "CA1", From: "+15550000001", To: "+15557770000"}}
	rec := &events.Recorder{}
	store := session.NewMemoryStore(time.Minute)
	d := New(Config{
		Sessions:     store,
		Writer:       writer,
		Tenants:      svc,
		Carrier:      carrier,
		Events:       rec,
		HoldMusicURL: "https://hold.example.com/music.mp3",
	})
	return fixture{d: d, carrier: carrier, writer: writer, rec: rec, store: store, tenants: svc}
}

func TestTransfer_ExplicitNumber(t *testing.T) {
	f := newFixture(t, "+15559990000")
	ctx := context.Background()

	res := f.d.Dispatch(ctx, Invocation{Variant: VariantClientTool, ID: "tc-1", Tool: ToolTransfer, Number: "+15551112222", CallSid: "CA1"})
	if !res.Success || res.TransferNumber != "+15551112222" || res.AgentCallSid != "CA-agent" || res.ClientID != "loc-1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	caller := f.carrier.updated["CA1"]
	if !strings.Contains(caller, "Please hold while we connect you to an agent.") ||
		!strings.Contains(caller, "transfer_CA1") ||
		!strings.Contains(caller, `startConferenceOnEnter="false"`) ||
		!strings.Contains(caller, `waitUrl="https://hold.example.com/music.mp3"`) {
		t.Fatalf("unexpected caller twiml: %s", caller)
	}

	if len(f.carrier.created) != 1 {
		t.Fatalf("expected one agent leg, got %d", len(f.carrier.created))
	}
	leg := f.carrier.created[0]
	if leg.To != "+15551112222" || leg.From != "+15550000001" {
		t.Fatalf("agent leg addressed wrong: %+v", leg)
	}
	if !strings.Contains(leg.TwiML, `startConferenceOnEnter="true"`) ||
		!strings.Contains(leg.TwiML, `endConferenceOnExit="true"`) ||
		!strings.Contains(leg.TwiML, `beep="false"`) {
		t.Fatalf("unexpected agent twiml: %s", leg.TwiML)
	}

	e, err := f.writer.Lookup(ctx, "CA1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e.Details.CallSummary != "Call transferred to agent at +15551112222" ||
		e.Details.NextAction != "agent_followup" ||
		e.Details.CallSentiment != calls.SentimentPositive ||
		e.Details.CallOutcome != calls.StatusBookedAppointment {
		t.Fatalf("unexpected details: %+v", e.Details)
	}

	if got := f.rec.Types(); len(got) != 1 || got[0] != events.CallTransferred {
		t.Fatalf("expected call.transferred event, got %v", got)
	}
}

func TestTransfer_FallsBackToContactPhone(t *testing.T) {
	f := newFixture(t, "+15559990000")

	res := f.d.Transfer(context.Background(), "CA1", "")
	if !res.Success || res.TransferNumber != "+15559990000" {
		t.Fatalf("expected fallback to contact phone, got %+v", res)
	}
	if f.carrier.created[0].To != "+15559990000" {
		t.Fatalf("agent leg dialed %q", f.carrier.created[0].To)
	}
}

func TestTransfer_FailsClosedWithoutNumber(t *testing.T) {
	f := newFixture(t, "+15559990000")
	ctx := context.Background()
	if _, err := f.tenants.Update(ctx, "loc-1", tenants.UpdateRequest{ClientMeta: &tenants.ClientMeta{FullName: "Dana Reyes", Email: "dana@example.com", Phone: " "}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	res := f.d.Transfer(ctx, "CA1", "")
	if res.Success || res.Error != "No transfer number available" {
		t.Fatalf("expected fail-closed, got %+v", res)
	}
	if len(f.carrier.created) != 0 || len(f.carrier.updated) != 0 {
		t.Fatal("carrier must not be touched when there is no destination")
	}
}

func TestTransfer_UnknownCall(t *testing.T) {
	f := newFixture(t, "+15559990000")
	res := f.d.Transfer(context.Background(), "CA-unknown", "+15551112222")
	if res.Success || res.Error != "No matching client found for this call" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTransfer_SessionFastPath(t *testing.T) {
	f := newFixture(t, "+15559990000")
	ctx := context.Background()
	// Live session for a call the history table has not seen yet.
	if err := f.store.Put(ctx, session.State{CallSid: "CA2", TenantID: "loc-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	res := f.d.Transfer(ctx, "CA2", "+15551112222")
	if !res.Success || res.ClientID != "loc-1" {
		t.Fatalf("expected session-resolved transfer, got %+v", res)
	}
}

func TestTransfer_CarrierFailureDoesNotHangUp(t *testing.T) {
	f := newFixture(t, "+15559990000")
	f.carrier.fetchErr = errors.New("carrier down")

	res := f.d.Transfer(context.Background(), "CA1", "+15551112222")
	if res.Success || res.Error != "carrier down" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.carrier.updated) != 0 {
		t.Fatal("caller leg must be left alone on failure")
	}
	if len(f.rec.Events()) != 0 {
		t.Fatal("no event expected on failure")
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	f := newFixture(t, "+15559990000")
	res := f.d.Dispatch(context.Background(), Invocation{Tool: "end_call", CallSid: "CA1"})
	if res.Success || !strings.Contains(res.Error, "end_call") {
		t.Fatalf("expected structured failure, got %+v", res)
	}
}

func TestResponse_Envelopes(t *testing.T) {
	res := Result{Success: true, AgentCallSid: "CA-agent"}

	a := Response(Invocation{Variant: VariantClientTool, ID: "tc-1", Tool: ToolTransfer}, res)
	if a["type"] != "client_tool_response" || a["tool_call_id"] != "tc-1" || a["data"] != res {
		t.Fatalf("unexpected client tool envelope: %v", a)
	}

	b := Response(Invocation{Variant: VariantToolRequest, ID: "ev-9", Tool: ToolTransfer}, res)
	if b["type"] != "tool_response" || b["event_id"] != "ev-9" || b["tool_name"] != ToolTransfer || b["result"] != res {
		t.Fatalf("unexpected tool request envelope: %v", b)
	}
}
