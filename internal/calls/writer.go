package calls

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"voice-relay/pkg/logger"

	"github.com/google/uuid"
)

// Writer records call lifecycle transitions into call history.
//
// Writes against calls that were never started (or belong to no tenant) are
// skipped and logged at debug; they are not errors for the caller.
type Writer struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewWriter(repo Repository) *Writer {
	return &Writer{repo: repo, clock: time.Now}
}

// StartRecord describes a call as first seen by a webhook or the relay.
type StartRecord struct {
	TenantID       string
	CallSid        string
	RequestID      string
	Phone          string
	From           string
	AgentID        string
	Direction      Direction
	Status         string
	Summary        string
	AdminInitiated bool
	StartTime      time.Time
}

// RecordStart inserts the entry and its correlation. The boolean is false when
// the call was already recorded, in which case the stored entry is returned.
func (w *Writer) RecordStart(ctx context.Context, r StartRecord) (Entry, bool, error) {
	if r.TenantID == "" || strings.TrimSpace(r.CallSid) == "" {
		return Entry{}, false, ErrInvalidArgument
	}
	now := w.clock().UTC()
	start := r.StartTime
	if start.IsZero() {
		start = now
	}
	if r.Direction == "" {
		r.Direction = DirectionInbound
	}

	e := Entry{
		CallID:   "call_" + uuid.NewString(),
		TenantID: r.TenantID,
		CallData: Data{
			CallSid:        r.CallSid,
			RequestID:      r.RequestID,
			Phone:          r.Phone,
			From:           r.From,
			AgentID:        r.AgentID,
			Direction:      r.Direction,
			StartTime:      start.UTC(),
			Status:         r.Status,
			AdminInitiated: r.AdminInitiated,
		},
		Details:   Details{CallSummary: r.Summary},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := w.repo.Insert(ctx, e)
	if errors.Is(err, ErrDuplicate) {
		existing, gerr := w.repo.Get(ctx, r.TenantID, r.CallSid)
		if gerr != nil {
			return Entry{}, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("record call start: %w", err)
	}
	return e, true, nil
}

// Resolve returns the tenant owning a carrier call id.
func (w *Writer) Resolve(ctx context.Context, callSid string) (Correlation, error) {
	if callSid == "" {
		return Correlation{}, ErrNotFound
	}
	return w.repo.Correlation(ctx, callSid)
}

// Lookup returns the history entry for a carrier call id.
func (w *Writer) Lookup(ctx context.Context, callSid string) (Entry, error) {
	c, err := w.Resolve(ctx, callSid)
	if err != nil {
		return Entry{}, err
	}
	return w.repo.Get(ctx, c.TenantID, callSid)
}

// RecordStop marks the call as hung up and stores the floored duration in
// seconds. ok is false when the call is unknown.
func (w *Writer) RecordStop(ctx context.Context, callSid string, end time.Time, transcript string) (Entry, bool, error) {
	e, err := w.Lookup(ctx, callSid)
	if errors.Is(err, ErrNotFound) {
		logger.From(ctx).Debug("call stop skipped; no history entry", "call_sid", callSid)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	end = end.UTC()
	dur := Duration(e.CallData.StartTime, end)
	p := Patch{
		Status:   ptr(StatusHangUp),
		EndTime:  &end,
		Duration: &dur,
	}
	if transcript != "" {
		p.CallTranscript = &transcript
	}
	if err := w.update(ctx, e.TenantID, callSid, p); err != nil {
		return Entry{}, false, err
	}

	e.CallData.Status = StatusHangUp
	e.CallData.EndTime = &end
	e.CallData.Duration = dur
	if transcript != "" {
		e.Details.CallTranscript = transcript
	}
	return e, true, nil
}

// StatusUpdate is a carrier status callback.
type StatusUpdate struct {
	TenantID string
	CallSid  string
	Status   string
	Duration string
}

// RecordStatus applies a carrier status callback. Completed calls also get an end time.
func (w *Writer) RecordStatus(ctx context.Context, u StatusUpdate) error {
	if u.CallSid == "" || u.Status == "" {
		return ErrInvalidArgument
	}
	tenantID := u.TenantID
	if tenantID == "" {
		c, err := w.Resolve(ctx, u.CallSid)
		if errors.Is(err, ErrNotFound) {
			logger.From(ctx).Debug("status callback skipped; uncorrelated call", "call_sid", u.CallSid)
			return nil
		}
		if err != nil {
			return err
		}
		tenantID = c.TenantID
	}

	p := Patch{Status: &u.Status}
	if d, ok := parseDuration(u.Duration); ok {
		p.Duration = &d
	}
	if u.Status == StatusCompleted {
		end := w.clock().UTC()
		p.EndTime = &end
	}
	return w.update(ctx, tenantID, u.CallSid, p)
}

// RecordTransfer marks a call as handed to a human agent.
func (w *Writer) RecordTransfer(ctx context.Context, tenantID, callSid, number string) error {
	outcome := StatusBookedAppointment
	summary := "Call transferred to agent at " + number
	next := "agent_followup"
	sentiment := SentimentPositive
	return w.update(ctx, tenantID, callSid, Patch{
		CallOutcome:   &outcome,
		CallSummary:   &summary,
		NextAction:    &next,
		CallSentiment: &sentiment,
	})
}

// RecordConversation stores the voice vendor's conversation id.
func (w *Writer) RecordConversation(ctx context.Context, callSid, conversationID string) error {
	c, err := w.Resolve(ctx, callSid)
	if errors.Is(err, ErrNotFound) {
		logger.From(ctx).Debug("conversation id skipped; uncorrelated call", "call_sid", callSid)
		return nil
	}
	if err != nil {
		return err
	}
	return w.update(ctx, c.TenantID, callSid, Patch{ConversationID: &conversationID})
}

// RecordTranscriptURL stores the archive location of a call transcript.
func (w *Writer) RecordTranscriptURL(ctx context.Context, tenantID, callSid, url string) error {
	return w.update(ctx, tenantID, callSid, Patch{TranscriptURL: &url})
}

// RecordBooking marks a call as having produced an appointment.
func (w *Writer) RecordBooking(ctx context.Context, tenantID, callSid string) error {
	status := StatusBookedAppointment
	return w.update(ctx, tenantID, callSid, Patch{
		Status:              &status,
		IsBookingSuccessful: ptr(true),
		CallOutcome:         &status,
	})
}

func (w *Writer) update(ctx context.Context, tenantID, callSid string, p Patch) error {
	err := w.repo.Update(ctx, tenantID, callSid, p, w.clock().UTC())
	if errors.Is(err, ErrNotFound) {
		logger.From(ctx).Debug("call update skipped; no history entry", "call_sid", callSid, "tenant_id", tenantID)
		return nil
	}
	return err
}

// Duration is the whole number of seconds between start and end, floored.
func Duration(start, end time.Time) int {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int(math.Floor(end.Sub(start).Seconds()))
}

func parseDuration(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
