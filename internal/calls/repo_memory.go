package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu           sync.Mutex
	entries      []Entry
	correlations map[string]Correlation
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{correlations: map[string]Correlation{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.entries {
		if ex.TenantID == e.TenantID && ex.CallData.CallSid == e.CallData.CallSid {
			return ErrDuplicate
		}
	}
	r.entries = append(r.entries, e)
	if _, ok := r.correlations[e.CallData.CallSid]; !ok {
		r.correlations[e.CallData.CallSid] = Correlation{
			CallSid:   e.CallData.CallSid,
			TenantID:  e.TenantID,
			AgentID:   e.CallData.AgentID,
			Direction: e.CallData.Direction,
			CreatedAt: e.CreatedAt,
		}
	}
	return nil
}

func (r *MemoryRepo) Correlation(ctx context.Context, callSid string) (Correlation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.correlations[callSid]
	if !ok {
		return Correlation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, callSid string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TenantID == tenantID && e.CallData.CallSid == callSid {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) Update(ctx context.Context, tenantID, callSid string, p Patch, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.TenantID == tenantID && e.CallData.CallSid == callSid {
			applyPatch(&r.entries[i], p)
			r.entries[i].UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range r.entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CallData.StartTime.After(out[j].CallData.StartTime)
	})
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Entry{}, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MemoryRepo) Stats(ctx context.Context, tenantID string, recentSince time.Time) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{ByOutcome: map[string]int{}, ByStatus: map[string]int{}}
	for _, e := range r.entries {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		s.Total++
		if !e.CallData.StartTime.Before(recentSince) {
			s.Recent++
		}
		if e.Details.CallOutcome != "" {
			s.ByOutcome[e.Details.CallOutcome]++
		}
		if e.CallData.Status != "" {
			s.ByStatus[e.CallData.Status]++
		}
	}
	return s, nil
}

func matches(e Entry, f ListFilter) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.AgentID != "" && e.CallData.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && e.CallData.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.CallData.StartTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CallData.StartTime.Before(f.Until) {
		return false
	}
	return true
}

func applyPatch(e *Entry, p Patch) {
	if p.Status != nil {
		e.CallData.Status = *p.Status
	}
	if p.EndTime != nil {
		end := *p.EndTime
		e.CallData.EndTime = &end
	}
	if p.Duration != nil {
		e.CallData.Duration = *p.Duration
	}
	if p.ConversationID != nil {
		e.CallData.ConversationID = *p.ConversationID
	}
	if p.IsBookingSuccessful != nil {
		e.CallData.IsBookingSuccessful = *p.IsBookingSuccessful
	}
	if p.CallOutcome != nil {
		e.Details.CallOutcome = *p.CallOutcome
	}
	if p.CallSummary != nil {
		e.Details.CallSummary = *p.CallSummary
	}
	if p.CallTranscript != nil {
		e.Details.CallTranscript = *p.CallTranscript
	}
	if p.CallSentiment != nil {
		e.Details.CallSentiment = *p.CallSentiment
	}
	if p.NextAction != nil {
		e.Details.NextAction = *p.NextAction
	}
	if p.TranscriptURL != nil {
		e.Details.TranscriptURL = *p.TranscriptURL
	}
}
