package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sampleTranscript() Transcript {
	start := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	return Transcript{
		TenantID:  "loc-1",
		CallSid:   "CA1",
		Direction: "inbound",
		StartedAt: start,
		EndedAt:   start.Add(2 * time.Minute),
		Lines: []Line{
			{Speaker: "agent", Text: "Hi, how can I help?"},
			{Speaker: "user", Text: "I'd like to book a call."},
		},
	}
}

func TestKeyAndText(t *testing.T) {
	tr := sampleTranscript()
	if got := Key(tr); got != "transcripts/loc-1/2026/10/CA1.json" {
		t.Fatalf("unexpected key %q", got)
	}
	tr.TenantID = ""
	if got := Key(tr); got != "transcripts/unassigned/2026/10/CA1.json" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := tr.Text(); got != "agent: Hi, how can I help?\nuser: I'd like to book a call." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestNewS3_RequiresConfig(t *testing.T) {
	if _, err := NewS3(S3Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	if _, err := NewS3(S3Config{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
}

func TestS3Archiver_Store(t *testing.T) {
	var gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3(S3Config{Bucket: "transcripts", Region: "us-east-1", Endpoint: srv.URL, AccessKey: "k", SecretKey: "s", PathStyle: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	url, err := a.Store(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if url != "s3://transcripts/transcripts/loc-1/2026/10/CA1.json" {
		t.Fatalf("unexpected url %q", url)
	}
	if gotPath != "/transcripts/transcripts/loc-1/2026/10/CA1.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotType != "application/json" {
		t.Fatalf("unexpected content type %q", gotType)
	}
}
