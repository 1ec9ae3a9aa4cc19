package archive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Line is one utterance in a conversation.
type Line struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Transcript is the archived record of one call.
type Transcript struct {
	TenantID       string    `json:"clientId"`
	CallSid        string    `json:"callSid"`
	AgentID        string    `json:"agentId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Direction      string    `json:"direction"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	Lines          []Line    `json:"lines"`
}

// Text renders the transcript as "speaker: text" lines.
func (t Transcript) Text() string {
	var b strings.Builder
	for i, l := range t.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Speaker)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}

// Archiver stores finished transcripts and returns where they went.
type Archiver interface {
	Store(ctx context.Context, t Transcript) (string, error)
}

// Nop archives nothing.
type Nop struct{}

func (Nop) Store(context.Context, Transcript) (string, error) { return "", nil }

// Key is the object key for a transcript.
func Key(t Transcript) string {
	tenant := t.TenantID
	if tenant == "" {
		tenant = "unassigned"
	}
	return fmt.Sprintf("transcripts/%s/%s/%s.json", tenant, t.StartedAt.UTC().Format("2006/01"), t.CallSid)
}
