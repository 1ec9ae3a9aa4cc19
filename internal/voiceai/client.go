package voiceai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-relay/pkg/telemetry"
)

var ErrNoAgent = errors.New("voiceai: agent id required")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the voice-AI vendor's REST surface: signed socket URLs for
// conversations and the conversation log used for metric sync.
type Client struct {
	http    *resty.Client
	metrics *telemetry.Metrics
}

func NewClient(cfg Config, m *telemetry.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("xi-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)
	return &Client{http: h, metrics: m}
}

// SignedURL returns a one-off websocket URL for a conversation with agentID.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", ErrNoAgent
	}
	defer c.metrics.TrackUpstream("voiceai", "signed_url")()

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("agent_id", agentID).
		SetResult(&out).
		Get("/v1/convai/conversation/get_signed_url")
	if err != nil {
		return "", fmt.Errorf("voiceai signed url request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("voiceai signed url error: status %s, body: %s", resp.Status(), resp.String())
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("voiceai signed url: empty signed_url")
	}
	return out.SignedURL, nil
}

type Conversation struct {
	ConversationID   string `json:"conversation_id"`
	AgentID          string `json:"agent_id"`
	StartTimeUnix    int64  `json:"start_time_unix_secs"`
	CallDurationSecs int    `json:"call_duration_secs"`
	MessageCount     int    `json:"message_count"`
	Status           string `json:"status"`
	CallSuccessful   string `json:"call_successful"`
	Direction        string `json:"direction,omitempty"`
}

type ConversationQuery struct {
	AgentID  string
	After    time.Time
	Before   time.Time
	Cursor   string
	PageSize int
}

type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
	NextCursor    string         `json:"next_cursor"`
}

func (c *Client) ListConversations(ctx context.Context, q ConversationQuery) (ConversationPage, error) {
	defer c.metrics.TrackUpstream("voiceai", "list_conversations")()

	if q.PageSize <= 0 {
		q.PageSize = 100
	}
	params := map[string]string{"page_size": strconv.Itoa(q.PageSize)}
	if q.AgentID != "" {
		params["agent_id"] = q.AgentID
	}
	if q.Cursor != "" {
		params["cursor"] = q.Cursor
	}
	if !q.After.IsZero() {
		params["call_start_after_unix"] = strconv.FormatInt(q.After.Unix(), 10)
	}
	if !q.Before.IsZero() {
		params["call_start_before_unix"] = strconv.FormatInt(q.Before.Unix(), 10)
	}

	var page ConversationPage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&page).
		Get("/v1/convai/conversations")
	if err != nil {
		return ConversationPage{}, fmt.Errorf("voiceai conversations request failed: %w", err)
	}
	if resp.IsError() {
		return ConversationPage{}, fmt.Errorf("voiceai conversations error: status %s, body: %s", resp.Status(), resp.String())
	}
	return page, nil
}

// maxPages bounds pagination in case the vendor keeps returning a cursor.
const maxPages = 100

// AllConversations follows next_cursor until the listing is exhausted.
func (c *Client) AllConversations(ctx context.Context, q ConversationQuery) ([]Conversation, error) {
	var out []Conversation
	for i := 0; i < maxPages; i++ {
		page, err := c.ListConversations(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Conversations...)
		if page.NextCursor == "" || (!page.HasMore && len(page.Conversations) == 0) {
			break
		}
		q.Cursor = page.NextCursor
	}
	return out, nil
}

// MonthConversations lists one agent's conversations started in the given
// calendar month (UTC).
func (c *Client) MonthConversations(ctx context.Context, agentID string, year int, month time.Month) ([]Conversation, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return c.AllConversations(ctx, ConversationQuery{
		AgentID: agentID,
		After:   start,
		Before:  start.AddDate(0, 1, 0),
	})
}
