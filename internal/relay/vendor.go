package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-relay/internal/voiceai"

	"github.com/gorilla/websocket"
)

// Conn is one side of a relayed call. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// VendorDialer opens the voice-AI conversation socket for an agent.
type VendorDialer interface {
	Dial(ctx context.Context, agentID string) (Conn, error)
}

// SignedURLSource issues short-lived conversation URLs.
type SignedURLSource interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// SignedURLDialer asks the voice-AI API for a signed URL and dials it.
type SignedURLDialer struct {
	URLs   SignedURLSource
	Dialer *websocket.Dialer
}

func NewSignedURLDialer(urls SignedURLSource) *SignedURLDialer {
	return &SignedURLDialer{
		URLs: urls,
		Dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *SignedURLDialer) Dial(ctx context.Context, agentID string) (Conn, error) {
	if agentID == "" {
		return nil, voiceai.ErrNoAgent
	}
	url, err := d.URLs.SignedURL(ctx, agentID)
	if err != nil {
		return nil, err
	}
	conn, _, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice-ai socket: %w", err)
	}
	return conn, nil
}

// socket makes Close idempotent.
type socket struct {
	Conn
	once sync.Once
}

func (s *socket) Close() error {
	var err error
	s.once.Do(func() { err = s.Conn.Close() })
	return err
}
