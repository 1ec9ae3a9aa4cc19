package relay

import (
	"net/http"

	"voice-relay/internal/calls"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// The carrier connects from its own media infrastructure, so origins are not
// checked; the stream is bound to a call by the start frame's callSid.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleInbound upgrades an inbound media-stream request and relays it.
func (r *Relay) HandleInbound(c *gin.Context) { r.serveHTTP(c, calls.DirectionInbound) }

// HandleOutbound upgrades an outbound media-stream request and relays it.
func (r *Relay) HandleOutbound(c *gin.Context) { r.serveHTTP(c, calls.DirectionOutbound) }

func (r *Relay) serveHTTP(c *gin.Context, dir calls.Direction) {
	l := logger.FromGin(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.Warn("media stream upgrade failed", "err", err)
		return
	}
	l.Info("media stream connected", "direction", string(dir))

	// The call must survive the request context; Serve stops on root.
	r.Serve(logger.With(r.root(), l), conn, dir)
}
