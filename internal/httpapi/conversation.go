package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

// handleConversationStream implements GET /api/hooks/conversation/stream?call_id=...:
// an SSE feed of a call's conversation events as the dispatcher produces
// them, backed by internal/pubsub's per-call NATS subject. A heartbeat
// comment keeps intermediary proxies from closing an idle connection,
// per SPEC_FULL.md's SSE supplement.
func (d *Deps) handleConversationStream(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}

	sub, err := d.Publisher.SubscribeCall(callID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer sub.Close()

	streamSSE(c, d.SSEHeartbeat, sub.Messages(), "conversation_event")
}

// handleActivityStream implements GET /api/activity/stream: the global,
// cross-call activity feed.
func (d *Deps) handleActivityStream(c *gin.Context) {
	sub, err := d.Publisher.SubscribeActivity()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer sub.Close()

	streamSSE(c, d.SSEHeartbeat, sub.Messages(), "activity_event")
}

// streamSSE drains msgs onto the response as Server-Sent Events named
// eventName, injecting a ": ping" comment every heartbeat interval so
// idle connections survive intermediary timeouts. Returns when the client
// disconnects (request context cancelled) or the subscription closes.
func streamSSE(c *gin.Context, heartbeat time.Duration, msgs <-chan *nats.Msg, eventName string) {
	ctx := c.Request.Context()
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.SSEvent(eventName, string(msg.Data))
			return true
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			return true
		}
	})
}
