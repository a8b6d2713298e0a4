package controlconn

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/luthienresearch/luthien-proxy/internal/dispatcher"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

// upgrader accepts the callback-side orchestrator's WebSocket connections.
// CheckOrigin always allows: this endpoint is reached server-to-server from
// the callback sidecar, not a browser, per spec.md §6.2/§6.4 — grounded on
// the teacher's internal/deepr/handlers.go upgrader (same permissive stance
// for a server-to-server socket).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS implements spec.md §6.2's server role: upgrade the HTTP request to
// a WebSocket, then loop reading START/CHUNK/END frames from the callback
// side and writing back CHUNK/END/ERROR per frame, driving disp for the
// stream's lifetime. One call per connection — call_id is taken from the
// START frame's Envelope.CallID, matching the orchestrator's client side
// which dials once per call.
func ServeWS(log *logger.Logger, disp *dispatcher.StreamDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer wsConn.Close()

		serveConn(c.Request.Context(), wsConn, disp, log)
	}
}

func serveConn(ctx context.Context, conn *websocket.Conn, disp *dispatcher.StreamDispatcher, log *logger.Logger) {
	var callID, traceID string
	started := false

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if started {
				log.Debug("control-plane websocket closed", "call_id", callID, "error", err)
			}
			return
		}

		switch env.Type {
		case MsgStart:
			callID = env.CallID
			traceID, _ = env.Chunk["trace_id"].(string)
			disp.Start(callID, callID, traceID, env.Chunk)
			started = true

		case MsgChunk:
			result, end, err := disp.Chunk(ctx, callID, env.Chunk)
			if err != nil {
				_ = conn.WriteJSON(Envelope{Type: MsgError, CallID: callID, Error: err.Error()})
				continue
			}
			if end {
				_ = conn.WriteJSON(Envelope{Type: MsgEnd, CallID: callID, Seq: env.Seq, Chunk: result})
				return
			}
			_ = conn.WriteJSON(Envelope{Type: MsgChunk, CallID: callID, Seq: env.Seq, Chunk: result})

		case MsgEnd:
			disp.End(ctx, callID, env.Chunk)
			_ = conn.WriteJSON(Envelope{Type: MsgEnd, CallID: callID, Seq: env.Seq})
			return
		}
	}
}
