package controlconn

// MessageType tags one frame of the per-chunk wire protocol the Stream
// Orchestrator and the control plane exchange over a call's WebSocket.
type MessageType string

const (
	// MsgStart opens a stream, carrying the original request data. Sent
	// once per call, before any CHUNK frame.
	MsgStart MessageType = "START"
	// MsgChunk carries one upstream chunk from the orchestrator to the
	// policy, and the (possibly rewritten) chunk back.
	MsgChunk MessageType = "CHUNK"
	// MsgEnd signals the upstream stream finished; carries an optional
	// final summary chunk.
	MsgEnd MessageType = "END"
	// MsgError reports a policy-side failure for this chunk; the
	// orchestrator forwards the original chunk and passes every later chunk
	// through verbatim (sticky fail-open passthrough), sending no END.
	MsgError MessageType = "ERROR"
)

// Envelope is one frame of the wire protocol.
type Envelope struct {
	Type   MessageType    `json:"type"`
	CallID string         `json:"call_id"`
	Seq    int64          `json:"seq,omitempty"`
	Chunk  map[string]any `json:"chunk,omitempty"`
	Error  string         `json:"error,omitempty"`
}
