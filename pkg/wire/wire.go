// Package wire holds the wire-format types spec.md §6.1/§6.2 define,
// exported separately from internal/controlconn so an external callback
// implementation (a client SDK, written against this module as a library
// rather than copying the control plane's internals) can decode and
// construct these frames without importing anything under internal/.
package wire

import "time"

// MessageType tags one frame of the §6.2 streaming WebSocket protocol.
type MessageType string

const (
	MsgStart MessageType = "START"
	MsgChunk MessageType = "CHUNK"
	MsgEnd   MessageType = "END"
	MsgError MessageType = "ERROR"
)

// Envelope is one frame exchanged between the callback-side orchestrator
// and the control plane, matching internal/controlconn.Envelope's JSON
// shape exactly.
type Envelope struct {
	Type   MessageType    `json:"type"`
	CallID string         `json:"call_id"`
	Seq    int64          `json:"seq,omitempty"`
	Chunk  map[string]any `json:"chunk,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// HookRequest is the body POSTed to §6.1's POST /api/hooks/{hook_name}.
type HookRequest = map[string]any

// ConversationSnapshot is the JSON shape GET /api/hooks/conversation returns.
type ConversationSnapshot struct {
	CallID    string          `json:"call_id"`
	Events    []ConversationEvent `json:"events"`
	ToolCalls []ToolCall      `json:"tool_calls"`
}

// ConversationEvent mirrors internal/events.Event's JSON shape.
type ConversationEvent struct {
	Kind      string         `json:"kind"`
	CallID    string         `json:"call_id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Hook      string         `json:"hook"`
	Payload   map[string]any `json:"payload"`
}

// ToolCall mirrors internal/storage.ToolCallRecord's JSON shape.
type ToolCall struct {
	CallID         string    `json:"call_id"`
	ToolCallID     string    `json:"tool_call_id"`
	Name           string    `json:"name"`
	ArgumentsJSON  string    `json:"arguments_json"`
	Status         string    `json:"status"`
	Response       string    `json:"response,omitempty"`
	ChunksBuffered int       `json:"chunks_buffered,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
