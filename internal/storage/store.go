// Package storage defines the persistence-side interfaces the dispatcher
// and read-side HTTP handlers depend on. Spec.md §1 puts "database
// schema/connection pooling for persistence" out of scope for the core;
// this package is the seam that statement describes — only the interface
// is load-bearing here, and internal/storage/pg supplies one concrete,
// conceptual implementation.
package storage

import (
	"context"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/events"
)

// DebugLogWriter persists one labeled debug-log record, append-only, per
// spec.md §6.5's debug_logs table. Implements dispatcher.DebugLogWriter.
type DebugLogWriter interface {
	WriteDebugLog(ctx context.Context, label string, record map[string]any) error
}

// EventSink receives one ConversationEvent for durable storage. Implements
// dispatcher.EventSink.
type EventSink interface {
	HandleEvent(ctx context.Context, evt events.Event) error
}

// ToolCallRecord is one row of spec.md §6.5's conversation_tool_calls
// table, tracked separately from the generic event log so a read path can
// ask "which tool calls happened in this call" without re-parsing every
// event's payload.
type ToolCallRecord struct {
	CallID          string    `json:"call_id"`
	ToolCallID      string    `json:"tool_call_id"`
	Name            string    `json:"name"`
	ArgumentsJSON   string    `json:"arguments_json"`
	Status          string    `json:"status"` // "pending" | "complete" | "blocked"
	Response        string    `json:"response,omitempty"`
	ChunksBuffered  int       `json:"chunks_buffered,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Reader is the read-side interface: recent call ids, a call's events, and
// tool-call records. Backs §6.1's recent_call_ids and conversation
// endpoints; the conversation/stream endpoint reads from pubsub instead.
type Reader interface {
	RecentCallIDs(ctx context.Context, limit int) ([]string, error)
	EventsForCall(ctx context.Context, callID string) ([]events.Event, error)
	ToolCallsForCall(ctx context.Context, callID string) ([]ToolCallRecord, error)
}

// Store bundles the write and read sides one process needs; internal/storage/pg
// implements it against Postgres, tests substitute an in-memory fake.
type Store interface {
	DebugLogWriter
	EventSink
	Reader
}
