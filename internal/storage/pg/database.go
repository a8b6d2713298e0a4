// Package pg is the conceptual Postgres-backed implementation of
// internal/storage.Store, per spec.md §6.5: "database schema/connection
// pooling for persistence" is named out of scope for the core, so this
// adapter is deliberately plain — a handful of prepared statements over
// the tables spec.md §6.5 sketches, not a query-builder or ORM layer.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/config"
	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/storage"
	_ "github.com/lib/pq"
)

// Store is a *sql.DB-backed internal/storage.Store, adapted from the
// teacher's internal/storage/pg.Database (connection-pool sizing,
// goose-driven migrations at startup) with the teacher's sqlc-generated
// query layer dropped in favor of hand-written statements against this
// domain's four tables — sqlc's code-generation step has nothing to
// generate from here without the original project's .sql query files,
// and spec.md §6.5 itself says the schema is "conceptual, not bit-exact".
type Store struct {
	DB *sql.DB
}

// Open opens the database connection, applies the pool sizing the
// teacher's config carries, and runs migrations.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}

	if config.AppConfig != nil {
		db.SetMaxOpenConns(config.AppConfig.DBMaxOpenConns)
		db.SetMaxIdleConns(config.AppConfig.DBMaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("pg: migrate: %w", err)
	}

	return &Store{DB: db}, nil
}

// WriteDebugLog appends one row to debug_logs. Implements
// storage.DebugLogWriter / dispatcher.DebugLogWriter.
func (s *Store) WriteDebugLog(ctx context.Context, label string, record map[string]any) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("pg: marshal debug log: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO debug_logs (time_created, debug_type_identifier, jsonblob) VALUES ($1, $2, $3)`,
		time.Now(), label, blob)
	return err
}

// HandleEvent upserts the owning call row and appends the event. Implements
// storage.EventSink / dispatcher.EventSink.
func (s *Store) HandleEvent(ctx context.Context, evt events.Event) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_calls (call_id, trace_id, started_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (call_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, evt.CallID, nullableString(evt.TraceID), evt.Timestamp); err != nil {
		return fmt.Errorf("pg: upsert call: %w", err)
	}

	if evt.Kind == events.KindRequestCompleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversation_calls SET completed_at = $2 WHERE call_id = $1`,
			evt.CallID, evt.Timestamp); err != nil {
			return fmt.Errorf("pg: mark completed: %w", err)
		}
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("pg: marshal event payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_events (call_id, trace_id, event_type, sequence, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.CallID, nullableString(evt.TraceID), string(evt.Kind), evt.Sequence, payload, evt.Timestamp); err != nil {
		return fmt.Errorf("pg: insert event: %w", err)
	}

	return tx.Commit()
}

// RecentCallIDs backs GET /api/hooks/recent_call_ids.
func (s *Store) RecentCallIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT call_id FROM conversation_calls ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: recent call ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EventsForCall backs GET /api/hooks/conversation, which returns the events
// as read here.
func (s *Store) EventsForCall(ctx context.Context, callID string) ([]events.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT event_type, call_id, COALESCE(trace_id, ''), sequence, payload, created_at
		FROM conversation_events WHERE call_id = $1 ORDER BY sequence, created_at
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("pg: events for call: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var kind string
		var payload []byte
		if err := rows.Scan(&kind, &e.CallID, &e.TraceID, &e.Sequence, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = events.Kind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("pg: unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ToolCallsForCall backs the conversation snapshot's tool-call detail view.
func (s *Store) ToolCallsForCall(ctx context.Context, callID string) ([]storage.ToolCallRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT tool_call_id, name, arguments, status, COALESCE(response, ''), COALESCE(chunks_buffered, 0), created_at
		FROM conversation_tool_calls WHERE call_id = $1 ORDER BY created_at
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("pg: tool calls for call: %w", err)
	}
	defer rows.Close()

	var out []storage.ToolCallRecord
	for rows.Next() {
		var r storage.ToolCallRecord
		if err := rows.Scan(&r.ToolCallID, &r.Name, &r.ArgumentsJSON, &r.Status, &r.Response, &r.ChunksBuffered, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CallID = callID
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
