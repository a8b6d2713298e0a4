package events

import (
	"reflect"
	"time"
)

// Builder turns one hook invocation into zero or more Events, per the
// hook-to-event mapping table: pre_call_hook opens a call, the streaming
// CHUNK message produces the original/possibly-rewritten chunk pair, and
// the three terminal hooks (success, stream summary, failure) each close
// the call with one request_completed event.
type Builder struct {
	indices *ChunkIndexStore
}

// NewBuilder constructs a Builder backed by the given index store. Builders
// for different calls may share one store; it's the store, not the
// Builder, that's keyed per call.
func NewBuilder(indices *ChunkIndexStore) *Builder {
	return &Builder{indices: indices}
}

// Build constructs the Events for one hook invocation. original and result
// are the pre- and post-policy payloads (result may equal original if the
// policy made no change, or be nil where the hook has no result, e.g.
// pre_call). fallback is used as the event timestamp when no post_time_ns
// can be found anywhere in the payloads.
func (b *Builder) Build(hook, callID, traceID string, original, result map[string]any, fallback time.Time) []Event {
	seq, ts := sequenceAndTimestamp(original, result, fallback)

	switch hook {
	case "pre_call_hook":
		b.indices.Reset(callID)
		return []Event{{
			Kind: KindRequestStarted, CallID: callID, TraceID: traceID,
			Sequence: seq, Timestamp: ts, Hook: hook,
			Payload: map[string]any{"original_messages": original, "final_messages": result},
		}}

	case "post_call_streaming_iterator_hook":
		originalIdx := b.indices.Next(callID, "original")
		out := []Event{{
			Kind: KindOriginalChunk, CallID: callID, TraceID: traceID,
			Sequence: seq, Timestamp: ts, Hook: hook,
			Payload: map[string]any{"chunk": original, "chunk_index": originalIdx},
		}}
		if !payloadsEqual(original, result) {
			finalIdx := b.indices.Next(callID, "final")
			out = append(out, Event{
				Kind: KindFinalChunk, CallID: callID, TraceID: traceID,
				Sequence: seq + 1, Timestamp: ts, Hook: hook,
				Payload: map[string]any{"chunk": result, "chunk_index": finalIdx},
			})
		}
		return out

	case "post_call_success_hook":
		return b.completed(callID, traceID, hook, "success", result, seq, ts)

	case "post_call_streaming_hook":
		return b.completed(callID, traceID, hook, "stream_summary", result, seq, ts)

	case "post_call_failure_hook":
		return b.completed(callID, traceID, hook, "failure", result, seq, ts)

	default:
		return nil
	}
}

func (b *Builder) completed(callID, traceID, hook, status string, result map[string]any, seq int64, ts time.Time) []Event {
	b.indices.Clear(callID)
	return []Event{{
		Kind: KindRequestCompleted, CallID: callID, TraceID: traceID,
		Sequence: seq, Timestamp: ts, Hook: hook,
		Payload: map[string]any{"status": status, "response": result},
	}}
}

// sequenceAndTimestamp derives the event sequence number and timestamp, in
// order of preference: a post_time_ns in the original payload (top level
// first, then anywhere in its tree), then the same search in the result
// payload, or else the caller's fallback timestamp.
func sequenceAndTimestamp(original, result map[string]any, fallback time.Time) (int64, time.Time) {
	if ns, ok := findPostTimeNS(original); ok {
		return ns, time.Unix(0, ns)
	}
	if ns, ok := findPostTimeNS(result); ok {
		return ns, time.Unix(0, ns)
	}
	return fallback.UnixNano(), fallback
}

// findPostTimeNS searches a payload tree for a post_time_ns field,
// depth-first, since the callback may nest it inside a wrapper object
// rather than at the top level.
func findPostTimeNS(payload map[string]any) (int64, bool) {
	if payload == nil {
		return 0, false
	}
	if v, ok := payload["post_time_ns"]; ok {
		if ns, ok := toInt64(v); ok {
			return ns, true
		}
	}
	for _, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			if ns, ok := findPostTimeNS(nested); ok {
				return ns, true
			}
		}
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func payloadsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if am, ok := av.(map[string]any); ok {
			bm, ok := bv.(map[string]any)
			if !ok || !payloadsEqual(am, bm) {
				return false
			}
			continue
		}
		// av/bv may be slices (e.g. a decoded "choices" array), which panic on
		// `!=`; reflect.DeepEqual handles any JSON-decoded shape safely.
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
