package dispatcher

import (
	"context"
	"testing"

	"github.com/luthienresearch/luthien-proxy/internal/policy"
)

func TestStreamDispatcherOpenAIUppercasesContentOnFinish(t *testing.T) {
	d, _ := testDispatcher(policy.AllCaps{})
	sd := NewStreamDispatcher(d)

	sd.Start("stream-1", "call-1", "trace-1", map[string]any{})

	_, end, err := sd.Chunk(context.Background(), "stream-1", map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": "hi "}}},
	})
	if err != nil || end {
		t.Fatalf("unexpected mid-stream result: end=%v err=%v", end, err)
	}

	result, end, err := sd.Chunk(context.Background(), "stream-1", map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": "there"}, "finish_reason": "stop"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if end {
		t.Fatalf("expected end=false for a clean finish")
	}

	choices, ok := result["choices"].([]any)
	if !ok || len(choices) == 0 {
		t.Fatalf("expected rendered choices, got %+v", result)
	}
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	if delta["content"] != "HI THERE" {
		t.Fatalf("expected uppercased merged content, got %v", delta["content"])
	}
}

func TestStreamDispatcherAnthropicUppercasesContentOnBlockStop(t *testing.T) {
	d, _ := testDispatcher(policy.AllCaps{})
	sd := NewStreamDispatcher(d)

	sd.Start("stream-2", "call-2", "trace-2", map[string]any{"provider": "anthropic"})

	feed := func(ev map[string]any) (map[string]any, bool) {
		result, end, err := sd.Chunk(context.Background(), "stream-2", map[string]any{"_anthropic_event": ev})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result, end
	}

	feed(map[string]any{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "text"}})
	feed(map[string]any{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": "hi"}})
	result, end := feed(map[string]any{"type": "content_block_stop", "index": 0})
	if end {
		t.Fatalf("expected end=false for a clean block stop")
	}

	events, ok := result["_anthropic_events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("expected rendered anthropic events, got %+v", result)
	}
	found := false
	for _, e := range events {
		ev := e.(map[string]any)
		if ev["type"] == "content_block_delta" {
			delta := ev["delta"].(map[string]any)
			if delta["text"] == "HI" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected an uppercased text_delta event, got %+v", events)
	}
}

func TestStreamDispatcherFailsClosedOnIncompleteToolCall(t *testing.T) {
	d, _ := testDispatcher(policy.NoOp{})
	sd := NewStreamDispatcher(d)

	sd.Start("stream-3", "call-3", "trace-3", map[string]any{"provider": "anthropic"})

	feed := func(ev map[string]any) (map[string]any, bool) {
		result, end, err := sd.Chunk(context.Background(), "stream-3", map[string]any{"_anthropic_event": ev})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result, end
	}

	feed(map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "tool_use", "id": "call_1", "name": "search"},
	})
	feed(map[string]any{
		"type": "content_block_delta", "index": 0,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": `{"q":"unterminated`},
	})
	result, end := feed(map[string]any{"type": "content_block_stop", "index": 0})

	if !end {
		t.Fatalf("expected end=true on an incomplete tool call")
	}
	if result["blocked_reason"] != "incomplete_tool_call" {
		t.Fatalf("expected blocked_reason, got %+v", result)
	}
}

func TestStreamDispatcherFailsClosedOnEndOfStreamFlush(t *testing.T) {
	d, _ := testDispatcher(policy.NoOp{})
	sd := NewStreamDispatcher(d)

	sd.Start("stream-4", "call-4", "trace-4", map[string]any{"provider": "anthropic"})

	feed := func(ev map[string]any) (map[string]any, bool) {
		result, end, err := sd.Chunk(context.Background(), "stream-4", map[string]any{"_anthropic_event": ev})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result, end
	}

	feed(map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "tool_use", "id": "call_1", "name": "search"},
	})
	feed(map[string]any{
		"type": "content_block_delta", "index": 0,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": `{"q":"unterminated`},
	})
	result, end := feed(map[string]any{"type": "message_stop"})

	if !end {
		t.Fatalf("expected end=true when message_stop flushes an incomplete tool call")
	}
	if result["blocked_reason"] != "incomplete_tool_call" {
		t.Fatalf("expected blocked_reason, got %+v", result)
	}
}
