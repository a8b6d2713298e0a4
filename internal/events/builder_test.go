package events

import (
	"testing"
	"time"
)

func TestBuildPreCallResetsIndices(t *testing.T) {
	idx := NewChunkIndexStore()
	idx.Next("call-1", "original") // simulate leftover state from a prior call
	b := NewBuilder(idx)

	evs := b.Build("pre_call_hook", "call-1", "trace-1", map[string]any{"messages": "hi"}, nil, time.Now())
	if len(evs) != 1 || evs[0].Kind != KindRequestStarted {
		t.Fatalf("expected one request_started event, got %+v", evs)
	}

	if got := idx.Next("call-1", "original"); got != 0 {
		t.Fatalf("expected index reset to 0, got %d", got)
	}
}

func TestBuildStreamingChunkUnchangedEmitsOnlyOriginal(t *testing.T) {
	idx := NewChunkIndexStore()
	b := NewBuilder(idx)

	chunk := map[string]any{"content": "hello"}
	evs := b.Build("post_call_streaming_iterator_hook", "call-1", "", chunk, chunk, time.Now())
	if len(evs) != 1 || evs[0].Kind != KindOriginalChunk {
		t.Fatalf("expected single original_chunk event for unchanged chunk, got %+v", evs)
	}
}

func TestBuildStreamingChunkRewrittenEmitsBoth(t *testing.T) {
	idx := NewChunkIndexStore()
	b := NewBuilder(idx)

	original := map[string]any{"content": "hello"}
	result := map[string]any{"content": "HELLO"}
	evs := b.Build("post_call_streaming_iterator_hook", "call-1", "", original, result, time.Now())
	if len(evs) != 2 {
		t.Fatalf("expected original_chunk + final_chunk, got %+v", evs)
	}
	if evs[0].Kind != KindOriginalChunk || evs[1].Kind != KindFinalChunk {
		t.Fatalf("unexpected event kinds: %v %v", evs[0].Kind, evs[1].Kind)
	}
	if evs[1].Sequence != evs[0].Sequence+1 {
		t.Fatalf("expected consecutive sequence numbers, got %d then %d", evs[0].Sequence, evs[1].Sequence)
	}
}

func TestBuildFailureClearsIndices(t *testing.T) {
	idx := NewChunkIndexStore()
	idx.Next("call-1", "original")
	b := NewBuilder(idx)

	evs := b.Build("post_call_failure_hook", "call-1", "", nil, map[string]any{"error": "boom"}, time.Now())
	if len(evs) != 1 || evs[0].Kind != KindRequestCompleted {
		t.Fatalf("expected one request_completed event, got %+v", evs)
	}
	if evs[0].Payload["status"] != "failure" {
		t.Fatalf("expected failure status, got %v", evs[0].Payload["status"])
	}
	if got := idx.Next("call-1", "original"); got != 0 {
		t.Fatalf("expected indices cleared after failure, got %d", got)
	}
}

func TestSequenceDerivedFromPostTimeNS(t *testing.T) {
	idx := NewChunkIndexStore()
	b := NewBuilder(idx)

	original := map[string]any{"post_time_ns": int64(42)}
	evs := b.Build("pre_call_hook", "call-1", "", original, nil, time.Now())
	if evs[0].Sequence != 42 {
		t.Fatalf("expected sequence 42 from post_time_ns, got %d", evs[0].Sequence)
	}
}

func TestSequenceFindsNestedPostTimeNS(t *testing.T) {
	idx := NewChunkIndexStore()
	b := NewBuilder(idx)

	original := map[string]any{"wrapper": map[string]any{"post_time_ns": int64(99)}}
	evs := b.Build("pre_call_hook", "call-1", "", original, nil, time.Now())
	if evs[0].Sequence != 99 {
		t.Fatalf("expected sequence 99 from nested post_time_ns, got %d", evs[0].Sequence)
	}
}

func TestSortEventsOrdersBySequenceThenTimestampThenKind(t *testing.T) {
	now := time.Now()
	all := []Event{
		{Kind: KindFinalChunk, Sequence: 1, Timestamp: now},
		{Kind: KindOriginalChunk, Sequence: 1, Timestamp: now},
		{Kind: KindRequestStarted, Sequence: 0, Timestamp: now},
	}
	SortEvents(all)
	if all[0].Kind != KindRequestStarted || all[1].Kind != KindFinalChunk || all[2].Kind != KindOriginalChunk {
		t.Fatalf("unexpected order: %+v", all)
	}
}
