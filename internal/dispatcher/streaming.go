package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	taxonomy "github.com/luthienresearch/luthien-proxy/internal/errors"
	"github.com/luthienresearch/luthien-proxy/internal/policy"
	"github.com/luthienresearch/luthien-proxy/internal/streamblock"
)

// StreamDispatcher drives a policy's streaming hook across one call's
// START/CHUNK/END sub-protocol. For every chunk it folds the stream's
// content into the StreamBlock model (spec.md §4.3) and invokes the
// policy's block-level hooks once a block becomes semantically complete,
// rather than handing the policy raw per-token deltas. One StreamDispatcher
// per control-plane process, shared across concurrently active streams;
// Start/Chunk/End are safe for concurrent use across different streamIDs.
type StreamDispatcher struct {
	d *Dispatcher

	mu      sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	callID, traceID string
	ctx             *policy.StreamContext

	// Exactly one of these is non-nil, chosen at Start from the call's
	// provider: anthropic drives the raw-Anthropic-event assembler (the
	// only input that carries content_block_stop/signature boundaries);
	// chunkBlocks drives the canonical-chunk assembler every other
	// provider uses, since its chunks already speak the canonical dialect
	// and need no raw side channel.
	anthropic   *streamblock.BlockAssembler
	chunkBlocks *streamblock.ChunkBlockAssembler
}

// NewStreamDispatcher wraps a Dispatcher with streaming sub-protocol
// handling.
func NewStreamDispatcher(d *Dispatcher) *StreamDispatcher {
	return &StreamDispatcher{d: d, streams: make(map[string]*streamState)}
}

// Start opens a stream: creates the policy's per-stream context (if it
// implements StreamingHook), picks the block assembler matching the call's
// provider, and remembers the call/trace IDs for the CHUNK/END messages
// that follow.
func (s *StreamDispatcher) Start(streamID, callID, traceID string, req map[string]any) {
	var sc *policy.StreamContext
	if h, ok := s.d.Policy.(policy.StreamingHook); ok {
		sc = h.CreateStreamContext(streamID, req)
	} else {
		sc = &policy.StreamContext{StreamID: streamID, OriginalRequest: req}
	}

	state := &streamState{callID: callID, traceID: traceID, ctx: sc}
	if provider, _ := req["provider"].(string); provider == "anthropic" {
		state.anthropic = streamblock.NewBlockAssembler()
	} else {
		state.chunkBlocks = streamblock.NewChunkBlockAssembler()
	}

	s.mu.Lock()
	s.streams[streamID] = state
	s.mu.Unlock()
}

// Chunk runs one upstream chunk through block assembly and the policy's
// block-level hooks, records the original/final chunk events, and returns
// the chunk to forward to the client. end reports that the stream must stop
// early: currently only the fail-closed response to an incomplete tool call
// per spec.md §4.3.4.
func (s *StreamDispatcher) Chunk(ctx context.Context, streamID string, chunk map[string]any) (result map[string]any, end bool, err error) {
	state := s.stateFor(streamID)
	hook, hasHook := s.d.Policy.(policy.StreamingHook)

	if hasHook && state != nil {
		hook.OnChunkReceived(ctx, state.ctx, chunk)
	}

	result = chunk
	if state != nil {
		closed, anthropicOut, incompleteErr := s.assembleBlocks(ctx, state, chunk, hook, hasHook)
		switch {
		case incompleteErr != nil:
			result, end = s.failClosed(ctx, state, incompleteErr)
			s.forget(streamID)
		case len(closed) > 0:
			rendered, completeErr := s.completeBlocks(ctx, state, closed, anthropicOut, hook, hasHook)
			if completeErr != nil {
				return nil, false, completeErr
			}
			if rendered != nil {
				result = rendered
			}
		}
	}

	now := time.Now()
	s.d.logDebug(ctx, "stream:"+streamID+":chunk", result, now)
	if state != nil && state.callID != "" {
		evs := s.d.Events.Build("post_call_streaming_iterator_hook", state.callID, state.traceID, chunk, result, now)
		s.d.submitEvents(ctx, evs)
	}
	return result, end, nil
}

// assembleBlocks folds chunk into the stream's block assembler and reports
// any blocks that closed as a result. anthropicOut reports whether the
// closed blocks came from the Anthropic-event assembler (and so render back
// out as Anthropic SSE events) rather than the canonical-chunk one.
func (s *StreamDispatcher) assembleBlocks(ctx context.Context, state *streamState, chunk map[string]any, hook policy.StreamingHook, hasHook bool) (closed []*streamblock.Block, anthropicOut bool, err error) {
	if state.anthropic != nil {
		raw, ok := chunk["_anthropic_event"]
		if !ok {
			return nil, true, nil
		}
		var ev streamblock.AnthropicEvent
		if decErr := decodeAny(raw, &ev); decErr != nil {
			return nil, true, nil
		}
		closed, err = state.anthropic.ProcessEvent(ev)
		if hasHook && ev.Type == "content_block_delta" {
			if b := state.anthropic.BlockAt(ev.Index); b != nil && !b.Complete {
				emitDeltaHook(ctx, hook, state.ctx, b)
			}
		}
		return closed, true, err
	}

	if state.chunkBlocks != nil {
		var c streamblock.Chunk
		if decErr := decodeAny(chunk, &c); decErr != nil {
			return nil, false, nil
		}
		closed, err = state.chunkBlocks.ProcessChunk(&c)
		return closed, false, err
	}

	return nil, false, nil
}

// completeBlocks runs each closed block through the matching
// OnContentComplete/OnToolCallComplete hook, then renders the (possibly
// rewritten) results back out in the provider's wire format: Anthropic SSE
// events under the "_anthropic_events" key for an Anthropic-origin call, or
// a single merged canonical chunk otherwise.
func (s *StreamDispatcher) completeBlocks(ctx context.Context, state *streamState, closed []*streamblock.Block, anthropicOut bool, hook policy.StreamingHook, hasHook bool) (map[string]any, error) {
	final := make([]*streamblock.Block, len(closed))
	for i, b := range closed {
		out := b
		if hasHook {
			var err error
			if b.Kind == streamblock.KindToolCall {
				out, err = hook.OnToolCallComplete(ctx, state.ctx, b)
			} else {
				out, err = hook.OnContentComplete(ctx, state.ctx, b)
			}
			if err != nil {
				return nil, taxonomy.Wrap(taxonomy.PolicyRaised, err)
			}
			if out == nil {
				out = b
			}
		}
		final[i] = out
	}

	if anthropicOut {
		events, err := streamblock.RenderAnthropicBlocksOrdered(final)
		if err != nil {
			return nil, err
		}
		return decodeToMap(map[string]any{"_anthropic_events": events})
	}

	merged := streamblock.Chunk{Object: "chat.completion.chunk"}
	var delta streamblock.Delta
	for _, b := range final {
		rc, err := streamblock.RenderOpenAIBlock(b)
		if err != nil {
			return nil, err
		}
		rd := rc.Choices[0].Delta
		delta.Content += rd.Content
		delta.ToolCalls = append(delta.ToolCalls, rd.ToolCalls...)
		delta.ThinkingBlocks = append(delta.ThinkingBlocks, rd.ThinkingBlocks...)
	}
	merged.Choices = []streamblock.Choice{{Index: 0, Delta: delta}}
	return decodeToMap(&merged)
}

// failClosed builds the synthetic blocked response spec.md §4.3.4 requires
// when a tool call never completes before the stream ends: a content chunk
// telling the client the call was blocked, and end=true so the orchestrator
// stops reading upstream and drains.
func (s *StreamDispatcher) failClosed(ctx context.Context, state *streamState, cause error) (map[string]any, bool) {
	wrapped := taxonomy.Wrap(taxonomy.StreamIncompleteToolCall, cause)
	s.d.Log.Warn("stream ended with incomplete tool call, failing closed", "call_id", state.callID, "error", wrapped.Error())

	blocked := map[string]any{
		"object": "chat.completion.chunk",
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         map[string]any{"content": "[blocked: incomplete tool call]"},
			"finish_reason": "content_filter",
		}},
		"blocked_reason": "incomplete_tool_call",
	}

	if state.anthropic != nil {
		blk := streamblock.NewContentBlock(0, "")
		blk.Content.Text = "[blocked: incomplete tool call]"
		blk.MarkComplete()
		if events, err := streamblock.RenderAnthropicBlock(blk); err == nil {
			blocked["_anthropic_events"] = events
		}
	}

	now := time.Now()
	if state.callID != "" {
		evs := s.d.Events.Build("post_call_streaming_hook", state.callID, state.traceID, blocked, blocked, now)
		s.d.submitEvents(ctx, evs)
	}

	return blocked, true
}

// emitDeltaHook calls the policy's partial-block observation hook matching
// b's Kind. Thinking and redacted-thinking blocks are treated as content for
// this purpose, matching OnContentComplete's convention.
func emitDeltaHook(ctx context.Context, hook policy.StreamingHook, sc *policy.StreamContext, b *streamblock.Block) {
	if b.Kind == streamblock.KindToolCall {
		hook.OnToolCallDelta(ctx, sc, b)
		return
	}
	hook.OnContentDelta(ctx, sc, b)
}

// End closes a stream: records the terminal request_completed event and
// forgets the stream's state.
func (s *StreamDispatcher) End(ctx context.Context, streamID string, summary map[string]any) {
	state := s.stateFor(streamID)

	now := time.Now()
	s.d.logDebug(ctx, "stream:"+streamID+":end", summary, now)
	if state != nil && state.callID != "" {
		evs := s.d.Events.Build("post_call_streaming_hook", state.callID, state.traceID, summary, summary, now)
		s.d.submitEvents(ctx, evs)
	}

	s.forget(streamID)
}

func (s *StreamDispatcher) stateFor(streamID string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[streamID]
}

func (s *StreamDispatcher) forget(streamID string) {
	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
}

// decodeAny round-trips v through JSON into out, the same idiom used at the
// callback/control-plane boundary to recover a typed value from a decoded
// map[string]any (WebSocket JSON frames carry everything as interface{}).
func decodeAny(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func decodeToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
