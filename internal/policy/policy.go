// Package policy defines the capability interface policies implement
// against and a couple of reference policies used as test fixtures. A
// policy is any value exposing some subset of the hook methods below — the
// dispatcher type-asserts for each one rather than reflecting over a
// handler's parameter list, a static alternative to the source's
// inspect.signature-based kwargs filtering.
package policy

import (
	"context"

	"github.com/luthienresearch/luthien-proxy/internal/streamblock"
)

// PreCallHook is implemented by policies that inspect or rewrite a request
// before it's sent upstream.
type PreCallHook interface {
	PreCall(ctx context.Context, req map[string]any) (map[string]any, error)
}

// PostCallSuccessHook is implemented by policies that inspect or rewrite a
// completed non-streaming response.
type PostCallSuccessHook interface {
	PostCallSuccess(ctx context.Context, req, resp map[string]any) (map[string]any, error)
}

// PostCallFailureHook is implemented by policies that want to observe an
// upstream failure. It has no rewrite power — a failed call stays failed.
type PostCallFailureHook interface {
	PostCallFailure(ctx context.Context, req map[string]any, upstreamErr error)
}

// ModerationHook is implemented by policies that can veto a request before
// it reaches PreCall.
type ModerationHook interface {
	Moderate(ctx context.Context, req map[string]any) error
}

// StreamContext is the per-stream state a policy may keep across chunks,
// mirroring the source's StreamPolicyContext dataclass.
type StreamContext struct {
	StreamID        string
	OriginalRequest map[string]any
	ChunkCount      int
}

// StreamingHook is implemented by policies that want to see, and on
// completion possibly rewrite, a stream's content as the dispatcher
// assembles it into semantically complete blocks. CreateStreamContext runs
// once at START. OnChunkReceived runs once per raw CHUNK for observation
// only — it has no way to change what's forwarded. OnContentDelta and
// OnToolCallDelta run against a block's partial state as it accumulates,
// also observation only. OnContentComplete and OnToolCallComplete run once
// a block closes and return the (possibly rewritten) block to render to the
// client; thinking and redacted-thinking blocks are treated as content for
// this purpose, since they close and render the same way.
type StreamingHook interface {
	CreateStreamContext(streamID string, req map[string]any) *StreamContext
	OnChunkReceived(ctx context.Context, sc *StreamContext, chunk map[string]any)
	OnContentDelta(ctx context.Context, sc *StreamContext, block *streamblock.Block)
	OnToolCallDelta(ctx context.Context, sc *StreamContext, block *streamblock.Block)
	OnContentComplete(ctx context.Context, sc *StreamContext, block *streamblock.Block) (*streamblock.Block, error)
	OnToolCallComplete(ctx context.Context, sc *StreamContext, block *streamblock.Block) (*streamblock.Block, error)
}
