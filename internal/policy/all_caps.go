package policy

import (
	"context"
	"strings"

	"github.com/luthienresearch/luthien-proxy/internal/streamblock"
)

// AllCaps is a demonstration policy that uppercases message content, both
// for a non-streaming final response and for each completed streaming
// content or thinking block. On any
// malformed payload shape it returns the input unchanged rather than
// erroring — the same defensive fallback the source's toy policy uses, on
// the theory that a demo policy should never be the reason a call fails.
type AllCaps struct{}

func (AllCaps) PostCallSuccess(_ context.Context, _, resp map[string]any) (map[string]any, error) {
	return upperChoices(resp), nil
}

func (AllCaps) CreateStreamContext(streamID string, req map[string]any) *StreamContext {
	return &StreamContext{StreamID: streamID, OriginalRequest: req}
}

func (AllCaps) OnChunkReceived(_ context.Context, sc *StreamContext, _ map[string]any) {
	sc.ChunkCount++
}

func (AllCaps) OnContentDelta(_ context.Context, _ *StreamContext, _ *streamblock.Block) {}

func (AllCaps) OnToolCallDelta(_ context.Context, _ *StreamContext, _ *streamblock.Block) {}

// OnContentComplete uppercases a closed content (or thinking) block's text.
func (AllCaps) OnContentComplete(_ context.Context, _ *StreamContext, b *streamblock.Block) (*streamblock.Block, error) {
	switch {
	case b.Content != nil:
		b.Content.Text = strings.ToUpper(b.Content.Text)
	case b.Thinking != nil:
		b.Thinking.Text = strings.ToUpper(b.Thinking.Text)
	}
	return b, nil
}

// OnToolCallComplete leaves tool calls untouched: uppercasing JSON arguments
// would produce invalid output for string-valued keys/structure.
func (AllCaps) OnToolCallComplete(_ context.Context, _ *StreamContext, b *streamblock.Block) (*streamblock.Block, error) {
	return b, nil
}

func upperChoices(payload map[string]any) map[string]any {
	choices, ok := payload["choices"].([]any)
	if !ok {
		return payload
	}
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}
		content, ok := delta["content"].(string)
		if !ok {
			continue
		}
		delta["content"] = strings.ToUpper(content)
	}
	return payload
}
