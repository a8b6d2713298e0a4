package streamblock

import (
	"encoding/json"
	"fmt"
)

// EncodeOpenAIChunk renders a canonical Chunk as one OpenAI-style SSE frame:
// "data: <json>\n\n".
func EncodeOpenAIChunk(c *Chunk) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return append(append([]byte("data: "), body...), '\n', '\n'), nil
}

// RenderOpenAIBlock renders one complete Block as a single terminal
// canonical Chunk carrying the whole fragment in one Delta — the OpenAI-side
// counterpart of RenderAnthropicBlock's "single terminal chunk" rule. Only
// valid on a Complete block: a policy has already seen (and possibly
// rewritten) the whole fragment by the time this runs, so there's no reason
// to re-stream it piecemeal.
func RenderOpenAIBlock(b *Block) (*Chunk, error) {
	if !b.Complete {
		return nil, fmt.Errorf("block at index %d is not complete", b.Index)
	}

	var delta Delta
	switch b.Kind {
	case KindContent:
		delta = Delta{Content: b.Content.Text}
	case KindToolCall:
		delta = Delta{ToolCalls: []ToolCallDelta{{
			Index:    b.Index,
			ID:       b.ToolCall.ID,
			Type:     "function",
			Function: ToolCallFunction{Name: b.ToolCall.Name, Arguments: b.ToolCall.ArgumentsJSON},
		}}}
	case KindThinking:
		delta = Delta{ThinkingBlocks: []ThinkingDelta{{Index: b.Index, Text: b.Thinking.Text, Signature: b.Thinking.Signature}}}
	case KindRedactedThinking:
		delta = Delta{ThinkingBlocks: []ThinkingDelta{{Index: b.Index, Redacted: true}}}
	default:
		return nil, fmt.Errorf("unknown block kind %q", b.Kind)
	}

	return &Chunk{Object: "chat.completion.chunk", Choices: []Choice{{Index: 0, Delta: delta}}}, nil
}

// OpenAIDoneFrame is the terminal SSE frame OpenAI-compatible clients expect
// after the last content chunk.
const OpenAIDoneFrame = "data: [DONE]\n\n"
