package streamblock

import (
	"encoding/json"
	"fmt"
)

// RenderAnthropicBlock expands one complete Block back into the sequence of
// Anthropic SSE events that represent it on the wire. It is only called
// once a Block is Complete — a policy has already seen and possibly
// rewritten the whole fragment — so there is no reason to re-stream it
// piecemeal the way the upstream provider did:
//
//   - a tool call is emitted as a single content_block_start carrying the
//     name, one content_block_delta carrying the full arguments JSON, and a
//     content_block_stop — the "single terminal tool-call chunk" rule.
//   - a thinking block emits its text in one delta followed by its
//     signature in a second delta, in that order, then stop — the delayed
//     close rule inverted: egress always has the signature by the time it
//     renders, so there is nothing to delay, only an order to preserve.
func RenderAnthropicBlock(b *Block) ([]AnthropicEvent, error) {
	if !b.Complete {
		return nil, fmt.Errorf("block at index %d is not complete", b.Index)
	}

	switch b.Kind {
	case KindContent:
		return []AnthropicEvent{
			{Type: "content_block_start", Index: b.Index, ContentBlock: &AnthropicContentBlock{Type: "text"}},
			{Type: "content_block_delta", Index: b.Index, Delta: &AnthropicDelta{Type: "text_delta", Text: b.Content.Text}},
			{Type: "content_block_stop", Index: b.Index},
		}, nil

	case KindToolCall:
		return []AnthropicEvent{
			{
				Type:         "content_block_start",
				Index:        b.Index,
				ContentBlock: &AnthropicContentBlock{Type: "tool_use", ID: b.ToolCall.ID, Name: b.ToolCall.Name},
			},
			{
				Type:  "content_block_delta",
				Index: b.Index,
				Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: b.ToolCall.ArgumentsJSON},
			},
			{Type: "content_block_stop", Index: b.Index},
		}, nil

	case KindThinking:
		events := []AnthropicEvent{
			{Type: "content_block_start", Index: b.Index, ContentBlock: &AnthropicContentBlock{Type: "thinking"}},
			{Type: "content_block_delta", Index: b.Index, Delta: &AnthropicDelta{Type: "thinking_delta", Thinking: b.Thinking.Text}},
		}
		if b.Thinking.Signature != "" {
			events = append(events, AnthropicEvent{
				Type: "content_block_delta", Index: b.Index,
				Delta: &AnthropicDelta{Type: "signature_delta", Signature: b.Thinking.Signature},
			})
		}
		return append(events, AnthropicEvent{Type: "content_block_stop", Index: b.Index}), nil

	case KindRedactedThinking:
		return []AnthropicEvent{
			{
				Type:         "content_block_start",
				Index:        b.Index,
				ContentBlock: &AnthropicContentBlock{Type: "redacted_thinking", Data: b.RedactedThinking.Data},
			},
			{Type: "content_block_stop", Index: b.Index},
		}, nil

	default:
		return nil, fmt.Errorf("unknown block kind %q", b.Kind)
	}
}

// EncodeAnthropicEvent renders one AnthropicEvent as an SSE frame in the
// "event: <type>\ndata: <json>\n\n" shape Anthropic clients expect.
func EncodeAnthropicEvent(ev AnthropicEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, body)
	return []byte(frame), nil
}

// RenderAnthropicBlocksOrdered renders blocks in the assembler's
// ordering-rule sequence (thinking, then content, then tool calls, each
// group by ascending Index) back out as the flat list of SSE events an
// Anthropic-format client expects to receive. The caller's slice is not
// reordered.
func RenderAnthropicBlocksOrdered(blocks []*Block) ([]AnthropicEvent, error) {
	sorted := append([]*Block(nil), blocks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			left, right := sorted[j-1], sorted[j]
			if left.orderRank() > right.orderRank() || (left.orderRank() == right.orderRank() && left.Index > right.Index) {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			} else {
				break
			}
		}
	}
	var events []AnthropicEvent
	for _, b := range sorted {
		rendered, err := RenderAnthropicBlock(b)
		if err != nil {
			return nil, err
		}
		events = append(events, rendered...)
	}
	return events, nil
}
