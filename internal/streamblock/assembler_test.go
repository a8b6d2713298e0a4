package streamblock

import "testing"

func TestIngressAssemblerTextStream(t *testing.T) {
	a := NewIngressAssembler()

	if _, ok := a.Ingest(AnthropicEvent{Type: "message_start", Message: &AnthropicMessageStart{ID: "msg_1", Model: "claude-3"}}); ok {
		t.Fatal("message_start should not emit a chunk")
	}

	c, ok := a.Ingest(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "text"}})
	if !ok || c.ID != "msg_1" || c.Model != "claude-3" {
		t.Fatalf("expected chunk stamped with call id/model, got %+v", c)
	}

	c, ok = a.Ingest(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "text_delta", Text: "hi"}})
	if !ok || c.Choices[0].Delta.Content != "hi" {
		t.Fatalf("expected content delta %q, got %+v", "hi", c)
	}

	c, ok = a.Ingest(AnthropicEvent{Type: "message_delta", Delta: &AnthropicDelta{StopReason: "end_turn"}})
	if !ok || c.Choices[0].FinishReason == nil || *c.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %+v", c)
	}
}

func TestIngressAssemblerToolUse(t *testing.T) {
	a := NewIngressAssembler()
	a.Ingest(AnthropicEvent{Type: "message_start", Message: &AnthropicMessageStart{ID: "msg_2"}})

	c, _ := a.Ingest(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "tool_use", ID: "call_1", Name: "search"}})
	tc := c.Choices[0].Delta.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "search" {
		t.Fatalf("expected tool call header, got %+v", tc)
	}

	c, _ = a.Ingest(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: `{"q":`}})
	if c.Choices[0].Delta.ToolCalls[0].Function.Arguments != `{"q":` {
		t.Fatalf("expected raw partial json fragment, got %+v", c.Choices[0].Delta.ToolCalls[0])
	}
}

func TestBlockAssemblerToolCallComplete(t *testing.T) {
	b := NewBlockAssembler()
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "tool_use", ID: "call_1", Name: "search"}})
	b.ProcessEvent(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: `{"q":"x"}`}})

	closed, err := b.ProcessEvent(AnthropicEvent{Type: "content_block_stop", Index: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || !closed[0].Complete {
		t.Fatalf("expected one complete tool call block, got %+v", closed)
	}
	if closed[0].ToolCall.ArgumentsJSON != `{"q":"x"}` {
		t.Fatalf("unexpected arguments: %q", closed[0].ToolCall.ArgumentsJSON)
	}
}

func TestBlockAssemblerIncompleteToolCallErrors(t *testing.T) {
	b := NewBlockAssembler()
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "tool_use", ID: "call_1", Name: "search"}})
	b.ProcessEvent(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "input_json_delta", PartialJSON: `{"q":`}})

	_, err := b.ProcessEvent(AnthropicEvent{Type: "content_block_stop", Index: 0})
	if err == nil {
		t.Fatal("expected incomplete tool call error")
	}
	if _, ok := err.(*ErrIncompleteToolCall); !ok {
		t.Fatalf("expected *ErrIncompleteToolCall, got %T", err)
	}
}

func TestBlockAssemblerDelayedThinkingClose(t *testing.T) {
	b := NewBlockAssembler()
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "thinking"}})
	b.ProcessEvent(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "thinking_delta", Thinking: "pondering"}})

	closed, err := b.ProcessEvent(AnthropicEvent{Type: "content_block_stop", Index: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 0 {
		t.Fatalf("expected thinking block to stay open pending signature, got %+v", closed)
	}

	closed, err = b.ProcessEvent(AnthropicEvent{Type: "content_block_delta", Index: 0, Delta: &AnthropicDelta{Type: "signature_delta", Signature: "sig-123"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || !closed[0].Complete || closed[0].Thinking.Signature != "sig-123" {
		t.Fatalf("expected thinking block to close on trailing signature, got %+v", closed)
	}
}

func TestBlockAssemblerOrderedPutsThinkingFirst(t *testing.T) {
	b := NewBlockAssembler()
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 0, ContentBlock: &AnthropicContentBlock{Type: "text"}})
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 1, ContentBlock: &AnthropicContentBlock{Type: "tool_use", ID: "call_1", Name: "search"}})
	b.ProcessEvent(AnthropicEvent{Type: "content_block_start", Index: 2, ContentBlock: &AnthropicContentBlock{Type: "thinking"}})

	ordered := b.Ordered()
	if len(ordered) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(ordered))
	}
	if ordered[0].Kind != KindThinking || ordered[1].Kind != KindContent || ordered[2].Kind != KindToolCall {
		t.Fatalf("expected thinking, content, tool_call order, got %v %v %v", ordered[0].Kind, ordered[1].Kind, ordered[2].Kind)
	}
}

func TestRenderAnthropicBlockToolCallSingleChunk(t *testing.T) {
	blk := NewToolCallBlock(0, "call_1", "search")
	blk.ToolCall.ArgumentsJSON = `{"q":"x"}`
	blk.MarkComplete()

	events, err := RenderAnthropicBlock(blk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deltaCount := 0
	for _, ev := range events {
		if ev.Type == "content_block_delta" {
			deltaCount++
			if ev.Delta.PartialJSON != `{"q":"x"}` {
				t.Fatalf("expected full arguments in one delta, got %q", ev.Delta.PartialJSON)
			}
		}
	}
	if deltaCount != 1 {
		t.Fatalf("expected a single terminal delta, got %d", deltaCount)
	}
}
