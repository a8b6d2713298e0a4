package streamblock

// IngressAssembler translates one Anthropic Messages-API SSE stream into a
// sequence of canonical Chunks, normalizing at the seam so nothing
// downstream of ingress needs to know which provider produced a stream.
// One IngressAssembler per in-flight call; it is not safe for concurrent
// use, matching the single-reader-goroutine shape chunks already arrive in.
type IngressAssembler struct {
	callID string
	model  string

	// openKind remembers, per Anthropic content_block index, which kind of
	// block is open so a bare content_block_delta (which carries no type of
	// its own beyond the delta variant) can be routed to the right
	// ToolCallDelta/ThinkingDelta/content field.
	openKind map[int]string
	// A tool_use block's id and name go out once, on its
	// content_block_start chunk; Anthropic's input_json_delta events only
	// carry argument fragments, so the later chunks carry only those.
}

// NewIngressAssembler starts an assembler for one call. id and model are
// filled in once message_start arrives; both may be empty until then.
func NewIngressAssembler() *IngressAssembler {
	return &IngressAssembler{openKind: make(map[int]string)}
}

// Ingest consumes one Anthropic SSE event and returns the canonical Chunk it
// produces, if any. message_start and content_block_stop carry no visible
// delta of their own and return ok=false, as does an event type the
// assembler does not recognize; every other event type yields exactly one
// Chunk.
func (a *IngressAssembler) Ingest(ev AnthropicEvent) (chunk *Chunk, ok bool) {
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			a.callID = ev.Message.ID
			a.model = ev.Message.Model
		}
		return nil, false

	case "content_block_start":
		return a.ingestContentBlockStart(ev), true

	case "content_block_delta":
		return a.ingestContentBlockDelta(ev), true

	case "content_block_stop":
		delete(a.openKind, ev.Index)
		return nil, false

	case "message_delta":
		return a.ingestMessageDelta(ev), true

	case "message_stop":
		return a.chunk(Delta{}), true

	default:
		return nil, false
	}
}

func (a *IngressAssembler) chunk(delta Delta) *Chunk {
	return &Chunk{
		ID:      a.callID,
		Model:   a.model,
		Object:  "chat.completion.chunk",
		Choices: []Choice{{Index: 0, Delta: delta}},
	}
}

func (a *IngressAssembler) ingestContentBlockStart(ev AnthropicEvent) *Chunk {
	cb := ev.ContentBlock
	if cb == nil {
		return a.chunk(Delta{})
	}
	a.openKind[ev.Index] = cb.Type

	switch cb.Type {
	case "tool_use":
		return a.chunk(Delta{ToolCalls: []ToolCallDelta{{
			Index:    ev.Index,
			ID:       cb.ID,
			Type:     "function",
			Function: ToolCallFunction{Name: cb.Name},
		}}})
	case "thinking":
		return a.chunk(Delta{ThinkingBlocks: []ThinkingDelta{{Index: ev.Index}}})
	case "redacted_thinking":
		return a.chunk(Delta{ThinkingBlocks: []ThinkingDelta{{Index: ev.Index, Redacted: true}}})
	default: // "text"
		return a.chunk(Delta{})
	}
}

func (a *IngressAssembler) ingestContentBlockDelta(ev AnthropicEvent) *Chunk {
	d := ev.Delta
	if d == nil {
		return a.chunk(Delta{})
	}

	switch d.Type {
	case "text_delta":
		return a.chunk(Delta{Content: d.Text})
	case "input_json_delta":
		return a.chunk(Delta{ToolCalls: []ToolCallDelta{{
			Index:    ev.Index,
			Function: ToolCallFunction{Arguments: d.PartialJSON},
		}}})
	case "thinking_delta":
		return a.chunk(Delta{ThinkingBlocks: []ThinkingDelta{{Index: ev.Index, Text: d.Thinking}}})
	case "signature_delta":
		return a.chunk(Delta{ThinkingBlocks: []ThinkingDelta{{Index: ev.Index, Signature: d.Signature}}})
	default:
		return a.chunk(Delta{})
	}
}

func (a *IngressAssembler) ingestMessageDelta(ev AnthropicEvent) *Chunk {
	if ev.Delta == nil || ev.Delta.StopReason == "" {
		return a.chunk(Delta{})
	}
	finish := FinishReasonForStopReason(ev.Delta.StopReason)
	c := a.chunk(Delta{})
	c.Choices[0].FinishReason = &finish
	return c
}
