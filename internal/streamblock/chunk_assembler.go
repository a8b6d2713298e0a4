package streamblock

// ChunkBlockAssembler accumulates canonical Chunk deltas into the same
// StreamBlock model BlockAssembler builds from raw Anthropic events. It
// exists because an OpenAI-origin stream never crosses a content-block-stop
// boundary the way Anthropic's does: completion is signaled only once, by
// the chunk carrying a non-nil FinishReason, so every open block closes
// together at that point rather than incrementally.
//
// One ChunkBlockAssembler per in-flight call; not safe for concurrent use.
type ChunkBlockAssembler struct {
	content *Block
	byIndex map[int]*Block
	order   []int
}

// NewChunkBlockAssembler starts an assembler with no blocks.
func NewChunkBlockAssembler() *ChunkBlockAssembler {
	return &ChunkBlockAssembler{byIndex: make(map[int]*Block)}
}

// ProcessChunk folds one canonical Chunk's delta into the block set. Content
// text accumulates into a single implicit block at index 0 since the
// canonical schema carries no index for it; tool calls and thinking
// fragments key off their own Index field. Closed blocks are only ever
// reported when FinishReason arrives, at which point every still-open block
// closes together — mirroring BlockAssembler's flushAll.
func (a *ChunkBlockAssembler) ProcessChunk(c *Chunk) (closed []*Block, err error) {
	if c == nil || len(c.Choices) == 0 {
		return nil, nil
	}
	choice := c.Choices[0]
	d := choice.Delta

	if d.Content != "" {
		if a.content == nil {
			a.content = NewContentBlock(0, "")
			a.track(0, a.content)
		}
		a.content.Content.Text += d.Content
	}

	for _, tc := range d.ToolCalls {
		b, ok := a.byIndex[tc.Index]
		if !ok {
			b = NewToolCallBlock(tc.Index, tc.ID, tc.Function.Name)
			a.track(tc.Index, b)
		}
		b.ToolCall.ArgumentsJSON += tc.Function.Arguments
	}

	for _, tb := range d.ThinkingBlocks {
		b, ok := a.byIndex[tb.Index]
		if !ok {
			if tb.Redacted {
				b = NewRedactedThinkingBlock(tb.Index, "", "")
			} else {
				b = NewThinkingBlock(tb.Index, "")
			}
			a.track(tb.Index, b)
		}
		if !b.Complete && b.Kind == KindThinking {
			b.Thinking.Text += tb.Text
			b.Thinking.Signature += tb.Signature
		}
	}

	if choice.FinishReason != nil {
		return a.flushAll()
	}
	return nil, nil
}

func (a *ChunkBlockAssembler) track(index int, b *Block) {
	a.byIndex[index] = b
	a.order = append(a.order, index)
}

func (a *ChunkBlockAssembler) flushAll() ([]*Block, error) {
	var closed []*Block
	var err error
	for _, idx := range a.order {
		b := a.byIndex[idx]
		if b == nil || b.Complete {
			continue
		}
		if b.Kind == KindToolCall && !b.ToolCall.IsArgumentsValid() {
			if err == nil {
				err = &ErrIncompleteToolCall{Index: idx, Name: b.ToolCall.Name}
			}
			continue
		}
		b.MarkComplete()
		closed = append(closed, b)
	}
	return closed, err
}
