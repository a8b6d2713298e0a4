package streamblock

import "fmt"

// BlockAssembler accumulates Anthropic content-block events into the
// StreamBlock model policies and the egress renderer operate on. It runs
// alongside IngressAssembler (which produces the canonical chunks forwarded
// to the policy) rather than on top of it: only the raw Anthropic events
// carry the content_block_stop boundaries and thinking signatures the two
// egress rules below need.
//
// One BlockAssembler per in-flight call; not safe for concurrent use.
type BlockAssembler struct {
	all   map[int]*Block
	order []int

	// stopSeen marks indices whose content_block_stop has already arrived,
	// so a signature_delta that trails a stop (rare, but the ingress table
	// leaves the ordering unspecified) can still close the block when it
	// finally shows up.
	stopSeen map[int]bool
}

// NewBlockAssembler starts an assembler with no blocks.
func NewBlockAssembler() *BlockAssembler {
	return &BlockAssembler{
		all:      make(map[int]*Block),
		stopSeen: make(map[int]bool),
	}
}

// ErrIncompleteToolCall is returned from ProcessEvent when a tool_use block
// closes with arguments_json that never became valid JSON — the stream
// ended mid-argument. Callers map this into the StreamIncompleteToolCall
// error kind.
type ErrIncompleteToolCall struct {
	Index int
	Name  string
}

func (e *ErrIncompleteToolCall) Error() string {
	return fmt.Sprintf("tool call %q at index %d closed with incomplete arguments", e.Name, e.Index)
}

// ProcessEvent folds one Anthropic SSE event into the block set and reports
// any blocks that became Complete as a result. A tool_use block that closes
// with unparsable arguments is reported via err instead of being marked
// complete.
func (a *BlockAssembler) ProcessEvent(ev AnthropicEvent) (closed []*Block, err error) {
	switch ev.Type {
	case "content_block_start":
		a.start(ev)
		return nil, nil

	case "content_block_delta":
		a.delta(ev)
		if b := a.tryCloseOnSignature(ev.Index); b != nil {
			return []*Block{b}, nil
		}
		return nil, nil

	case "content_block_stop":
		return a.stop(ev.Index)

	case "message_stop":
		return a.flushAll()

	default:
		return nil, nil
	}
}

// BlockAt returns the block open (or closed) at index, or nil if none has
// started yet — used by callers that want to observe a block's partial
// state between deltas rather than only at closure.
func (a *BlockAssembler) BlockAt(index int) *Block {
	return a.all[index]
}

func (a *BlockAssembler) start(ev AnthropicEvent) {
	cb := ev.ContentBlock
	if cb == nil {
		return
	}
	var b *Block
	switch cb.Type {
	case "tool_use":
		b = NewToolCallBlock(ev.Index, cb.ID, cb.Name)
	case "thinking":
		b = NewThinkingBlock(ev.Index, cb.ID)
	case "redacted_thinking":
		b = NewRedactedThinkingBlock(ev.Index, cb.ID, cb.Data)
	default: // "text"
		b = NewContentBlock(ev.Index, cb.ID)
	}
	a.all[ev.Index] = b
	a.order = append(a.order, ev.Index)
}

func (a *BlockAssembler) delta(ev AnthropicEvent) {
	b, ok := a.all[ev.Index]
	if !ok || ev.Delta == nil || b.Complete {
		return
	}
	d := ev.Delta
	switch {
	case b.Kind == KindContent && d.Type == "text_delta":
		b.Content.Text += d.Text
	case b.Kind == KindToolCall && d.Type == "input_json_delta":
		b.ToolCall.ArgumentsJSON += d.PartialJSON
	case b.Kind == KindThinking && d.Type == "thinking_delta":
		b.Thinking.Text += d.Thinking
	case b.Kind == KindThinking && d.Type == "signature_delta":
		b.Thinking.Signature += d.Signature
	}
}

// tryCloseOnSignature implements the delayed-thinking-close rule for the
// rare case where a signature_delta arrives after content_block_stop has
// already been observed for the same index.
func (a *BlockAssembler) tryCloseOnSignature(index int) *Block {
	if !a.stopSeen[index] {
		return nil
	}
	b, ok := a.all[index]
	if !ok || b.Complete || b.Kind != KindThinking || b.Thinking.Signature == "" {
		return nil
	}
	b.MarkComplete()
	return b
}

func (a *BlockAssembler) stop(index int) ([]*Block, error) {
	b, ok := a.all[index]
	if !ok || b.Complete {
		return nil, nil
	}

	if b.Kind == KindToolCall {
		if !b.ToolCall.IsArgumentsValid() {
			return nil, &ErrIncompleteToolCall{Index: index, Name: b.ToolCall.Name}
		}
		b.MarkComplete()
		return []*Block{b}, nil
	}

	if b.Kind == KindThinking && b.Thinking.Signature == "" {
		// Delayed close: text is done, but a trailing signature_delta may
		// still arrive. Leave it open and remember the stop was seen.
		a.stopSeen[index] = true
		return nil, nil
	}

	b.MarkComplete()
	return []*Block{b}, nil
}

// flushAll force-completes every still-open block, for the end of stream. A
// thinking block with no signature closes anyway here — better a complete
// block missing a signature than one that never closes. A tool_use block
// whose arguments never became valid JSON is neither marked complete nor
// returned; its incompleteness is reported via err so the caller can fail
// closed per spec's incomplete-tool-call handling.
func (a *BlockAssembler) flushAll() ([]*Block, error) {
	var closed []*Block
	var err error
	for _, idx := range a.order {
		b := a.all[idx]
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

// Ordered returns every block seen so far (open or closed), sorted per the
// Anthropic assembly ordering rule: thinking blocks first, then content,
// then tool calls, each group in ascending Index order.
// RenderAnthropicBlocksOrdered applies the same rule to the blocks it
// renders.
func (a *BlockAssembler) Ordered() []*Block {
	blocks := make([]*Block, 0, len(a.order))
	for _, idx := range a.order {
		if b := a.all[idx]; b != nil {
			blocks = append(blocks, b)
		}
	}
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0; j-- {
			left, right := blocks[j-1], blocks[j]
			if left.orderRank() > right.orderRank() || (left.orderRank() == right.orderRank() && left.Index > right.Index) {
				blocks[j-1], blocks[j] = blocks[j], blocks[j-1]
			} else {
				break
			}
		}
	}
	return blocks
}
