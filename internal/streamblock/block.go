package streamblock

import "encoding/json"

// Kind tags which StreamBlock variant a Block carries.
type Kind string

const (
	KindContent           Kind = "content"
	KindToolCall          Kind = "tool_call"
	KindThinking          Kind = "thinking"
	KindRedactedThinking  Kind = "redacted_thinking"
)

// Block is a semantically complete fragment accumulated from chunks, the
// unit policies are meant to operate on instead of raw token deltas. Exactly
// one of the typed fields is populated, selected by Kind — a tagged sum
// rather than a class hierarchy, per the source's shallow-inheritance note.
//
// Index is monotonically increasing within a Call. Complete latches true and
// is never cleared once set.
type Block struct {
	Kind    Kind `json:"kind"`
	Index   int  `json:"index"`
	Complete bool `json:"complete"`

	Content           *ContentBlock          `json:"content,omitempty"`
	ToolCall          *ToolCallBlock         `json:"tool_call,omitempty"`
	Thinking          *ThinkingBlock         `json:"thinking,omitempty"`
	RedactedThinking  *RedactedThinkingBlock `json:"redacted_thinking,omitempty"`
}

// ContentBlock is a plain-text fragment of a response.
type ContentBlock struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ToolCallBlock accumulates one tool call's id, name, and streamed JSON
// arguments. The assemblers mark it Complete only once ArgumentsJSON parses
// as JSON — use IsArgumentsValid to check that without re-deriving it ad hoc
// at call sites. ID and Name are not checked for completeness.
type ToolCallBlock struct {
	ID            string `json:"id"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// IsArgumentsValid reports whether ArgumentsJSON is non-empty and parses as
// JSON. A ToolCallBlock is only eligible to be marked Complete once this is
// true.
func (t *ToolCallBlock) IsArgumentsValid() bool {
	if t.ArgumentsJSON == "" {
		return false
	}
	return json.Valid([]byte(t.ArgumentsJSON))
}

// ThinkingBlock accumulates Anthropic extended-thinking text and its
// trailing signature. Signature typically arrives after all thinking text
// via a separate signature_delta event — see the egress delayed-close rule.
type ThinkingBlock struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// RedactedThinkingBlock carries opaque redacted-thinking payload data.
// Unlike the other variants it has no delta phase: Anthropic emits it fully
// formed in a single content_block_start event, so it is always Complete.
type RedactedThinkingBlock struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// NewContentBlock starts a new, incomplete ContentBlock at index.
func NewContentBlock(index int, id string) *Block {
	return &Block{Kind: KindContent, Index: index, Content: &ContentBlock{ID: id}}
}

// NewToolCallBlock starts a new, incomplete ToolCallBlock at index.
func NewToolCallBlock(index int, id, name string) *Block {
	return &Block{Kind: KindToolCall, Index: index, ToolCall: &ToolCallBlock{ID: id, Index: index, Name: name}}
}

// NewThinkingBlock starts a new, incomplete ThinkingBlock at index.
func NewThinkingBlock(index int, id string) *Block {
	return &Block{Kind: KindThinking, Index: index, Thinking: &ThinkingBlock{ID: id}}
}

// NewRedactedThinkingBlock builds an already-complete RedactedThinkingBlock.
func NewRedactedThinkingBlock(index int, id, data string) *Block {
	return &Block{
		Kind:             KindRedactedThinking,
		Index:            index,
		Complete:         true,
		RedactedThinking: &RedactedThinkingBlock{ID: id, Data: data},
	}
}

// MarkComplete latches Complete to true. Calling it more than once, or on an
// already-complete block, is a no-op — Complete never clears.
func (b *Block) MarkComplete() {
	b.Complete = true
}

// orderRank implements the Anthropic assembly ordering rule: thinking
// blocks first, then content, then tool calls. Blocks of the same Kind
// keep their relative Index order.
func (b *Block) orderRank() int {
	switch b.Kind {
	case KindThinking, KindRedactedThinking:
		return 0
	case KindContent:
		return 1
	case KindToolCall:
		return 2
	default:
		return 3
	}
}
