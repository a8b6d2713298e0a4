package streamblock

// AnthropicEvent is the typed shape of one Anthropic Messages-API SSE event,
// after the transport layer has split "event: <type>" / "data: <json>" pairs
// and decoded the JSON body. Exactly the fields relevant to the event's Type
// are populated; the rest are the zero value.
type AnthropicEvent struct {
	Type string `json:"type"`

	// message_start
	Message *AnthropicMessageStart `json:"message,omitempty"`

	// content_block_start / content_block_stop
	Index        int                    `json:"index"`
	ContentBlock *AnthropicContentBlock `json:"content_block,omitempty"`

	// content_block_delta
	Delta *AnthropicDelta `json:"delta,omitempty"`

	// message_delta
	Usage *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicMessageStart carries the fields of a message_start event needed
// to open a canonical call.
type AnthropicMessageStart struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// AnthropicContentBlock is the payload of a content_block_start event. Type
// selects which of the remaining fields apply: "text", "tool_use",
// "thinking", or "redacted_thinking".
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// tool_use
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`

	// redacted_thinking
	Data string `json:"data,omitempty"`
}

// AnthropicDelta is the payload of a content_block_delta or message_delta
// event. Type selects which field applies for a content_block_delta:
// "text_delta", "input_json_delta", "thinking_delta", or "signature_delta".
// For message_delta, StopReason is populated instead.
type AnthropicDelta struct {
	Type string `json:"type"`

	Text        string `json:"text,omitempty"`         // text_delta
	PartialJSON string `json:"partial_json,omitempty"`  // input_json_delta
	Thinking    string `json:"thinking,omitempty"`      // thinking_delta
	Signature   string `json:"signature,omitempty"`     // signature_delta

	StopReason string `json:"stop_reason,omitempty"` // message_delta
}

// AnthropicUsage carries token accounting from a message_delta event.
// Not part of the StreamBlock model; surfaced for completeness of the
// ingress table but not otherwise consumed by the core.
type AnthropicUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// FinishReasonForStopReason maps an Anthropic stop_reason to the canonical
// OpenAI-style finish_reason.
func FinishReasonForStopReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}
