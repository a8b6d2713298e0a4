package events

import (
	"strings"
	"time"
)

// Message is one chat-format message (role + content) as carried in a
// request_started or request_completed event's payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageDiff describes one message position that changed between the
// original and final conversation, relative to the running baseline left
// by the previous call in the same conversation.
type MessageDiff struct {
	Role     string `json:"role"`
	Original string `json:"original"`
	Final    string `json:"final"`
}

// CallSnapshot is the aggregated view of one call's events: its request
// messages (original and policy-final), assembled response text, and the
// message-level diff against the conversation baseline.
type CallSnapshot struct {
	CallID                 string        `json:"call_id"`
	TraceID                string        `json:"trace_id,omitempty"`
	StartedAt              time.Time     `json:"started_at"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty"`
	Status                 string        `json:"status"`
	NewMessages            []MessageDiff `json:"new_messages"`
	RequestOriginalMessages []Message    `json:"request_original_messages"`
	RequestFinalMessages    []Message    `json:"request_final_messages"`
	OriginalResponse       string        `json:"original_response"`
	FinalResponse          string        `json:"final_response"`
	ChunkCount             int           `json:"chunk_count"`
	OriginalChunks         []string      `json:"original_chunks"`
	FinalChunks            []string      `json:"final_chunks"`
}

// BuildCallSnapshots aggregates a (possibly multi-call) event sequence into
// one CallSnapshot per call_id, in first-seen order, threading each call's
// final messages forward as the next call's conversation baseline so
// unchanged leading turns can be elided from NewMessages.
func BuildCallSnapshots(all []Event) []CallSnapshot {
	ordered := make([]Event, len(all))
	copy(ordered, all)
	SortEvents(ordered)

	byCall := map[string][]Event{}
	var callOrder []string
	for _, e := range ordered {
		if _, seen := byCall[e.CallID]; !seen {
			callOrder = append(callOrder, e.CallID)
		}
		byCall[e.CallID] = append(byCall[e.CallID], e)
	}

	var snapshots []CallSnapshot
	var baseline []Message

	for _, callID := range callOrder {
		snap, effectiveFinal := buildOne(callID, byCall[callID], baseline)
		snapshots = append(snapshots, snap)

		next := append([]Message{}, effectiveFinal...)
		if snap.FinalResponse != "" {
			next = append(next, Message{Role: "assistant", Content: snap.FinalResponse})
		} else if snap.OriginalResponse != "" {
			next = append(next, Message{Role: "assistant", Content: snap.OriginalResponse})
		}
		baseline = next
	}
	return snapshots
}

func buildOne(callID string, callEvents []Event, baseline []Message) (CallSnapshot, []Message) {
	var (
		requestOriginal, requestFinal []Message
		originalChunks, finalChunks   []string
		startedAt                     time.Time
		completedAt                   *time.Time
		traceID                       string
		status                        = "pending"
	)

	for _, e := range callEvents {
		if startedAt.IsZero() || e.Timestamp.Before(startedAt) {
			startedAt = e.Timestamp
		}
		if e.TraceID != "" && traceID == "" {
			traceID = e.TraceID
		}

		switch e.Kind {
		case KindRequestStarted:
			requestOriginal = toMessages(e.Payload["original_messages"])
			final := toMessages(e.Payload["final_messages"])
			if len(final) > 0 {
				requestFinal = final
			} else {
				requestFinal = requestOriginal
			}
			originalChunks = nil
			finalChunks = nil

		case KindOriginalChunk:
			originalChunks = setAtChunkIndex(originalChunks, e.Payload)

		case KindFinalChunk:
			finalChunks = setAtChunkIndex(finalChunks, e.Payload)

		case KindRequestCompleted:
			if s, ok := e.Payload["status"].(string); ok && s != "" {
				status = s
			} else {
				status = "success"
			}
			if orig, ok := e.Payload["original_response"].(string); ok && orig != "" {
				originalChunks = []string{orig}
			}
			if fin, ok := e.Payload["final_response"].(string); ok && fin != "" {
				finalChunks = []string{fin}
			}
			ts := e.Timestamp
			completedAt = &ts

			if len(requestOriginal) == 0 && len(requestFinal) == 0 {
				if msgs, ok := e.Payload["request_messages"]; ok {
					reconstructed := toMessages(msgs)
					requestOriginal = reconstructed
					requestFinal = reconstructed
				}
			}
		}
	}

	originalResponse := joinStrings(originalChunks)
	finalResponse := joinStrings(finalChunks)
	if finalResponse == "" {
		finalResponse = originalResponse
	}
	if len(originalChunks) == 0 && originalResponse != "" {
		originalChunks = []string{originalResponse}
	}
	if len(finalChunks) == 0 && finalResponse != "" {
		finalChunks = []string{finalResponse}
	}

	effectiveFinal := requestFinal
	if len(effectiveFinal) == 0 {
		effectiveFinal = requestOriginal
	}

	diffs := diffMessages(requestOriginal, effectiveFinal, baseline)

	return CallSnapshot{
		CallID:                  callID,
		TraceID:                 traceID,
		StartedAt:               startedAt,
		CompletedAt:             completedAt,
		Status:                  normalizeStatus(status, len(finalChunks), completedAt),
		NewMessages:             diffs,
		RequestOriginalMessages: requestOriginal,
		RequestFinalMessages:    effectiveFinal,
		OriginalResponse:        originalResponse,
		FinalResponse:           finalResponse,
		ChunkCount:              len(finalChunks),
		OriginalChunks:          originalChunks,
		FinalChunks:             finalChunks,
	}, effectiveFinal
}

func setAtChunkIndex(chunks []string, payload map[string]any) []string {
	delta, _ := payload["delta"].(string)
	idx, hasIdx := toInt64(payload["chunk_index"])
	if hasIdx {
		for len(chunks) <= int(idx) {
			chunks = append(chunks, "")
		}
		chunks[idx] = delta
	} else if delta != "" {
		chunks = append(chunks, delta)
	}
	return chunks
}

func joinStrings(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func toMessages(v any) []Message {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

// diffMessages builds the per-position diff of a call's original/final
// request messages against the running conversation baseline, skipping
// positions whose final message matches the baseline (and whose original
// message, if present, also matches it) — those are turns carried over
// unchanged from an earlier call, not new to this one.
func diffMessages(original, final, baseline []Message) []MessageDiff {
	maxLen := len(original)
	if len(final) > maxLen {
		maxLen = len(final)
	}
	if len(baseline) > maxLen {
		maxLen = len(baseline)
	}

	var diffs []MessageDiff
	for i := 0; i < maxLen; i++ {
		var originalMsg, finalMsg, baselineMsg *Message
		if i < len(original) {
			originalMsg = &original[i]
		}
		if i < len(final) {
			finalMsg = &final[i]
		}
		if i < len(baseline) {
			baselineMsg = &baseline[i]
		}

		role := "unknown"
		switch {
		case finalMsg != nil:
			role = finalMsg.Role
		case originalMsg != nil:
			role = originalMsg.Role
		case baselineMsg != nil:
			role = baselineMsg.Role
		}

		originalText := ""
		if originalMsg != nil {
			originalText = originalMsg.Content
		}
		finalText := originalText
		if finalMsg != nil {
			finalText = finalMsg.Content
		}

		if baselineMsg != nil && finalMsg != nil && messageEquals(*finalMsg, *baselineMsg) {
			if originalMsg == nil || messageEquals(*originalMsg, *baselineMsg) {
				continue
			}
		}

		if originalText == "" && finalText == "" {
			continue
		}

		diffs = append(diffs, MessageDiff{Role: role, Original: originalText, Final: finalText})
	}
	return diffs
}

func messageEquals(a, b Message) bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), strings.TrimSpace(b.Role)) && a.Content == b.Content
}

// normalizeStatus maps a raw status string to the canonical status literal:
// an already-canonical status passes through; otherwise completion implies
// success, chunks-with-no-completion implies still streaming, and no
// evidence of either implies pending — for a call whose trace is scanned
// mid-stream, before its terminal hook has landed.
func normalizeStatus(status string, chunkCount int, completedAt *time.Time) string {
	switch status {
	case "success", "stream_summary", "failure", "streaming":
		return status
	}
	if completedAt != nil {
		return "success"
	}
	if chunkCount > 0 {
		return "streaming"
	}
	return "pending"
}
