package dispatcher

// ExtractCallID pulls a call identifier out of a hook payload, checking the
// root level first and then the two envelope shapes the callback may wrap
// it in.
func ExtractCallID(payload map[string]any) string {
	return extractStringField(payload, "litellm_call_id")
}

// ExtractTraceID pulls a trace identifier out of a hook payload, the same
// way ExtractCallID does for call_id.
func ExtractTraceID(payload map[string]any) string {
	return extractStringField(payload, "litellm_trace_id")
}

func extractStringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	for _, envelopeKey := range []string{"request_data", "data"} {
		nested, ok := payload[envelopeKey].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := nested[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
