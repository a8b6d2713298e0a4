package events

import "time"

// ActivityEvent is a coarser record than Event: one per hook invocation
// regardless of whether it carried a call_id, fanned out on a single
// global channel so an operator-facing dashboard can watch raw hook
// traffic across every call. Supplements spec.md §6.1's
// GET /api/activity/stream, whose producer side the distilled spec leaves
// implicit — grounded on original_source's control_plane/activity_stream.py
// (build_activity_events / publish_activity_event).
type ActivityEvent struct {
	Hook      string    `json:"hook"`
	CallID    string    `json:"call_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildActivityEvent derives the activity-stream record for one hook
// invocation. Unlike Builder.Build, this never returns zero events — every
// hook invocation is activity, whether or not it carried a call_id.
func BuildActivityEvent(hook, callID, traceID string, at time.Time) ActivityEvent {
	return ActivityEvent{Hook: hook, CallID: callID, TraceID: traceID, Timestamp: at}
}
