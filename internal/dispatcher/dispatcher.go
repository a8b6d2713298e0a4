// Package dispatcher implements the Policy Hook Dispatcher: it receives a
// hook invocation, drives the configured policy, and fans the result out to
// the debug-log and conversation-event task queues without blocking the
// caller on persistence or publish.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/policy"
	"github.com/luthienresearch/luthien-proxy/internal/taskqueue"
)

// DebugLogWriter persists one labeled debug-log record. Implemented by
// internal/storage; kept as an interface here so the dispatcher doesn't
// import the storage package directly.
type DebugLogWriter interface {
	WriteDebugLog(ctx context.Context, label string, record map[string]any) error
}

// EventSink receives one ConversationEvent for persistence or publish.
// internal/storage and internal/pubsub each implement it; the dispatcher
// submits to both through the same task-queue op.
type EventSink interface {
	HandleEvent(ctx context.Context, evt events.Event) error
}

// Dispatcher drives a policy's hooks and records the resulting events.
// One Dispatcher per control-plane process; Dispatch is safe for
// concurrent use by multiple hook-handling goroutines.
type Dispatcher struct {
	Policy   any
	Queues   *taskqueue.Registry
	Events   *events.Builder
	DebugLog DebugLogWriter
	Sinks    []EventSink
	Log      *logger.Logger

	mu       sync.Mutex
	counters map[string]int
}

// New constructs a Dispatcher. pol is any value implementing some subset of
// the policy.*Hook interfaces.
func New(pol any, queues *taskqueue.Registry, builder *events.Builder, debugLog DebugLogWriter, log *logger.Logger, sinks ...EventSink) *Dispatcher {
	return &Dispatcher{
		Policy:   pol,
		Queues:   queues,
		Events:   builder,
		DebugLog: debugLog,
		Sinks:    sinks,
		Log:      log,
		counters: make(map[string]int),
	}
}

// Dispatch implements the non-streaming hook dataflow: log the original
// payload, invoke the policy (if it implements a handler for this hook),
// log and fan out the result, and return the (possibly rewritten) payload
// to the caller. Errors from the policy hook itself propagate to the
// caller; queue submission never blocks or errors back — failures there are
// logged and swallowed by the queue (spec's fail-open philosophy extended
// to the dispatcher's side-effect path).
func (d *Dispatcher) Dispatch(ctx context.Context, hook string, payload map[string]any) (map[string]any, error) {
	now := time.Now()
	d.countHook(hook)

	d.logDebug(ctx, "hook:"+hook+":request", payload, now)

	callID := ExtractCallID(payload)
	traceID := ExtractTraceID(payload)

	result, err := invokeHook(ctx, d.Policy, hook, payload)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = payload
	}

	d.logDebug(ctx, "hook:"+hook+":response", result, now)

	if d.Queues != nil {
		activity := events.BuildActivityEvent(hook, callID, traceID, now)
		for _, sink := range d.Sinks {
			if ap, ok := sink.(interface{ PublishActivity(events.ActivityEvent) error }); ok {
				d.Queues.ConversationEvents.Submit(func() error { return ap.PublishActivity(activity) })
			}
		}
	}

	if callID != "" {
		evs := d.Events.Build(hook, callID, traceID, payload, result, now)
		d.submitEvents(ctx, evs)
	}

	return result, nil
}

func (d *Dispatcher) countHook(hook string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters[hook]++
}

// Counters returns a snapshot of per-hook invocation counts.
func (d *Dispatcher) Counters() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.counters))
	for k, v := range d.counters {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) logDebug(ctx context.Context, label string, record map[string]any, at time.Time) {
	if d.DebugLog == nil || d.Queues == nil {
		return
	}
	stamped := make(map[string]any, len(record)+1)
	for k, v := range record {
		stamped[k] = v
	}
	stamped["post_time_ns"] = at.UnixNano()
	d.Queues.DebugLogs.Submit(func() error {
		return d.DebugLog.WriteDebugLog(ctx, label, stamped)
	})
}

func (d *Dispatcher) submitEvents(ctx context.Context, evs []events.Event) {
	if d.Queues == nil {
		return
	}
	for _, evt := range evs {
		evt := evt
		d.Queues.ConversationEvents.Submit(func() error {
			for _, sink := range d.Sinks {
				if err := sink.HandleEvent(ctx, evt); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// invokeHook type-asserts pol against the capability interface matching
// hook, and calls it if present. A policy with no handler for this hook
// leaves the payload unchanged — the same "no handler means pass through"
// rule the generic hook endpoint follows.
func invokeHook(ctx context.Context, pol any, hook string, payload map[string]any) (map[string]any, error) {
	switch hook {
	case "pre_call_hook":
		if h, ok := pol.(policy.PreCallHook); ok {
			return h.PreCall(ctx, payload)
		}
	case "post_call_success_hook":
		if h, ok := pol.(policy.PostCallSuccessHook); ok {
			resp, _ := payload["response"].(map[string]any)
			if resp == nil {
				resp = payload
			}
			return h.PostCallSuccess(ctx, payload, resp)
		}
	case "post_call_failure_hook":
		if h, ok := pol.(policy.PostCallFailureHook); ok {
			h.PostCallFailure(ctx, payload, nil)
		}
	case "moderation_hook":
		if h, ok := pol.(policy.ModerationHook); ok {
			if err := h.Moderate(ctx, payload); err != nil {
				return nil, err
			}
		}
	}
	return payload, nil
}
