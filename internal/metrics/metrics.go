// Package metrics wires github.com/prometheus/client_golang into the
// control plane's ambient observability surface: the orchestrator's
// passthrough rate, the dispatcher's hook latency, task-queue depth, and
// rate-limiter rejections. Only TaskQueueDepth (internal/taskqueue) and
// RateLimitRejections (internal/httpapi) are recorded to; ChunksForwarded,
// PassthroughTransitions and HookLatency are registered and exported but
// nothing in this module updates them. Purely additive per SPEC_FULL.md — nothing here
// gates spec.md behavior, and a caller who never touches this package gets
// a fully spec-compliant core regardless.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksForwarded counts chunks the orchestrator emitted to clients,
	// labeled by how they got there.
	ChunksForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luthien_orchestrator_chunks_forwarded_total",
		Help: "Chunks forwarded to clients by the stream orchestrator.",
	}, []string{"mode"}) // mode: "policy_reply" | "timeout_original" | "passthrough"

	// PassthroughTransitions counts how often a stream enters sticky
	// passthrough, labeled by the reason.
	PassthroughTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luthien_orchestrator_passthrough_transitions_total",
		Help: "Times a stream entered sticky passthrough mode.",
	}, []string{"reason"}) // reason: "initial_connect_failed" | "policy_error" | "send_failed" | "stream_timeout"

	// HookLatency observes how long the dispatcher spends inside one hook
	// invocation (policy call + event build + queue submit).
	HookLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luthien_dispatcher_hook_duration_seconds",
		Help:    "Time spent dispatching one hook invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"hook"})

	// TaskQueueDepth reports a queue's current backlog, sampled on submit.
	TaskQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "luthien_taskqueue_depth",
		Help: "Pending operations in a sequential task queue.",
	}, []string{"queue"})

	// RateLimitRejections counts TryAcquire calls that returned false.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luthien_ratelimit_rejections_total",
		Help: "Requests rejected by the sliding-window rate limiter.",
	}, []string{"endpoint"})
)
