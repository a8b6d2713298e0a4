// Package ids provides the call_id/trace_id/connection-id helpers used
// throughout the core, and a monotonic sequence generator (Sequence).
// Grounded on the teacher's usage of google/uuid
// throughout internal/task, internal/invitecode, etc.
package ids

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier, suitable for a call_id generated
// upstream of the core (spec.md §3.1 says call_id is "generated upstream";
// this is what that generator calls).
func New() string {
	return uuid.NewString()
}

// seqCounter guarantees two sequence values requested in the same
// nanosecond still come out strictly increasing, per spec.md §4.4's
// "consecutive sequence numbers (seq, seq+1)" rule for same-invocation
// events sharing a timestamp.
var seqCounter atomic.Int64

// Sequence returns a monotonically increasing nanosecond-scale sequence
// value. The dispatcher does not use it: its fallback timestamp comes from
// time.Now.
func Sequence() int64 {
	now := time.Now().UnixNano()
	for {
		prev := seqCounter.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if seqCounter.CompareAndSwap(prev, next) {
			return next
		}
	}
}
