package taskqueue

import (
	"golang.org/x/sync/errgroup"

	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

// Registry holds the dispatcher's two sequential queues as explicit,
// dependency-injected services rather than package-level singletons (the
// design notes call out the source's module-level globals as something to
// avoid in the reimplementation).
type Registry struct {
	DebugLogs          *Queue
	ConversationEvents *Queue
}

// NewRegistry constructs the debug_logs and conversation_events queues.
// redeliver may be nil, in which case a failed operation is logged and
// dropped exactly as before.
func NewRegistry(bufferSize int, log *logger.Logger, redeliver *Redeliverer) *Registry {
	return &Registry{
		DebugLogs:          New("debug_logs", bufferSize, log).WithRedeliverer(redeliver),
		ConversationEvents: New("conversation_events", bufferSize, log).WithRedeliverer(redeliver),
	}
}

// Shutdown drains and stops both queues concurrently, waiting for both
// workers to fully exit before returning. The two queues are independent —
// there's no reason to wait for debug_logs to finish draining before even
// starting conversation_events' shutdown.
func (r *Registry) Shutdown() {
	var g errgroup.Group
	g.Go(func() error {
		r.DebugLogs.Shutdown()
		return nil
	})
	g.Go(func() error {
		r.ConversationEvents.Shutdown()
		return nil
	})
	_ = g.Wait()
}
