package taskqueue

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

const runPendingOpActivity = "RunPendingOp"

// Redeliverer durably retries a Queue operation that failed on its first
// attempt, via a Temporal workflow carrying Temporal's own retry policy
// instead of this package's one-shot "log and drop". Grounded on the
// teacher's internal/temporal/temporal.go client construction (API-key
// credentials + TLS for Temporal Cloud) and internal/task/service.go's
// client.Dial usage; there is no teacher analogue for what the workflow
// itself does, since the teacher uses Temporal for user-facing scheduled
// tasks, not for a persistence queue's dead-letter path.
//
// Ops are Go closures, not serializable workflow input, so they can't
// survive a worker restart. What Temporal buys here is bounded, backed-off
// retry of an operation that already failed once synchronously — each
// pending op is kept in an in-memory registry keyed by an opaque id, and
// the workflow's activity looks it up by that id. Redeliverer is therefore a
// same-process reliability improvement (automatic backoff/retry scheduling)
// rather than cross-restart durability; a registered op lost to a restart
// before its activity runs is simply not retried, the same outcome the
// plain "log and drop" path already had.
type Redeliverer struct {
	client    client.Client
	taskQueue string
	log       *logger.Logger

	mu      sync.Mutex
	pending map[string]Op
}

// NewRedeliverer dials the Temporal server. Returns (nil, nil) if endpoint
// is empty — durable redelivery is an optional supplement, not a required
// dependency of the core dataflow.
func NewRedeliverer(endpoint, namespace, apiKey, taskQueue string, log *logger.Logger) (*Redeliverer, error) {
	if endpoint == "" {
		return nil, nil
	}

	opts := client.Options{HostPort: endpoint, Namespace: namespace}
	if apiKey != "" {
		opts.ConnectionOptions = client.ConnectionOptions{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
		opts.Credentials = client.NewAPIKeyStaticCredentials(apiKey)
	}

	c, err := client.Dial(opts)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: temporal dial: %w", err)
	}

	r := &Redeliverer{client: c, taskQueue: taskQueue, log: log.WithComponent("taskqueue-redeliver"), pending: make(map[string]Op)}
	return r, nil
}

// StartWorker registers the redelivery workflow/activity and starts
// processing r's task queue. Call once per process after NewRedeliverer.
func (r *Redeliverer) StartWorker() (worker.Worker, error) {
	w := worker.New(r.client, r.taskQueue, worker.Options{})
	w.RegisterWorkflow(redeliverWorkflow)
	w.RegisterActivityWithOptions(r.runPendingOp, activity.RegisterOptions{Name: runPendingOpActivity})
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("taskqueue: temporal worker start: %w", err)
	}
	return w, nil
}

// Close releases the Temporal client.
func (r *Redeliverer) Close() {
	if r != nil && r.client != nil {
		r.client.Close()
	}
}

// Retry schedules a durably-retried re-attempt of op, which already failed
// once synchronously inside queueName's worker loop.
func (r *Redeliverer) Retry(ctx context.Context, queueName string, op Op) {
	if r == nil || r.client == nil {
		return
	}
	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = op
	r.mu.Unlock()

	opts := client.StartWorkflowOptions{
		ID:        "redeliver-" + queueName + "-" + id,
		TaskQueue: r.taskQueue,
	}
	_, err := r.client.ExecuteWorkflow(ctx, opts, redeliverWorkflow, id)
	if err != nil {
		r.log.Warn("failed to schedule durable redelivery", "queue", queueName, "error", err)
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}
}

func (r *Redeliverer) runPendingOp(ctx context.Context, id string) error {
	r.mu.Lock()
	op, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("taskqueue: no pending op for redelivery id %s", id)
	}
	return op()
}

// redeliverWorkflow runs the activity with a bounded retry/backoff policy
// (up to five attempts), so an op survives activity-level failures (e.g. a
// transient DB outage) instead of the queue's log-and-drop after the first
// attempt.
func redeliverWorkflow(ctx workflow.Context, id string) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, runPendingOpActivity, id).Get(ctx, nil)
}
