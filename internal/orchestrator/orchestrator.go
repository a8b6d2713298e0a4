// Package orchestrator implements the Stream Orchestrator (spec.md §4.1):
// for one streaming call, it ferries chunks between the upstream LLM
// iterator and the control plane, applying any replacement chunks received,
// in strict order, with bounded per-chunk and per-stream timeouts and a
// sticky fail-open passthrough mode.
//
// Grounded on the teacher's internal/streaming/session.go concurrency
// shape: a guarded state struct, a per-stream context derived from the
// client's request context and bounded by T_stream (so a client disconnect
// ends the stream too), panic recovery around the read loop,
// and errors.Is(err, context.Canceled) treated as clean completion rather
// than a failure to log loudly. Re-purposed here from the teacher's
// one-to-many broadcast loop into a one-to-one request/reply against the
// Connection Manager.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/controlconn"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

// Chunk is the wire-level chunk representation carried across the
// orchestrator/control-plane boundary — a decoded JSON object matching
// internal/streamblock's canonical chunk schema.
type Chunk = map[string]any

// State is the Orchestrator's lifecycle state for one stream, per spec.md
// §4.1: Opening -> Active -> Passthrough (sticky) -> Draining -> Closed.
type State int32

const (
	StateOpening State = iota
	StateActive
	StatePassthrough
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StatePassthrough:
		return "passthrough"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UpstreamIterator yields chunks from the upstream LLM provider one at a
// time, the callback side's view of the provider's SSE body. Next returns
// ok=false on clean exhaustion (no more chunks, no error).
type UpstreamIterator interface {
	Next(ctx context.Context) (chunk Chunk, ok bool, err error)
	Close() error
}

// ConnectionManager is the subset of *controlconn.Manager the Orchestrator
// depends on, narrowed to an interface so tests can substitute a fake.
type ConnectionManager interface {
	GetOrCreate(ctx context.Context, callID string, initialStartPayload map[string]any) (*controlconn.Connection, error)
	Close(callID string)
}

// Config holds the timeouts spec.md §4.1/§5 name: T_chunk per round-trip,
// T_stream for the whole call.
type Config struct {
	ChunkTimeout  time.Duration // T_chunk, default 5s
	StreamTimeout time.Duration // T_stream, default 30s, clamp [1s, 600s]
}

// ErrStreamTimeout is returned (via the Result, not a panic/error return —
// the hot path never re-raises) when T_stream elapses before the upstream
// iterator is exhausted. It rides on the final Done Result; no chunk
// follows it and no END is sent to the control plane.
var ErrStreamTimeout = errors.New("orchestrator: stream exceeded T_stream")

// Result is delivered on the Orchestrator's output channel: zero or more
// chunks to emit to the client, terminated by a final Result with Done set.
// Carrying Err alongside Done lets a caller log why a stream ended without
// the orchestrator ever surfacing a user-visible failure mid-stream, per
// spec.md §7's propagation policy.
type Result struct {
	Chunk Chunk
	Done  bool
	Err   error // non-nil only alongside Done; informational, not fatal
}

// Orchestrator drives the per-call streaming pipeline described in
// spec.md §4.1. One instance is shared across all concurrently active
// calls; Run spawns one logical task per call.
type Orchestrator struct {
	Manager ConnectionManager
	Config  Config
	Log     *logger.Logger
}

// New constructs an Orchestrator.
func New(manager ConnectionManager, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 5 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 30 * time.Second
	}
	return &Orchestrator{Manager: manager, Config: cfg, Log: log}
}

// Run ferries chunks between upstream and the control plane for one call.
// It returns a channel the caller (the gateway's SSE writer) ranges over;
// the channel is closed after the final Result is sent. ctx governs client
// cancellation — per spec.md §5, cancelling ctx aborts upstream iteration
// and releases the control-plane connection without emitting END.
//
// This is the channel-based equivalent of the source's async generator:
// Run(callID, upstream_iter, request_data) -> async sequence of chunks.
func (o *Orchestrator) Run(ctx context.Context, callID string, upstream UpstreamIterator, requestData map[string]any) <-chan Result {
	out := make(chan Result)
	go o.run(ctx, callID, upstream, requestData, out)
	return out
}

type run struct {
	o        *Orchestrator
	callID   string
	upstream UpstreamIterator
	out      chan<- Result
	log      *logger.Logger

	state     atomic.Int32
	conn      *controlconn.Connection
	sawError  bool // a MsgError reply was observed: suppress END on exhaustion
	seq       int64
}

func (o *Orchestrator) run(ctx context.Context, callID string, upstream UpstreamIterator, requestData map[string]any, out chan<- Result) {
	defer close(out)

	r := &run{o: o, callID: callID, upstream: upstream, out: out, log: o.Log.WithComponent("orchestrator").WithFields(map[string]any{"call_id": callID})}
	r.setState(StateOpening)

	streamCtx, cancel := context.WithTimeout(ctx, o.Config.StreamTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("orchestrator panic recovered", slog.Any("panic", rec))
			r.emitDone(fmt.Errorf("orchestrator: panic: %v", rec))
		}
		r.cleanup()
	}()

	conn, err := o.Manager.GetOrCreate(streamCtx, callID, requestData)
	if err != nil {
		// Initial connection failure: passthrough the whole stream, never
		// establish a channel for this call (spec.md §4.1 failure
		// semantics).
		r.log.Warn("initial control-plane connection failed, passthrough", slog.Any("error", err))
		r.setState(StatePassthrough)
	} else {
		r.conn = conn
		r.setState(StateActive)
	}

	r.pump(streamCtx)
}

func (r *run) pump(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			// Client disconnect or T_stream elapsed. Either way: no END,
			// resources released in cleanup. T_stream is reported as
			// ErrStreamTimeout on the final Result.
			var doneErr error
			if errors.Is(err, context.DeadlineExceeded) {
				r.log.Warn("stream exceeded T_stream, switching to passthrough+cleanup")
				r.setState(StatePassthrough)
				doneErr = ErrStreamTimeout
			}
			r.emitDone(doneErr)
			return
		}

		chunk, ok, err := r.upstream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					r.emitDone(ErrStreamTimeout)
					return
				}
				r.emitDone(nil)
				return
			}
			r.log.Warn("upstream iterator error, passthrough for remainder", slog.Any("error", err))
			r.setState(StatePassthrough)
			r.emitDone(err)
			return
		}
		if !ok {
			// Clean upstream exhaustion.
			r.setState(StateDraining)
			r.sendEndIfNeeded(ctx)
			r.emitDone(nil)
			return
		}

		r.seq++
		out := r.handleChunk(ctx, chunk, r.seq)
		select {
		case r.out <- Result{Chunk: out}:
		case <-ctx.Done():
			r.emitDone(nil)
			return
		}
	}
}

// handleChunk applies the per-chunk protocol (spec.md §4.1 table) and
// returns the chunk to emit to the client: the original, unless the
// control plane replied with a validated CHUNK to use in its place.
func (r *run) handleChunk(ctx context.Context, chunk Chunk, seq int64) Chunk {
	if r.state.Load() != int32(StateActive) || r.conn == nil {
		return chunk // sticky passthrough: forward verbatim
	}

	reply, err := r.conn.SendChunk(chunk, seq, r.o.Config.ChunkTimeout)
	switch {
	case errors.Is(err, controlconn.ErrTimeout):
		// Per-chunk timeout: yield the original, stay Active, keep going.
		r.log.Debug("control-plane chunk timeout, emitting original", slog.Int64("seq", seq))
		return chunk
	case err != nil:
		// MsgError reply, or a transport-level send/read failure: both are
		// sticky passthrough for the remainder of the stream (§4.1 failure
		// semantics treats a MsgError identically to a send failure for
		// this purpose — once the control plane can't be trusted for this
		// call, every later chunk also goes verbatim).
		r.log.Warn("control-plane reply error, entering passthrough", slog.Any("error", err))
		r.sawError = true
		r.setState(StatePassthrough)
		return chunk
	}

	if reply.End {
		// Control plane asked to stop reading upstream early. Treat the
		// remainder exactly like clean exhaustion from the caller's view:
		// one more pump() iteration will see ctx live, call upstream.Next
		// again — so signal drain by switching state and letting pump's
		// ctx-independent exit happen via upstream.Close in cleanup. The
		// simplest correct approach is to close the upstream iterator now
		// so the next Next() call returns !ok immediately.
		r.upstream.Close()
		r.setState(StateDraining)
		if reply.Chunk != nil {
			return reply.Chunk
		}
		return chunk
	}

	if reply.Chunk == nil {
		return chunk
	}
	if !validChunk(reply.Chunk) {
		r.log.Warn("policy returned malformed chunk, using original", slog.Int64("seq", seq))
		return chunk
	}
	return reply.Chunk
}

// validChunk is the §3.2 canonical-schema validation gate applied to every
// chunk the control plane hands back: it must round-trip through the
// canonical JSON shape. A malformed reply is never forwarded to the
// client — the original upstream chunk is used instead (§4.2's "malformed
// chunk returned by the policy" error handling).
func validChunk(c Chunk) bool {
	if c == nil {
		return false
	}
	b, err := json.Marshal(c)
	if err != nil {
		return false
	}
	var probe struct {
		Choices []map[string]any `json:"choices"`
	}
	return json.Unmarshal(b, &probe) == nil
}

func (r *run) sendEndIfNeeded(ctx context.Context) {
	if r.conn == nil || r.state.Load() == int32(StatePassthrough) {
		return
	}
	if r.sawError {
		return
	}
	r.seq++
	if _, err := r.conn.SendEnd(nil, r.seq, r.o.Config.ChunkTimeout); err != nil {
		r.log.Debug("SendEnd failed, proceeding with cleanup anyway", slog.Any("error", err))
	}
}

func (r *run) emitDone(err error) {
	r.setState(StateClosed)
	select {
	case r.out <- Result{Done: true, Err: err}:
	default:
		// Caller already stopped reading (e.g. context cancelled between
		// the last chunk and here); nothing more to deliver.
	}
}

func (r *run) cleanup() {
	if r.upstream != nil {
		_ = r.upstream.Close()
	}
	if r.o.Manager != nil {
		r.o.Manager.Close(r.callID)
	}
}

func (r *run) setState(s State) {
	r.state.Store(int32(s))
}
