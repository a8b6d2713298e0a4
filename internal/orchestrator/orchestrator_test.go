package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/controlconn"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

// sliceIterator is an UpstreamIterator over a fixed slice of chunks, the
// orchestrator-test equivalent of the teacher's mockReadCloser.
type sliceIterator struct {
	mu     sync.Mutex
	chunks []Chunk
	idx    int
	closed bool
}

func newSliceIterator(chunks ...Chunk) *sliceIterator {
	return &sliceIterator{chunks: chunks}
}

func (s *sliceIterator) Next(ctx context.Context) (Chunk, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.idx >= len(s.chunks) {
		return nil, false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}

func (s *sliceIterator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeWire is an in-process WireConn: every WriteJSON is handed to a policy
// function which produces the reply the next ReadJSON returns. No actual
// network round trip, matching the in-memory-fake convention
// controlconn.WireConn's doc comment calls for.
type fakeWire struct {
	policy    func(controlconn.Envelope) controlconn.Envelope
	timeoutOn map[int]bool // 1-indexed WriteJSON call numbers that "never reply"
	calls     int
	closed    bool
	pending   controlconn.Envelope
	timedOut  bool
}

func (f *fakeWire) WriteJSON(v any) error {
	env := v.(controlconn.Envelope)
	f.calls++
	if f.timeoutOn[f.calls] {
		f.timedOut = true
		return nil
	}
	f.timedOut = false
	f.pending = f.policy(env)
	return nil
}

func (f *fakeWire) ReadJSON(v any) error {
	if f.timedOut {
		return &fakeTimeoutErr{}
	}
	*(v.(*controlconn.Envelope)) = f.pending
	return nil
}

func (f *fakeWire) Close() error { f.closed = true; return nil }

func (f *fakeWire) SetReadDeadline(t time.Time) error { return nil }

// fakeTimeoutErr satisfies the net.Error-shaped Timeout() bool interface
// controlconn.isTimeout checks for, without needing a real deadline to
// elapse.
type fakeTimeoutErr struct{}

func (e *fakeTimeoutErr) Error() string { return "fake: i/o timeout" }
func (e *fakeTimeoutErr) Timeout() bool { return true }

// fakeManager adapts one pre-built *controlconn.Connection into
// orchestrator.ConnectionManager for a single call_id, enough for these
// per-call tests.
type fakeManager struct {
	conn   *controlconn.Connection
	dialErr error
	closed  []string
}

func (m *fakeManager) GetOrCreate(ctx context.Context, callID string, start map[string]any) (*controlconn.Connection, error) {
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	return m.conn, nil
}

func (m *fakeManager) Close(callID string) {
	m.closed = append(m.closed, callID)
}

func uppercasePolicy(env controlconn.Envelope) controlconn.Envelope {
	if env.Type != controlconn.MsgChunk {
		return controlconn.Envelope{Type: controlconn.MsgEnd, CallID: env.CallID}
	}
	delta, _ := env.Chunk["delta"].(map[string]any)
	content, _ := delta["content"].(string)
	if content == "" {
		return controlconn.Envelope{Type: controlconn.MsgChunk, CallID: env.CallID, Chunk: env.Chunk}
	}
	rewritten := map[string]any{"delta": map[string]any{"content": strings.ToUpper(content)}}
	return controlconn.Envelope{Type: controlconn.MsgChunk, CallID: env.CallID, Chunk: rewritten}
}

func collect(t *testing.T, results <-chan Result, timeout time.Duration) []Result {
	t.Helper()
	var out []Result
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return out
			}
			out = append(out, r)
			if r.Done {
				return out
			}
		case <-deadline:
			t.Fatal("timed out waiting for orchestrator results")
			return out
		}
	}
}

// S2: OpenAI streaming, uppercase policy.
func TestRun_UppercasePolicy(t *testing.T) {
	wire := &fakeWire{policy: uppercasePolicy}
	conn := controlconn.NewConnection("call-1", wire)
	mgr := &fakeManager{conn: conn}

	o := New(mgr, Config{ChunkTimeout: time.Second, StreamTimeout: 5 * time.Second}, testLogger())

	upstream := newSliceIterator(
		Chunk{"delta": map[string]any{"content": "ab"}},
		Chunk{"delta": map[string]any{"content": "cd"}},
	)

	results := collect(t, o.Run(context.Background(), "call-1", upstream, map[string]any{"model": "gpt-4"}), 2*time.Second)

	if len(results) != 3 { // 2 chunks + final Done
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	first := results[0].Chunk["delta"].(map[string]any)["content"]
	second := results[1].Chunk["delta"].(map[string]any)["content"]
	if first != "AB" || second != "CD" {
		t.Fatalf("expected uppercased content, got %v / %v", first, second)
	}
	if !results[2].Done {
		t.Fatalf("expected final result to be Done")
	}
	if len(mgr.closed) != 1 || mgr.closed[0] != "call-1" {
		t.Fatalf("expected connection manager Close for call-1, got %v", mgr.closed)
	}
}

// S5: control-plane timeout on one chunk still yields every upstream chunk,
// in order, using the original for the timed-out one.
func TestRun_ChunkTimeoutYieldsOriginal(t *testing.T) {
	policy := func(env controlconn.Envelope) controlconn.Envelope {
		return controlconn.Envelope{Type: controlconn.MsgChunk, CallID: env.CallID, Chunk: env.Chunk}
	}
	// Chunk #2 (WriteJSON call #2; the END frame is call #4) never gets a
	// reply within T_chunk; only the middle upstream chunk should time out.
	wire := &fakeWire{policy: policy, timeoutOn: map[int]bool{2: true}}
	conn := controlconn.NewConnection("call-2", wire)
	mgr := &fakeManager{conn: conn}

	o := New(mgr, Config{ChunkTimeout: 20 * time.Millisecond, StreamTimeout: 5 * time.Second}, testLogger())

	upstream := newSliceIterator(
		Chunk{"delta": map[string]any{"content": "one"}},
		Chunk{"delta": map[string]any{"content": "two"}},
		Chunk{"delta": map[string]any{"content": "three"}},
	)

	results := collect(t, o.Run(context.Background(), "call-2", upstream, nil), 2*time.Second)
	if len(results) != 4 {
		t.Fatalf("expected 3 chunks + done, got %d", len(results))
	}
	want := []string{"one", "two", "three"}
	for i, w := range want {
		got := results[i].Chunk["delta"].(map[string]any)["content"]
		if got != w {
			t.Fatalf("result %d: want %q, got %v", i, w, got)
		}
	}
}

// Initial connection failure: the whole stream runs in passthrough, chunks
// pass through verbatim, and no panic/blocking occurs.
func TestRun_InitialConnectFailurePassthrough(t *testing.T) {
	mgr := &fakeManager{dialErr: errConnectFailed}
	o := New(mgr, Config{ChunkTimeout: time.Second, StreamTimeout: time.Second}, testLogger())

	upstream := newSliceIterator(
		Chunk{"delta": map[string]any{"content": "x"}},
		Chunk{"delta": map[string]any{"content": "y"}},
	)

	results := collect(t, o.Run(context.Background(), "call-3", upstream, nil), 2*time.Second)
	if len(results) != 3 {
		t.Fatalf("expected 2 chunks + done, got %d", len(results))
	}
	if results[0].Chunk["delta"].(map[string]any)["content"] != "x" {
		t.Fatalf("passthrough chunk mutated: %v", results[0].Chunk)
	}
}

// S6-equivalent: client cancellation stops the pump without emitting a
// fabricated final chunk, and releases the connection manager's slot.
func TestRun_ClientCancellation(t *testing.T) {
	wire := &fakeWire{policy: func(env controlconn.Envelope) controlconn.Envelope {
		return controlconn.Envelope{Type: controlconn.MsgChunk, CallID: env.CallID, Chunk: env.Chunk}
	}}
	conn := controlconn.NewConnection("call-4", wire)
	mgr := &fakeManager{conn: conn}
	o := New(mgr, Config{ChunkTimeout: time.Second, StreamTimeout: 5 * time.Second}, testLogger())

	upstream := newSliceIterator(Chunk{"delta": map[string]any{"content": "only"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := collect(t, o.Run(ctx, "call-4", upstream, nil), 2*time.Second)
	if len(results) != 1 || !results[0].Done {
		t.Fatalf("expected a single Done result on pre-cancelled context, got %v", results)
	}
	if len(mgr.closed) != 1 {
		t.Fatalf("expected connection manager Close to run on cancellation")
	}
}

var errConnectFailed = &testErr{"simulated connect failure"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
