package controlconn

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// WireConn is the minimal surface Connection needs from a transport. A real
// implementation wraps *websocket.Conn; tests use an in-memory fake, since
// the protocol logic here has nothing websocket-specific about it.
type WireConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
	SetReadDeadline(t time.Time) error
}

// ErrTimeout is returned when the policy doesn't reply within the given
// deadline. The orchestrator answers it by forwarding the original chunk
// for that round-trip and carrying on with the next one.
var ErrTimeout = errors.New("controlconn: timed out waiting for reply")

// Connection multiplexes one call's worth of chunk round-trips over a
// single WebSocket. Exactly one goroutine may be "in" SendChunk/SendEnd at
// a time per spec's one-WS-per-call rule; the mutex enforces that rather
// than relying on callers to serialize themselves.
type Connection struct {
	callID string
	conn   WireConn

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

// NewConnection wraps conn for callID.
func NewConnection(callID string, conn WireConn) *Connection {
	return &Connection{callID: callID, conn: conn, lastActivity: time.Now()}
}

// CallID returns the call this connection is bound to.
func (c *Connection) CallID() string { return c.callID }

// LastActivity reports when this connection last completed a round-trip,
// for the manager's idle sweep.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Reply is the outcome of one chunk round-trip: the (possibly rewritten)
// chunk to forward, and whether the control plane asked the orchestrator to
// stop reading upstream (a MsgEnd reply, sent early by a policy that wants
// to truncate the stream).
type Reply struct {
	Chunk map[string]any
	End   bool
}

// SendStart writes the initial START frame carrying the request data, per
// spec's "Establishes ... Sends an initial START {request_data} message"
// contract. Unlike SendChunk/SendEnd this has no reply to wait for — the
// control plane creates its per-stream policy context on receipt and the
// first reply arrives with the first CHUNK.
func (c *Connection) SendStart(requestData map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("controlconn: connection %s is closed", c.callID)
	}
	if err := c.conn.WriteJSON(Envelope{Type: MsgStart, CallID: c.callID, Chunk: requestData}); err != nil {
		return fmt.Errorf("controlconn: write START failed: %w", err)
	}
	c.lastActivity = time.Now()
	return nil
}

// SendChunk writes one CHUNK frame and waits up to timeout for the policy's
// reply. Returns the reply on MsgChunk/MsgEnd, or an error on MsgError, a
// read error, or timeout (ErrTimeout).
func (c *Connection) SendChunk(chunk map[string]any, seq int64, timeout time.Duration) (Reply, error) {
	return c.roundTrip(Envelope{Type: MsgChunk, CallID: c.callID, Seq: seq, Chunk: chunk}, timeout)
}

// SendEnd writes an END frame signalling the upstream finished, and waits
// for acknowledgment (some policies want to observe the final summary
// before the connection is released).
func (c *Connection) SendEnd(summary map[string]any, seq int64, timeout time.Duration) (Reply, error) {
	return c.roundTrip(Envelope{Type: MsgEnd, CallID: c.callID, Seq: seq, Chunk: summary}, timeout)
}

func (c *Connection) roundTrip(req Envelope, timeout time.Duration) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Reply{}, fmt.Errorf("controlconn: connection %s is closed", c.callID)
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return Reply{}, fmt.Errorf("controlconn: write failed: %w", err)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Reply{}, fmt.Errorf("controlconn: set read deadline: %w", err)
	}

	var reply Envelope
	if err := c.conn.ReadJSON(&reply); err != nil {
		if isTimeout(err) {
			return Reply{}, ErrTimeout
		}
		return Reply{}, fmt.Errorf("controlconn: read failed: %w", err)
	}

	c.lastActivity = time.Now()

	if reply.Type == MsgError {
		return Reply{}, fmt.Errorf("controlconn: policy error: %s", reply.Error)
	}
	return Reply{Chunk: reply.Chunk, End: reply.Type == MsgEnd}, nil
}

// Close marks the connection closed and releases the underlying transport.
// Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func isTimeout(err error) bool {
	type timeoutError interface {
		Timeout() bool
	}
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
