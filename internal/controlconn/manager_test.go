package controlconn

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

type fakeWireConn struct {
	mu     sync.Mutex
	closed bool
	writes []Envelope
}

func (f *fakeWireConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v.(Envelope))
	return nil
}

func (f *fakeWireConn) ReadJSON(v any) error {
	*v.(*Envelope) = Envelope{Type: MsgChunk}
	return nil
}

func (f *fakeWireConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWireConn) SetReadDeadline(time.Time) error { return nil }

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	lastErr error
}

func (d *fakeDialer) Dial(ctx context.Context, callID string) (WireConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.lastErr != nil {
		return nil, d.lastErr
	}
	return &fakeWireConn{}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func TestManager_GetOrCreateReusesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, 0, testLogger())
	defer m.Shutdown()

	c1, err := m.GetOrCreate(context.Background(), "call-1", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c2, err := m.GetOrCreate(context.Background(), "call-1", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the same connection for repeated GetOrCreate on one call_id")
	}
	if dialer.dials != 1 {
		t.Fatalf("expected exactly one dial, got %d", dialer.dials)
	}
}

func TestManager_CloseFreesSlot(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, 0, testLogger())
	defer m.Shutdown()

	c1, err := m.GetOrCreate(context.Background(), "call-1", nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	m.Close("call-1")

	if got := m.Lookup("call-1"); got != nil {
		t.Fatal("expected no connection after Close")
	}

	c2, err := m.GetOrCreate(context.Background(), "call-1", nil)
	if err != nil {
		t.Fatalf("GetOrCreate after close: %v", err)
	}
	if c1 == c2 {
		t.Fatal("expected a fresh connection after Close")
	}
	if dialer.dials != 2 {
		t.Fatalf("expected two dials total, got %d", dialer.dials)
	}
}

func TestManager_SweepEvictsIdleConnections(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, 20*time.Millisecond, testLogger())
	defer m.Shutdown()

	if _, err := m.GetOrCreate(context.Background(), "call-1", nil); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Lookup("call-1") == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle connection to be swept")
}
