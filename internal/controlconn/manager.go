package controlconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/robfig/cron/v3"
)

// Dialer opens a new transport to the control plane's WebSocket endpoint for
// one call. Implementations wrap gorilla/websocket in production; tests
// supply an in-memory fake — same split as WireConn, one level up.
type Dialer interface {
	Dial(ctx context.Context, callID string) (WireConn, error)
}

// Manager multiplexes at most one active Connection per call_id, per
// spec.md §4.6. Exclusive per-call ownership: a second GetOrCreate for a
// call already being served by this instance returns the existing
// Connection rather than dialing a second one.
//
// Grounded on the teacher's internal/streaming/manager.go StreamManager:
// double-checked-locking map access, and a background sweep goroutine that
// evicts connections idle past a TTL — repurposed here from "keep completed
// sessions around for late joiners" into "free abandoned call slots so a
// future lookup doesn't return a half-dead connection".
type Manager struct {
	dialer Dialer
	log    *logger.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	idleTTL time.Duration
	sweep   *cron.Cron
}

// NewManager constructs a Manager and starts its idle-sweep schedule.
// Call Shutdown when the process is stopping. The sweep runs on
// robfig/cron/v3 (an "@every" schedule built from idleTTL) rather than a
// bare time.Ticker, the recurring-housekeeping dependency SPEC_FULL.md's
// domain stack assigns to this sweep.
func NewManager(dialer Dialer, idleTTL time.Duration, log *logger.Logger) *Manager {
	m := &Manager{
		dialer:  dialer,
		log:     log,
		conns:   make(map[string]*Connection),
		idleTTL: idleTTL,
	}
	if idleTTL > 0 {
		m.sweep = cron.New()
		_, err := m.sweep.AddFunc(fmt.Sprintf("@every %s", (idleTTL / 2).String()), m.sweepIdle)
		if err != nil {
			log.Warn("failed to schedule connection idle sweep, sweeping disabled", "error", err)
			m.sweep = nil
		} else {
			m.sweep.Start()
		}
	}
	return m
}

// GetOrCreate returns the existing Connection for callID, or dials a new
// one and sends the START frame with initialStartPayload. Per spec.md §4.6
// ownership is exclusive: whichever goroutine wins the race to create
// becomes the connection every subsequent GetOrCreate for this callID
// observes, until Close.
func (m *Manager) GetOrCreate(ctx context.Context, callID string, initialStartPayload map[string]any) (*Connection, error) {
	m.mu.RLock()
	if conn, ok := m.conns[callID]; ok {
		m.mu.RUnlock()
		return conn, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[callID]; ok {
		return conn, nil
	}

	wc, err := m.dialer.Dial(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("controlconn: dial failed for call %s: %w", callID, err)
	}
	conn := NewConnection(callID, wc)
	if err := conn.SendStart(initialStartPayload); err != nil {
		conn.Close()
		return nil, err
	}
	m.conns[callID] = conn
	m.log.Info("control-plane connection opened", "call_id", callID)
	return conn, nil
}

// Lookup is a read-only probe for an existing connection, for code that
// wants an in-flight call's channel without creating one. Returns nil if
// none is open.
func (m *Manager) Lookup(callID string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[callID]
}

// Close idempotently tears down the connection for callID and frees its
// slot; a subsequent Lookup returns nil and a subsequent GetOrCreate dials
// fresh.
func (m *Manager) Close(callID string) {
	m.mu.Lock()
	conn, ok := m.conns[callID]
	if ok {
		delete(m.conns, callID)
	}
	m.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			m.log.Warn("error closing control-plane connection", "call_id", callID, "error", err)
		}
	}
}

// Shutdown stops the idle sweep and closes every open connection.
func (m *Manager) Shutdown() {
	if m.sweep != nil {
		ctx := m.sweep.Stop()
		<-ctx.Done()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for callID, conn := range m.conns {
		conn.Close()
		delete(m.conns, callID)
	}
}

func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var stale []*Connection
	for callID, conn := range m.conns {
		if conn.LastActivity().Before(cutoff) {
			stale = append(stale, conn)
			delete(m.conns, callID)
		}
	}
	m.mu.Unlock()

	for _, conn := range stale {
		m.log.Info("sweeping idle control-plane connection", "call_id", conn.CallID())
		conn.Close()
	}
}
