package controlconn

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens the callback side's connection to the control plane's
// §6.2 WebSocket endpoint, one per call. Grounded on the teacher's
// internal/deepr/service.go outbound dial: websocket.DefaultDialer with an
// explicit HandshakeTimeout rather than letting a stuck TCP handshake hang
// the caller indefinitely.
type WSDialer struct {
	// BaseURL is the control plane's base URL, e.g. "http://localhost:8081"
	// (converted to ws://.../ws internally) — spec.md §6.4's CONTROL_PLANE_URL.
	BaseURL          string
	HandshakeTimeout time.Duration

	// Token, if set, is sent as "Authorization: Bearer <token>" on the
	// upgrade request — the callback side of the svcauth stub.
	Token string
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, callID string) (WireConn, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("call_id", callID)
	u.RawQuery = q.Encode()

	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	} else {
		dialer.HandshakeTimeout = 30 * time.Second
	}

	var header http.Header
	if d.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + d.Token}}
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	return &wsWireConn{conn: conn}, nil
}

// wsWireConn adapts *websocket.Conn to WireConn.
type wsWireConn struct {
	conn *websocket.Conn
}

func (w *wsWireConn) WriteJSON(v any) error            { return w.conn.WriteJSON(v) }
func (w *wsWireConn) ReadJSON(v any) error              { return w.conn.ReadJSON(v) }
func (w *wsWireConn) Close() error                      { return w.conn.Close() }
func (w *wsWireConn) SetReadDeadline(t time.Time) error { return w.conn.SetReadDeadline(t) }
