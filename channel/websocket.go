package channel

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket adapts a *websocket.Conn to the Channel interface. Each message
// is sent and received as one WebSocket text frame carrying one JSON value
// (request, batch, or response), per spec.md §6's WS-upgrade transport.
//
// Send is safe for concurrent use by multiple goroutines (gorilla's Conn is
// not, by itself); Recv is expected to be called from a single reader
// goroutine, matching how every Channel implementation in this lineage is
// used (appilon-jrpc2/channel/raw.go has the same single-reader contract).
type WebSocket struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWebSocket wraps conn as a Channel.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Send implements Sender.
func (w *WebSocket) Send(msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

// Recv implements Receiver. Binary frames are skipped rather than failing
// the channel outright, mirroring the tolerance spec.md §4.7 asks of the
// client coordinator ("inbound binary frames are ignored").
func (w *WebSocket) Recv() ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close implements Channel.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

// CloseWithReason sends a WebSocket close frame carrying reason before
// closing the underlying connection, used by the connection manager when a
// hibernating connection's max-hibernation timer expires (spec.md §4.4).
func (w *WebSocket) CloseWithReason(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.conn.WriteMessage(websocket.CloseMessage, msg)
	return w.Close()
}
