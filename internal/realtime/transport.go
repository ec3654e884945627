package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// ClientTransport delivers events to one connected client. Implementations
// must tolerate Close being called more than once.
type ClientTransport interface {
	Send(event Event) error
	Close() error
	RemoteAddr() string
}

// WebSocketTransport adapts a gorilla websocket connection to
// ClientTransport. Writes are serialized; gorilla connections allow at most
// one concurrent writer.
type WebSocketTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWebSocketTransport wraps an upgraded websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// Send implements ClientTransport.
func (t *WebSocketTransport) Send(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return websocket.ErrCloseSent
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(event)
}

// Close implements ClientTransport.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// RemoteAddr implements ClientTransport.
func (t *WebSocketTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
