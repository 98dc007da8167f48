package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/feedwire/feedwire/pkg/protocol"
)

// Conn is the transport a session writes events to. Production code uses
// SafeConn over a websocket; tests substitute in-memory fakes.
type Conn interface {
	// WriteEvent encodes and sends one event.
	WriteEvent(ev protocol.ServerEvent) error
	// Close closes the underlying connection.
	Close() error
}

// SafeConn wraps a websocket connection with automatic write
// synchronization.
//
// A session's events come from two directions at once: its own read loop
// (echoes, history responses) and other goroutines pushing notifications
// through the dispatcher. gorilla/websocket does not allow concurrent
// writers, so SafeConn encapsulates the connection together with its write
// mutex, making it impossible to write without synchronization.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a websocket connection with write synchronization
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteEvent encodes and sends one event as a text frame. This is the ONLY
// way to write to the connection - the raw conn is private.
func (sc *SafeConn) WriteEvent(ev protocol.ServerEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage reads the next message from the connection. Reads don't need
// write synchronization; there is exactly one reader per connection.
func (sc *SafeConn) ReadMessage() ([]byte, error) {
	_, data, err := sc.conn.ReadMessage()
	return data, err
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}
