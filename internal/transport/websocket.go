package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketOptions configures a WebSocket-backed Transport.
type WebSocketOptions struct {
	URL string
}

// WebSocketTransport carries one JSON-RPC message per text frame, per
// spec.md §4.A ("for WebSocket, each text frame is one message").
type WebSocketTransport struct {
	baseTransport

	opts WebSocketOptions

	mu   sync.Mutex
	conn *websocket.Conn

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWebSocketTransport creates an unstarted WebSocket transport.
func NewWebSocketTransport(serverID string, opts WebSocketOptions) *WebSocketTransport {
	t := &WebSocketTransport{opts: opts}
	t.r = newRouter(serverID, t.writeFrame)
	t.setState(StateInit)
	return t
}

// Start dials the WebSocket endpoint and begins the read loop.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	t.setState(StateStarting)

	conn, _, err := websocket.Dial(ctx, t.opts.URL, nil)
	if err != nil {
		t.setState(StateStopped)
		return fmt.Errorf("transport: websocket dial %q: %w", t.opts.URL, err)
	}
	conn.SetReadLimit(32 * 1024 * 1024)

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, conn)

	t.setState(StateConnected)
	return nil
}

func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.setState(StateStopped)
			t.r.drain(fmt.Errorf("transport: websocket closed: %w", err))
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		t.r.handleMessage(data)
	}
}

func (t *WebSocketTransport) writeFrame(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return conn.Write(context.Background(), websocket.MessageText, data)
}

// Close closes the WebSocket connection and cancels the read loop.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.r.drain(ErrClosed)
		t.setState(StateStopped)

		t.mu.Lock()
		conn := t.conn
		cancel := t.cancel
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "transport closed")
		}
	})
	return err
}
