package transport

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a Transport, per spec.md §3: "Transport
// clients follow: init → connected → stopped, with any non-connected state
// forcing reconnect on next use."
type State int32

const (
	StateInit State = iota
	StateStarting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultRequestTimeout bounds any single request for which the caller did
// not specify a timeout (spec.md §4.A: "A per-request timeout (default 60s)
// fails only that waiter.").
const DefaultRequestTimeout = 60 * time.Second

// Transport carries framed JSON-RPC between this process and one upstream
// MCP server. Implementations: stdio (subprocess), WebSocket, HTTP+SSE.
type Transport interface {
	// Start begins the transport's I/O loop(s). It does not perform the MCP
	// initialize handshake — that is the caller's (internal/upstream)
	// responsibility, layered on top of Call/Notify.
	Start(ctx context.Context) error

	// Call sends a JSON-RPC request and blocks for the matching response.
	// timeout <= 0 uses DefaultRequestTimeout.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

	// Notify sends a one-way JSON-RPC notification.
	Notify(method string, params any) error

	// SetRequestHandler registers the handler for a server-initiated
	// request method (e.g. "roots/list", "sampling/createMessage").
	SetRequestHandler(method string, h RequestHandler)

	// SetNotificationHandler registers the handler for every
	// server-initiated notification.
	SetNotificationHandler(h NotificationHandler)

	// State reports the current lifecycle stage.
	State() State

	// Close stops the transport: cancels pending waiters with ErrClosed,
	// terminates any subprocess (gracefully, then forcibly), and closes
	// streams. Safe to call multiple times.
	Close() error
}

// baseTransport centralises the state field and router wiring common to
// every concrete transport.
type baseTransport struct {
	state int32 // atomic State
	r     *router
}

func (b *baseTransport) State() State {
	return State(atomic.LoadInt32(&b.state))
}

func (b *baseTransport) setState(s State) {
	atomic.StoreInt32(&b.state, int32(s))
}

func (b *baseTransport) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return b.r.call(ctx, method, params, timeout)
}

func (b *baseTransport) Notify(method string, params any) error {
	return b.r.sendNotification(method, params)
}

func (b *baseTransport) SetRequestHandler(method string, h RequestHandler) {
	b.r.SetRequestHandler(method, h)
}

func (b *baseTransport) SetNotificationHandler(h NotificationHandler) {
	b.r.SetNotificationHandler(h)
}
