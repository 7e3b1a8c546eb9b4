package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned to any waiter still pending when the transport closes.
var ErrClosed = errors.New("transport: connection closed")

// outcome is delivered to a waiter once its response arrives or the
// connection is torn down.
type outcome struct {
	result json.RawMessage
	err    *ErrorObject
}

// router owns the id->waiter table and server-request/notification
// dispatch shared by every concrete transport. A transport implementation
// supplies send (how to put bytes on the wire) and feeds inbound bytes to
// handleMessage as they arrive off its own read loop.
type router struct {
	send func([]byte) error

	nextID int64 // atomic

	mu      sync.Mutex
	pending map[int64]chan outcome
	closed  bool
	closeCh chan struct{}

	reqHandlersMu sync.RWMutex
	reqHandlers   map[string]RequestHandler

	notifMu   sync.RWMutex
	notifyFn  NotificationHandler

	name string // for log lines, e.g. the server_id this router serves
}

func newRouter(name string, send func([]byte) error) *router {
	return &router{
		send:        send,
		pending:     make(map[int64]chan outcome),
		closeCh:     make(chan struct{}),
		reqHandlers: make(map[string]RequestHandler),
		name:        name,
	}
}

// SetRequestHandler registers the handler invoked for a server-initiated
// request with the given method (e.g. "roots/list").
func (r *router) SetRequestHandler(method string, h RequestHandler) {
	r.reqHandlersMu.Lock()
	r.reqHandlers[method] = h
	r.reqHandlersMu.Unlock()
}

// SetNotificationHandler registers the single handler invoked for every
// server-initiated notification.
func (r *router) SetNotificationHandler(h NotificationHandler) {
	r.notifMu.Lock()
	r.notifyFn = h
	r.notifMu.Unlock()
}

// call sends a JSON-RPC request and blocks until the matching response
// arrives, the context is cancelled, or the transport closes.
func (r *router) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := atomic.AddInt64(&r.nextID, 1)
	ch := make(chan outcome, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.pending[id] = ch
	r.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		r.removePending(id)
		return nil, fmt.Errorf("transport: marshal request %q: %w", method, err)
	}

	if err := r.send(data); err != nil {
		r.removePending(id)
		return nil, fmt.Errorf("transport: write request %q: %w", method, err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-callCtx.Done():
		r.removePending(id)
		return nil, fmt.Errorf("transport: call %q: %w", method, callCtx.Err())
	case <-r.closeCh:
		return nil, ErrClosed
	}
}

func (r *router) removePending(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// handleMessage classifies one inbound wire message and routes it.
func (r *router) handleMessage(raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Transport:%s] dropping unparseable message: %v", r.name, err)
		return
	}

	switch {
	case len(msg.ID) > 0 && msg.Method == "":
		// A response to one of our own requests.
		r.deliverResponse(msg)

	case msg.Method != "" && len(msg.ID) > 0:
		// A server-initiated request; it expects a reply with the same id.
		r.handleServerRequest(msg)

	case msg.Method != "" && len(msg.ID) == 0:
		// A notification; consumed and never replied to.
		r.handleNotification(msg)

	default:
		log.Printf("[Transport:%s] malformed message, neither response/request/notification", r.name)
	}
}

func (r *router) deliverResponse(msg inbound) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		log.Printf("[Transport:%s] response with non-numeric id: %v", r.name, err)
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		log.Printf("[Transport:%s] response for unknown id %d (late or duplicate)", r.name, id)
		return
	}
	ch <- outcome{result: msg.Result, err: msg.Error}
	close(ch)
}

func (r *router) handleServerRequest(msg inbound) {
	// A server request with a null id is invalid per the JSON-RPC framing
	// invariant; answer with an Invalid Request error and keep running.
	var rawID any
	if err := json.Unmarshal(msg.ID, &rawID); err == nil && rawID == nil {
		r.replyError(msg.ID, &ErrorObject{Code: CodeInvalidRequest, Message: "request id must not be null"})
		return
	}

	r.reqHandlersMu.RLock()
	h, ok := r.reqHandlers[msg.Method]
	r.reqHandlersMu.RUnlock()

	if !ok {
		r.replyError(msg.ID, &ErrorObject{Code: CodeInternalError, Message: fmt.Sprintf("no handler for method %q", msg.Method)})
		return
	}

	result, errObj := h(msg.Method, msg.Params)
	if errObj != nil {
		r.replyError(msg.ID, errObj)
		return
	}
	r.replyResult(msg.ID, result)
}

func (r *router) handleNotification(msg inbound) {
	if msg.Method == "notifications/message" {
		log.Printf("[Transport:%s] notifications/message: %s", r.name, string(msg.Params))
	}
	r.notifMu.RLock()
	fn := r.notifyFn
	r.notifMu.RUnlock()
	if fn != nil {
		fn(msg.Method, msg.Params)
	} else if msg.Method != "notifications/message" {
		log.Printf("[Transport:%s] unhandled notification %q", r.name, msg.Method)
	}
}

func (r *router) replyResult(id json.RawMessage, result any) {
	resp := response{JSONRPC: "2.0", ID: id, Result: result}
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[Transport:%s] marshal reply: %v", r.name, err)
		return
	}
	if err := r.send(data); err != nil {
		log.Printf("[Transport:%s] write reply: %v", r.name, err)
	}
}

func (r *router) replyError(id json.RawMessage, errObj *ErrorObject) {
	resp := response{JSONRPC: "2.0", ID: id, Error: errObj}
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[Transport:%s] marshal error reply: %v", r.name, err)
		return
	}
	if err := r.send(data); err != nil {
		log.Printf("[Transport:%s] write error reply: %v", r.name, err)
	}
}

// sendNotification emits a notification with no expectation of a reply
// (e.g. notifications/initialized).
func (r *router) sendNotification(method string, params any) error {
	n := notification{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("transport: marshal notification %q: %w", method, err)
	}
	return r.send(data)
}

// drain fails every pending waiter with err and marks the router closed.
// Safe to call multiple times.
func (r *router) drain(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[int64]chan outcome)
	r.mu.Unlock()

	errObj := &ErrorObject{Code: CodeInternalError, Message: err.Error()}
	for _, ch := range pending {
		ch <- outcome{err: errObj}
		close(ch)
	}
	close(r.closeCh)
}
