package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPSSEOptions configures an HTTP+SSE-backed Transport.
//
// Requests are POSTed to MessageURL; server-originated messages (including
// responses to our own requests) arrive as "data:"-prefixed lines on a
// long-lived GET against SSEURL. If MessageURL is empty it defaults to
// BaseURL + "/message"; if SSEURL is empty it defaults to BaseURL + "/sse".
type HTTPSSEOptions struct {
	BaseURL    string
	SSEURL     string
	MessageURL string
	Client     *http.Client
}

// HTTPSSETransport implements the legacy (pre-"streamable") HTTP+SSE MCP
// transport described in spec.md §4.A.
type HTTPSSETransport struct {
	baseTransport

	opts   HTTPSSEOptions
	client *http.Client

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewHTTPSSETransport creates an unstarted HTTP+SSE transport.
func NewHTTPSSETransport(serverID string, opts HTTPSSEOptions) *HTTPSSETransport {
	if opts.SSEURL == "" {
		opts.SSEURL = opts.BaseURL + "/sse"
	}
	if opts.MessageURL == "" {
		opts.MessageURL = opts.BaseURL + "/message"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 0} // the GET stream is long-lived
	}
	t := &HTTPSSETransport{opts: opts, client: opts.Client}
	t.r = newRouter(serverID, t.postMessage)
	t.setState(StateInit)
	return t
}

// Start opens the long-lived SSE GET stream and begins parsing events.
func (t *HTTPSSETransport) Start(ctx context.Context) error {
	t.setState(StateStarting)

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.opts.SSEURL, nil)
	if err != nil {
		cancel()
		t.setState(StateStopped)
		return fmt.Errorf("transport: build SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		t.setState(StateStopped)
		return fmt.Errorf("transport: open SSE stream %q: %w", t.opts.SSEURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.setState(StateStopped)
		return fmt.Errorf("transport: SSE stream %q: status %d", t.opts.SSEURL, resp.StatusCode)
	}

	t.cancel = cancel

	go t.scanSSE(resp.Body)

	t.setState(StateConnected)
	return nil
}

// scanSSE parses the SSE stream: one or more "data: ..." lines followed by
// a blank line terminate an event; multi-line data is newline-joined per
// the SSE spec. It owns body and closes it once the stream ends.
func (t *HTTPSSETransport) scanSSE(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				payload := strings.Join(dataLines, "\n")
				t.r.handleMessage([]byte(payload))
				dataLines = nil
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines are ignored; this
			// transport only needs the data payload.
		}
	}
	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("SSE stream closed")
	}
	t.setState(StateStopped)
	t.r.drain(err)
}

func (t *HTTPSSETransport) postMessage(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.MessageURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: POST %q: status %d", t.opts.MessageURL, resp.StatusCode)
	}
	return nil
}

// Close cancels the SSE read loop. The underlying HTTP connection is
// released as the GET request's context is cancelled.
func (t *HTTPSSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.r.drain(ErrClosed)
		t.setState(StateStopped)
		if t.cancel != nil {
			t.cancel()
		}
	})
	return nil
}
