package upstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skillflow/skillflow/internal/transport"
)

// fakeTransport is a minimal in-memory transport.Transport for exercising
// Client without a real subprocess or socket.
type fakeTransport struct {
	state    transport.State
	toolsErr bool
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.state = transport.StateConnected
	return nil
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	switch method {
	case "initialize":
		return json.Marshal(initializeResult{ProtocolVersion: protocolVersion})
	case "tools/list":
		if f.toolsErr {
			return nil, errStub{"tools unavailable"}
		}
		return json.Marshal(listToolsResult{Tools: []ToolInfo{{Name: "echo", Description: "echoes input"}}})
	case "prompts/list":
		return nil, errStub{"no prompts"}
	case "resources/list":
		return nil, errStub{"no resources"}
	case "resources/templates/list":
		return nil, errStub{"no templates"}
	case "tools/call":
		return json.Marshal(callToolResult{Content: []contentBlock{{Type: "text", Text: "ok"}}})
	}
	return nil, errStub{"unknown method " + method}
}

func (f *fakeTransport) Notify(method string, params any) error { return nil }
func (f *fakeTransport) SetRequestHandler(method string, h transport.RequestHandler) {}
func (f *fakeTransport) SetNotificationHandler(h transport.NotificationHandler)      {}
func (f *fakeTransport) State() transport.State                                      { return f.state }
func (f *fakeTransport) Close() error                                                { f.state = transport.StateStopped; return nil }

type errStub struct{ msg string }

func (e errStub) Error() string { return e.msg }

// ── Connect / discovery ─────────────────────────────────────────────────────

func TestClient_ConnectDiscoversTools(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient("srv", ft)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.HasTool("echo") {
		t.Error("expected tool \"echo\" to be discovered")
	}
	caps := c.Capabilities()
	if !caps.Tools {
		t.Error("expected Capabilities.Tools = true")
	}
	if caps.Prompts || caps.Resources || caps.ResourceTemplates {
		t.Error("expected prompts/resources/templates capabilities to be false when the server errors on them")
	}
}

func TestClient_ConnectTolerantOfMissingDiscovery(t *testing.T) {
	ft := &fakeTransport{toolsErr: true}
	c := NewClient("srv", ft)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect should succeed even when tools/list fails: %v", err)
	}
	if len(c.Tools()) != 0 {
		t.Error("expected no tools when tools/list errored")
	}
}

func TestClient_CallTool(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient("srv", ft)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out, err := c.CallTool(context.Background(), "echo", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out != "ok" {
		t.Errorf("CallTool result = %q, want %q", out, "ok")
	}
}
