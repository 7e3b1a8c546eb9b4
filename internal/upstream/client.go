package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skillflow/skillflow/internal/transport"
)

const clientName = "skillflow"
const clientVersion = "0.1.0"
const protocolVersion = "2024-11-05"

// discoveryTimeout bounds each individual tools/prompts/resources/templates
// list call during Connect. A server that hangs on one discovery call must
// not hang the whole connect.
const discoveryTimeout = 20 * time.Second

// Client owns the MCP session against one upstream server: the transport,
// the initialize handshake, and the four discovery lists. It is safe for
// concurrent use.
type Client struct {
	serverID string
	tr       transport.Transport

	mu     sync.RWMutex
	caps   Capabilities
	tools  []ToolInfo
	toolsByName map[string]ToolInfo
}

// NewClient wraps an already-constructed (but not yet started) Transport.
func NewClient(serverID string, tr transport.Transport) *Client {
	return &Client{serverID: serverID, tr: tr, toolsByName: make(map[string]ToolInfo)}
}

// Connect starts the transport, performs the initialize handshake, sends
// notifications/initialized, then discovers tools/prompts/resources and
// resource templates. A discovery call that errors is tolerated (spec.md
// §4.B: "a server missing prompts/resources support is not degraded") — only
// a failed transport Start or a failed initialize handshake is fatal.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.tr.Start(ctx); err != nil {
		return fmt.Errorf("upstream: start transport %q: %w", c.serverID, err)
	}

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    json.RawMessage(`{}`),
		ClientInfo:      implementationInfo{Name: clientName, Version: clientVersion},
	}
	raw, err := c.tr.Call(ctx, "initialize", params, 0)
	if err != nil {
		_ = c.tr.Close()
		return fmt.Errorf("upstream: initialize %q: %w", c.serverID, err)
	}
	var initRes initializeResult
	if err := json.Unmarshal(raw, &initRes); err != nil {
		_ = c.tr.Close()
		return fmt.Errorf("upstream: parse initialize result %q: %w", c.serverID, err)
	}

	if err := c.tr.Notify("notifications/initialized", nil); err != nil {
		_ = c.tr.Close()
		return fmt.Errorf("upstream: notifications/initialized %q: %w", c.serverID, err)
	}

	c.discoverAll(ctx)
	return nil
}

func (c *Client) discoverAll(ctx context.Context) {
	var caps Capabilities

	if tools, err := c.listToolsRaw(ctx); err == nil {
		caps.Tools = true
		byName := make(map[string]ToolInfo, len(tools))
		for _, t := range tools {
			byName[t.Name] = t
		}
		c.mu.Lock()
		c.tools = tools
		c.toolsByName = byName
		c.mu.Unlock()
	}

	if _, err := c.listPromptsRaw(ctx); err == nil {
		caps.Prompts = true
	}
	if _, err := c.listResourcesRaw(ctx); err == nil {
		caps.Resources = true
	}
	if _, err := c.listResourceTemplatesRaw(ctx); err == nil {
		caps.ResourceTemplates = true
	}

	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
}

// Capabilities reports which discovery calls this server answered.
func (c *Client) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// Tools returns the last discovered tool list.
func (c *Client) Tools() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// HasTool reports whether the given tool name was discovered on this
// server.
func (c *Client) HasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.toolsByName[name]
	return ok
}

// State reports the underlying transport's lifecycle stage.
func (c *Client) State() transport.State {
	return c.tr.State()
}

// Close terminates the transport.
func (c *Client) Close() error {
	return c.tr.Close()
}

// CallTool invokes a tool on this server and returns its concatenated text
// content. If the server reports isError, the returned error wraps the
// server-supplied text so callers can distinguish a tool-level failure from
// a transport-level one.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.tr.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, 0)
	if err != nil {
		return "", fmt.Errorf("upstream: call tool %q on %q: %w", name, c.serverID, err)
	}
	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("upstream: parse tool result %q on %q: %w", name, c.serverID, err)
	}
	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("upstream: tool %q on %q returned an error: %s", name, c.serverID, text)
	}
	return text, nil
}

func (c *Client) listToolsRaw(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.tr.Call(ctx, "tools/list", struct{}{}, discoveryTimeout)
	if err != nil {
		return nil, err
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (c *Client) listPromptsRaw(ctx context.Context) ([]PromptInfo, error) {
	raw, err := c.tr.Call(ctx, "prompts/list", struct{}{}, discoveryTimeout)
	if err != nil {
		return nil, err
	}
	var res listPromptsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

func (c *Client) listResourcesRaw(ctx context.Context) ([]ResourceInfo, error) {
	raw, err := c.tr.Call(ctx, "resources/list", struct{}{}, discoveryTimeout)
	if err != nil {
		return nil, err
	}
	var res listResourcesResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Resources, nil
}

func (c *Client) listResourceTemplatesRaw(ctx context.Context) ([]ResourceTemplateInfo, error) {
	raw, err := c.tr.Call(ctx, "resources/templates/list", struct{}{}, discoveryTimeout)
	if err != nil {
		return nil, err
	}
	var res listResourceTemplatesResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.ResourceTemplates, nil
}
