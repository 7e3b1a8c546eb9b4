package upstream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/skillflow/skillflow/internal/config"
	"github.com/skillflow/skillflow/internal/transport"
)

// connectTimeout bounds a full Connect call (transport start + handshake +
// discovery) for one server. Exceeding it forces an explicit disconnect so
// a hung stdio subprocess doesn't leak.
const connectTimeout = 30 * time.Second

// Manager owns every configured upstream server's connection lifecycle:
// lazy connect on first use, reconnect whenever the transport is found in
// any non-connected state, and per-server isolation (one server's failure
// never blocks another's).
//
// Network I/O always happens outside mu, mirroring the teacher's
// internal/mcp.Manager: state changes are quick and synchronous, connects
// and discovery calls are not.
type Manager struct {
	mu      sync.Mutex
	servers map[string]config.ServerSpec
	clients map[string]*Client
}

// NewManager creates a Manager with no connections established yet.
func NewManager(servers map[string]config.ServerSpec) *Manager {
	return &Manager{
		servers: servers,
		clients: make(map[string]*Client),
	}
}

// Servers returns the configured server ids in no particular order.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	return ids
}

// RegisterServer adds or replaces a server's configuration. A server
// already connected under the old configuration is disconnected first, so
// the next Get reconnects with the new spec (spec.md §4.C: "register_server,
// unregister_server").
func (m *Manager) RegisterServer(id string, spec config.ServerSpec) error {
	m.mu.Lock()
	cli, wasConnected := m.clients[id]
	delete(m.clients, id)
	m.servers[id] = spec
	m.mu.Unlock()

	if wasConnected {
		if err := cli.Close(); err != nil {
			log.Printf("[Upstream] close during re-register %q: %v", id, err)
		}
	}
	return nil
}

// UnregisterServer disconnects and forgets serverID.
func (m *Manager) UnregisterServer(id string) error {
	m.mu.Lock()
	cli, connected := m.clients[id]
	delete(m.clients, id)
	delete(m.servers, id)
	m.mu.Unlock()

	if connected {
		if err := cli.Close(); err != nil {
			return fmt.Errorf("upstream: unregister %q: %w", id, err)
		}
	}
	return nil
}

// Specs returns a copy of every configured server's spec, keyed by id —
// used to persist the registry after a register/unregister call.
func (m *Manager) Specs() map[string]config.ServerSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]config.ServerSpec, len(m.servers))
	for id, spec := range m.servers {
		out[id] = spec
	}
	return out
}

// Probe connects (if needed) serverID and returns a snapshot of its
// discovered tools and capabilities, for the façade's debug_probe
// management tool.
func (m *Manager) Probe(ctx context.Context, serverID string) (Capabilities, []ToolInfo, error) {
	cli, err := m.Get(ctx, serverID)
	if err != nil {
		return Capabilities{}, nil, err
	}
	return cli.Capabilities(), cli.Tools(), nil
}

// Get returns the live client for serverID, connecting it first if it has
// never been connected or was last observed in a non-connected state.
func (m *Manager) Get(ctx context.Context, serverID string) (*Client, error) {
	m.mu.Lock()
	spec, known := m.servers[serverID]
	cli, connected := m.clients[serverID]
	m.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("upstream: unknown server %q", serverID)
	}
	if connected && cli.State() == transport.StateConnected {
		return cli, nil
	}

	return m.connect(ctx, serverID, spec)
}

func (m *Manager) connect(ctx context.Context, serverID string, spec config.ServerSpec) (*Client, error) {
	tr, err := buildTransport(serverID, spec)
	if err != nil {
		return nil, fmt.Errorf("upstream: build transport %q: %w", serverID, err)
	}

	cli := NewClient(serverID, tr)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := cli.Connect(connCtx); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("upstream: connect %q: %w", serverID, err)
	}
	if connCtx.Err() != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("upstream: connect %q: %w", serverID, connCtx.Err())
	}

	m.mu.Lock()
	m.clients[serverID] = cli
	m.mu.Unlock()

	log.Printf("[Upstream] connected: %s (%s), %d tool(s)", serverID, spec.Transport, len(cli.Tools()))
	return cli, nil
}

// ConnectAll eagerly connects every enabled server, collecting per-server
// errors without letting one failure block the rest. Returns the number of
// servers successfully connected.
func (m *Manager) ConnectAll(ctx context.Context) (int, []error) {
	m.mu.Lock()
	specs := make(map[string]config.ServerSpec, len(m.servers))
	for id, s := range m.servers {
		specs[id] = s
	}
	m.mu.Unlock()

	var errs []error
	connected := 0
	for id, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if _, err := m.connect(ctx, id, spec); err != nil {
			errs = append(errs, err)
			log.Printf("[Upstream] connect failed: %s: %v", id, err)
			continue
		}
		connected++
	}
	return connected, errs
}

// ToolServer reports which connected server (if any) exposes the named
// tool, scanning every currently connected client. Nothing in this module
// calls it; the façade resolves proxy names through internal/proxyname.
func (m *Manager) ToolServer(toolName string) (string, bool) {
	m.mu.Lock()
	clients := make(map[string]*Client, len(m.clients))
	for id, c := range m.clients {
		clients[id] = c
	}
	m.mu.Unlock()

	for id, cli := range clients {
		if cli.HasTool(toolName) {
			return id, true
		}
	}
	return "", false
}

// CloseAll terminates every active connection. Safe to call more than once.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for id, cli := range clients {
		if err := cli.Close(); err != nil {
			log.Printf("[Upstream] close error: %s: %v", id, err)
		}
	}
}

func buildTransport(serverID string, spec config.ServerSpec) (transport.Transport, error) {
	switch spec.Transport {
	case "stdio", "":
		return transport.NewStdioTransport(serverID, transport.StdioOptions{
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
			Dir:     spec.Dir,
		}), nil
	case "websocket":
		return transport.NewWebSocketTransport(serverID, transport.WebSocketOptions{URL: spec.URL}), nil
	case "sse", "http":
		return transport.NewHTTPSSETransport(serverID, transport.HTTPSSEOptions{BaseURL: spec.URL}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", spec.Transport)
	}
}
