package facade

import (
	"context"
	"encoding/json"

	"github.com/skillflow/skillflow/internal/cache"
	"github.com/skillflow/skillflow/internal/config"
	"github.com/skillflow/skillflow/internal/upstream"
)

// managerAdapter bridges *upstream.Manager to the façade's server
// interface, wrapping each returned *upstream.Client in a clientAdapter so
// callers see the narrow discoveryClient interface instead of the concrete
// type, matching the adapter idiom already used by internal/engine's
// managerAdapter over the same *upstream.Manager.
type managerAdapter struct {
	mgr *upstream.Manager
}

// NewManagerAdapter wraps mgr for use as a Facade's server collaborator.
func NewManagerAdapter(mgr *upstream.Manager) server {
	return &managerAdapter{mgr: mgr}
}

func (a *managerAdapter) Servers() []string { return a.mgr.Servers() }

func (a *managerAdapter) Get(ctx context.Context, serverID string) (discoveryClient, error) {
	cli, err := a.mgr.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return &clientAdapter{cli: cli}, nil
}

func (a *managerAdapter) RegisterServer(id string, spec config.ServerSpec) error {
	return a.mgr.RegisterServer(id, spec)
}

func (a *managerAdapter) UnregisterServer(id string) error { return a.mgr.UnregisterServer(id) }

func (a *managerAdapter) Specs() map[string]config.ServerSpec { return a.mgr.Specs() }

func (a *managerAdapter) Probe(ctx context.Context, serverID string) (upstream.Capabilities, []upstream.ToolInfo, error) {
	return a.mgr.Probe(ctx, serverID)
}

// clientAdapter bridges *upstream.Client to the façade's discoveryClient
// interface, translating ToolInfo (whose InputSchema is a raw JSON message,
// the wire shape MCP tools/list actually returns) into the map[string]any
// shape cache.ToolDescriptor and the rest of the façade use internally.
type clientAdapter struct {
	cli *upstream.Client
}

func (a *clientAdapter) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return a.cli.CallTool(ctx, name, args)
}

func (a *clientAdapter) ToolDescriptors() []cache.ToolDescriptor {
	tools := a.cli.Tools()
	out := make([]cache.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, cache.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: decodeInputSchema(t.InputSchema),
		})
	}
	return out
}

// decodeInputSchema unmarshals a tool's raw inputSchema into a generic map,
// tolerating servers that omit it (nil/empty raw message yields an empty
// object schema rather than an error, since an absent schema is simply "no
// declared parameters").
func decodeInputSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
