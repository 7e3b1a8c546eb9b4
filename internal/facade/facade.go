// Package facade implements the single outer surface downstream MCP
// callers see (spec.md §4.J): dispatch of an incoming tool call across
// skills, proxied upstream tools, and the management catalogue, plus
// tool-list assembly across all three. internal/facade/server.go binds
// this logic to github.com/mark3labs/mcp-go's server transport; this file
// contains no transport dependency so it can be unit-tested directly.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/skillflow/skillflow/internal/cache"
	"github.com/skillflow/skillflow/internal/config"
	"github.com/skillflow/skillflow/internal/proxyname"
	"github.com/skillflow/skillflow/internal/recording"
	"github.com/skillflow/skillflow/internal/skill"
	"github.com/skillflow/skillflow/internal/skillerr"
	"github.com/skillflow/skillflow/internal/upstream"
)

// discoveryTimeout bounds how long the tool-list assembly waits for any
// one server's tools/list before skipping it, per spec.md §4.J.
const discoveryTimeout = 30 * time.Second

const (
	skillPrefix = "skill__"
	// DefaultProxyBudget is the total proxy-name length budget used when a
	// caller does not reserve any of it for its own prefix.
	DefaultProxyBudget = proxyname.DefaultMaxLen
)

// skillRunner is the subset of *engine.Engine the façade needs.
type skillRunner interface {
	RunSkill(ctx context.Context, sk skill.Skill, inputs map[string]any) (skill.SkillRunResult, error)
	CancelRun(runID string) bool
}

// skillCatalogue is the subset of *skill.Manager the façade needs.
type skillCatalogue interface {
	CreateSkill(id, name, description string, author skill.Author, draft skill.Skill, sourceSessionID string) (skill.Skill, error)
	UpdateSkill(id string, mutate func(*skill.Skill)) (skill.Skill, error)
	DeleteSkill(id string, hard bool) error
	LoadSkill(id string) (skill.Skill, error)
	ListSkills(filter skill.Filter) []skill.Meta
}

// server is the subset of *upstream.Manager the façade needs.
type server interface {
	Servers() []string
	Get(ctx context.Context, serverID string) (discoveryClient, error)
	RegisterServer(id string, spec config.ServerSpec) error
	UnregisterServer(id string) error
	Specs() map[string]config.ServerSpec
	Probe(ctx context.Context, serverID string) (upstream.Capabilities, []upstream.ToolInfo, error)
}

// discoveryClient is the subset of *upstream.Client the façade needs for
// both proxied calls and tool-list discovery. Declared narrowly (rather
// than the concrete *upstream.Client) so tests can substitute fakes.
type discoveryClient interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	ToolDescriptors() []cache.ToolDescriptor
}

// recorder is the subset of *recording.Manager the façade needs.
type recorder interface {
	StartSession(clientID, workspaceID string, metadata map[string]string) string
	Tap(sessionID string, entry recording.ToolCallLog)
	StopSession(sessionID string) (recording.Session, error)
	ActiveSessionIDs() []string
}

// registryStore is the subset of *storage.Store needed to persist server
// registry changes made through the management catalogue.
type registryStore interface {
	SaveRegistry(specs map[string]config.ServerSpec) error
}

// sessionLoader is the subset of *storage.Store needed to project a
// sealed recording session into a skill draft.
type sessionLoader interface {
	LoadSession(id string) (recording.Session, error)
}

// Facade dispatches incoming tool calls and assembles the externally
// published tool list, per spec.md §4.J.
type Facade struct {
	skills      skillCatalogue
	upstream    server
	engine      skillRunner
	recordings  recorder
	proxies     *proxyname.Registry
	toolCache   *cache.ToolListCache
	registry    registryStore
	sessions    sessionLoader
	proxyBudget int

	mu         sync.Mutex
	recentRuns map[string]skill.SkillRunResult

	// activeRecordingSession, when non-empty, is the session every
	// upstream call not otherwise targeted is tapped into — a single
	// implicit "current recording" convenience the management catalogue's
	// recording_start/stop control.
	activeRecordingSession string
}

// New builds a Facade over its collaborators. proxyBudget <= 0 uses
// DefaultProxyBudget.
func New(skills skillCatalogue, upstreamMgr server, eng skillRunner, recordings recorder, proxies *proxyname.Registry, toolCache *cache.ToolListCache, registry registryStore, sessions sessionLoader, proxyBudget int) *Facade {
	if proxyBudget <= 0 {
		proxyBudget = DefaultProxyBudget
	}
	return &Facade{
		skills:      skills,
		upstream:    upstreamMgr,
		engine:      eng,
		recordings:  recordings,
		proxies:     proxies,
		registry:    registry,
		sessions:    sessions,
		toolCache:   toolCache,
		proxyBudget: proxyBudget,
		recentRuns:  make(map[string]skill.SkillRunResult),
	}
}

// CallResult is the outcome of Dispatch: either a structured payload or a
// redacted error, never both.
type CallResult struct {
	Payload any
	Err     *skillerr.ToolResult
}

// Dispatch classifies name and routes the call: (1) skill__ prefix →
// engine; (2) exact management-catalogue match; (3) proxy name → client
// manager; unknown → a user-visible "unknown tool" response rather than an
// exception. No management tool name parses as a proxy name (those start
// with "up_" or "upstream__"), so checking the catalogue before the proxy
// form routes every name exactly as the reverse order would.
func (f *Facade) Dispatch(ctx context.Context, name string, args map[string]any) CallResult {
	switch {
	case strings.HasPrefix(name, skillPrefix):
		return f.dispatchSkill(ctx, strings.TrimPrefix(name, skillPrefix), args)
	case isManagementTool(name):
		return f.dispatchManagement(ctx, name, args)
	default:
		if serverID, tool, err := f.proxies.Parse(name); err == nil {
			return f.dispatchProxy(ctx, serverID, tool, args)
		}
		return errResult(skillerr.New(skillerr.CodeUnknownTool, fmt.Sprintf("unknown tool %q", name)))
	}
}

func (f *Facade) dispatchSkill(ctx context.Context, skillID string, args map[string]any) CallResult {
	sk, err := f.skills.LoadSkill(skillID)
	if err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeNotFound, fmt.Sprintf("skill %q not found", skillID), err))
	}
	result, err := f.engine.RunSkill(ctx, sk, args)
	f.mu.Lock()
	f.recentRuns[result.RunID] = result
	f.mu.Unlock()
	if err != nil {
		return CallResult{Payload: result, Err: &skillerr.ToolResult{Code: skillerr.CodeUpstream, Message: skillerr.UserMessage(err)}}
	}
	return CallResult{Payload: result}
}

func (f *Facade) dispatchProxy(ctx context.Context, serverID, tool string, args map[string]any) CallResult {
	cli, err := f.upstream.Get(ctx, serverID)
	if err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeUpstream, fmt.Sprintf("server %q unavailable", serverID), err))
	}
	start := time.Now()
	text, callErr := cli.CallTool(ctx, tool, args)

	if f.activeRecordingSession != "" {
		status := recording.StatusSuccess
		errText := ""
		if callErr != nil {
			status = recording.StatusError
			errText = callErr.Error()
		}
		f.recordings.Tap(f.activeRecordingSession, recording.ToolCallLog{
			ServerID:   serverID,
			Tool:       tool,
			Args:       args,
			Result:     text,
			Error:      errText,
			DurationMS: time.Since(start).Milliseconds(),
			Status:     status,
		})
	}

	if callErr != nil {
		return errResult(skillerr.Wrap(skillerr.CodeUpstream, fmt.Sprintf("tool %q failed", tool), callErr))
	}
	return CallResult{Payload: map[string]any{"text": text}}
}

func errResult(err *skillerr.Error) CallResult {
	r := skillerr.Redact(err)
	return CallResult{Err: &r}
}

// ListTools composes the management catalogue, exported skill descriptors,
// and the discovered tools of every configured server (queried in parallel
// with per-server timeouts; timed-out/failing servers are skipped). A
// server's enabled flag is not consulted here: a disabled server is
// queried, and connected on demand, like any other. The compiled result is
// served from toolCache when fresh.
func (f *Facade) ListTools(ctx context.Context) []cache.ToolDescriptor {
	if cached, ok := f.toolCache.Get(); ok {
		return cached
	}

	out := append([]cache.ToolDescriptor{}, managementCatalogue()...)

	skillIDs := make([]string, 0)
	for _, meta := range f.skills.ListSkills(skill.Filter{}) {
		sk, err := f.skills.LoadSkill(meta.ID)
		if err != nil {
			continue
		}
		d := skill.ExportAsToolDescriptor(sk)
		out = append(out, cache.ToolDescriptor{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
		skillIDs = append(skillIDs, meta.ID)
	}

	out = append(out, f.discoverUpstreamTools(ctx)...)

	f.toolCache.Set(out, skillIDs)
	return out
}

// discoverUpstreamTools queries every configured server in parallel,
// bounding each with discoveryTimeout; a timed-out or failing server is
// skipped rather than blocking the aggregate response.
func (f *Facade) discoverUpstreamTools(ctx context.Context) []cache.ToolDescriptor {
	serverIDs := f.upstream.Servers()
	results := make([][]cache.ToolDescriptor, len(serverIDs))

	var wg sync.WaitGroup
	for i, id := range serverIDs {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
			defer cancel()

			cli, err := f.upstream.Get(callCtx, id)
			if err != nil {
				log.Printf("[Facade] discovery skipped for %q: %v", id, err)
				return
			}
			results[i] = f.proxyDescriptorsFor(id, cli)
		}()
	}
	wg.Wait()

	var out []cache.ToolDescriptor
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (f *Facade) proxyDescriptorsFor(serverID string, cli discoveryClient) []cache.ToolDescriptor {
	descs := cli.ToolDescriptors()
	out := make([]cache.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		name := f.proxies.Encode(serverID, d.Name, f.proxyBudget)
		out = append(out, cache.ToolDescriptor{
			Name:        name,
			Description: fmt.Sprintf("[%s] %s", serverID, d.Description),
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func managementCatalogue() []cache.ToolDescriptor {
	return []cache.ToolDescriptor{
		{Name: "recording_start", Description: "Start capturing upstream tool calls into a new session."},
		{Name: "recording_stop", Description: "Seal the active recording session and persist it."},
		{Name: "recording_list", Description: "List active recording sessions."},
		{Name: "skill_create", Description: "Create a new skill from an explicit draft or a recorded session."},
		{Name: "skill_list", Description: "List stored skills, optionally filtered."},
		{Name: "skill_get", Description: "Fetch a stored skill's full definition."},
		{Name: "skill_delete", Description: "Delete a stored skill."},
		{Name: "run_status", Description: "Fetch the status of a skill run."},
		{Name: "run_cancel", Description: "Request cancellation of an in-flight skill run."},
		{Name: "server_register", Description: "Register a new upstream MCP server."},
		{Name: "server_list", Description: "List configured upstream servers."},
		{Name: "server_registry_export", Description: "Export the server registry to a YAML file for version control."},
		{Name: "server_registry_import", Description: "Import and register servers from a YAML registry file."},
		{Name: "debug_probe", Description: "Diagnostic probe for a configured upstream server."},
	}
}

func isManagementTool(name string) bool {
	for _, d := range managementCatalogue() {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (f *Facade) dispatchManagement(ctx context.Context, name string, args map[string]any) CallResult {
	switch name {
	case "recording_start":
		clientID, _ := args["client_id"].(string)
		workspaceID, _ := args["workspace_id"].(string)
		id := f.recordings.StartSession(clientID, workspaceID, stringMap(args["metadata"]))
		f.mu.Lock()
		f.activeRecordingSession = id
		f.mu.Unlock()
		return CallResult{Payload: map[string]any{"session_id": id}}

	case "recording_stop":
		sessionID, _ := args["session_id"].(string)
		if sessionID == "" {
			f.mu.Lock()
			sessionID = f.activeRecordingSession
			f.mu.Unlock()
		}
		sess, err := f.recordings.StopSession(sessionID)
		if err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeNotFound, fmt.Sprintf("no active session %q", sessionID), err))
		}
		f.mu.Lock()
		if f.activeRecordingSession == sessionID {
			f.activeRecordingSession = ""
		}
		f.mu.Unlock()
		return CallResult{Payload: sess}

	case "recording_list":
		return CallResult{Payload: map[string]any{"active_sessions": f.recordings.ActiveSessionIDs()}}

	case "skill_create":
		return f.dispatchSkillCreate(args)

	case "skill_list":
		filter := filterFromArgs(args)
		return CallResult{Payload: f.skills.ListSkills(filter)}

	case "skill_get":
		id, _ := args["id"].(string)
		sk, err := f.skills.LoadSkill(id)
		if err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeNotFound, fmt.Sprintf("skill %q not found", id), err))
		}
		return CallResult{Payload: sk}

	case "skill_delete":
		id, _ := args["id"].(string)
		hard, _ := args["hard"].(bool)
		if err := f.skills.DeleteSkill(id, hard); err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeInternal, "failed to delete skill", err))
		}
		return CallResult{Payload: map[string]any{"deleted": id}}

	case "run_status":
		runID, _ := args["run_id"].(string)
		f.mu.Lock()
		result, ok := f.recentRuns[runID]
		f.mu.Unlock()
		if !ok {
			return errResult(skillerr.New(skillerr.CodeNotFound, fmt.Sprintf("run %q not found", runID)))
		}
		return CallResult{Payload: result}

	case "run_cancel":
		runID, _ := args["run_id"].(string)
		ok := f.engine.CancelRun(runID)
		return CallResult{Payload: map[string]any{"cancelled": ok}}

	case "server_register":
		return f.dispatchServerRegister(args)

	case "server_list":
		return CallResult{Payload: map[string]any{"servers": f.upstream.Servers()}}

	case "server_registry_export":
		return f.dispatchServerRegistryExport(args)

	case "server_registry_import":
		return f.dispatchServerRegistryImport(args)

	case "debug_probe":
		return f.dispatchDebugProbe(ctx, args)

	default:
		return errResult(skillerr.New(skillerr.CodeUnknownTool, fmt.Sprintf("management tool %q not implemented", name)))
	}
}

// dispatchSkillCreate handles skill_create: either an explicit draft graph
// passed in args["draft"], or a recorded session projected via
// recording.ToSkillDraft when args["session_id"] is present instead.
func (f *Facade) dispatchSkillCreate(args map[string]any) CallResult {
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	author := authorFromArgs(args)
	id, _ := args["id"].(string)

	var draft skill.Skill
	var sourceSessionID string

	if sessionID, ok := args["session_id"].(string); ok && sessionID != "" {
		sess, err := f.sessions.LoadSession(sessionID)
		if err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeNotFound, fmt.Sprintf("session %q not found", sessionID), err))
		}
		projected, err := recording.ToSkillDraft(sess, draftOptionsFromArgs(args))
		if err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeValidation, "failed to project session into a skill draft", err))
		}
		draft = projected
		sourceSessionID = sessionID
	} else if rawDraft, ok := args["draft"].(map[string]any); ok {
		decoded, err := decodeDraft(rawDraft)
		if err != nil {
			return errResult(skillerr.Wrap(skillerr.CodeValidation, "malformed draft", err))
		}
		draft = decoded
	} else {
		return errResult(skillerr.New(skillerr.CodeValidation, "skill_create requires a draft or a session_id"))
	}

	sk, err := f.skills.CreateSkill(id, name, description, author, draft, sourceSessionID)
	if err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeValidation, "failed to create skill", err))
	}
	return CallResult{Payload: sk}
}

// draftOptionsFromArgs builds a recording.DraftOptions from skill_create's
// session-projection arguments: an optional "indices" list, an optional
// "start_index"/"end_index" half-open range, and an optional
// "expose_params" list shaped like recording.ExposeParamSpec.
func draftOptionsFromArgs(args map[string]any) recording.DraftOptions {
	var opts recording.DraftOptions
	if raw, ok := args["indices"].([]any); ok {
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				opts.Indices = append(opts.Indices, int(f))
			}
		}
	}
	if f, ok := args["start_index"].(float64); ok {
		opts.StartIndex = int(f)
	}
	if f, ok := args["end_index"].(float64); ok {
		opts.EndIndex = int(f)
	}
	if raw, ok := args["expose_params"].([]any); ok {
		for _, v := range raw {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			spec := recording.ExposeParamSpec{
				Name:        stringArg(m, "name"),
				Description: stringArg(m, "description"),
				SourcePath:  stringArg(m, "source_path"),
			}
			if schema, ok := m["schema"].(map[string]any); ok {
				spec.Schema = schema
			}
			opts.ExposeParams = append(opts.ExposeParams, spec)
		}
	}
	return opts
}

func authorFromArgs(args map[string]any) skill.Author {
	var a skill.Author
	a.WorkspaceID, _ = args["workspace_id"].(string)
	a.ClientID, _ = args["client_id"].(string)
	return a
}

// decodeDraft round-trips a JSON-object-shaped draft into skill.Skill via
// its own JSON tags, since callers supply args["draft"] as a generic map
// (the shape every MCP tool call argument arrives in).
func decodeDraft(raw map[string]any) (skill.Skill, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return skill.Skill{}, err
	}
	var draft skill.Skill
	if err := json.Unmarshal(data, &draft); err != nil {
		return skill.Skill{}, err
	}
	if err := skill.ValidateGraph(draft.Graph); err != nil {
		return skill.Skill{}, err
	}
	return draft, nil
}

func (f *Facade) dispatchServerRegister(args map[string]any) CallResult {
	id, _ := args["id"].(string)
	if id == "" {
		return errResult(skillerr.New(skillerr.CodeValidation, "server_register requires an id"))
	}
	spec := config.ServerSpec{
		Name:      id,
		Transport: stringArg(args, "transport"),
		Command:   stringArg(args, "command"),
		URL:       stringArg(args, "url"),
		Dir:       stringArg(args, "dir"),
		Enabled:   true,
	}
	if v, ok := args["enabled"].(bool); ok {
		spec.Enabled = v
	}
	if err := f.upstream.RegisterServer(id, spec); err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeInternal, "failed to register server", err))
	}
	if f.registry != nil {
		if err := f.registry.SaveRegistry(f.upstream.Specs()); err != nil {
			log.Printf("[Facade] persist registry after register %q: %v", id, err)
		}
	}
	return CallResult{Payload: map[string]any{"registered": id}}
}

// dispatchServerRegistryExport writes the currently configured upstream
// servers to a YAML file, for operators who keep their registry under
// version control alongside other YAML infrastructure config rather than
// as the JSON form internal/storage uses at rest.
func (f *Facade) dispatchServerRegistryExport(args map[string]any) CallResult {
	path := stringArg(args, "path")
	if path == "" {
		return errResult(skillerr.New(skillerr.CodeValidation, "server_registry_export requires a path"))
	}
	if err := config.ExportRegistryYAML(path, f.upstream.Specs()); err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeInternal, "failed to export registry", err))
	}
	return CallResult{Payload: map[string]any{"exported": path}}
}

// dispatchServerRegistryImport reads a YAML registry file and registers
// every server it contains, then persists the combined registry through
// the same path server_register uses.
func (f *Facade) dispatchServerRegistryImport(args map[string]any) CallResult {
	path := stringArg(args, "path")
	if path == "" {
		return errResult(skillerr.New(skillerr.CodeValidation, "server_registry_import requires a path"))
	}
	specs := config.ImportRegistryYAML(path)
	imported := make([]string, 0, len(specs))
	for id, spec := range specs {
		if err := f.upstream.RegisterServer(id, spec); err != nil {
			log.Printf("[Facade] registry import %q: register %q: %v", path, id, err)
			continue
		}
		imported = append(imported, id)
	}
	if f.registry != nil {
		if err := f.registry.SaveRegistry(f.upstream.Specs()); err != nil {
			log.Printf("[Facade] persist registry after import %q: %v", path, err)
		}
	}
	return CallResult{Payload: map[string]any{"imported": imported}}
}

func (f *Facade) dispatchDebugProbe(ctx context.Context, args map[string]any) CallResult {
	id, _ := args["server_id"].(string)
	caps, tools, err := f.upstream.Probe(ctx, id)
	if err != nil {
		return errResult(skillerr.Wrap(skillerr.CodeUpstream, fmt.Sprintf("probe %q failed", id), err))
	}
	return CallResult{Payload: map[string]any{
		"server_id":    id,
		"capabilities": caps,
		"tool_count":   len(tools),
	}}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func filterFromArgs(args map[string]any) skill.Filter {
	var f skill.Filter
	f.NameContains, _ = args["name_contains"].(string)
	f.AuthorID, _ = args["author_id"].(string)
	if tags, ok := args["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				f.Tags = append(f.Tags, s)
			}
		}
	}
	return f
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
