package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/skillflow/skillflow/internal/cache"
)

// Server binds a Facade to mcp-go's transport: it compiles the Facade's
// tool list into mcp-go tool registrations and routes every call back
// through Facade.Dispatch, grounded on the teacher's internal/mcp server
// wiring (mcpserver.NewMCPServer/WithToolCapabilities/NewStdioServer) with
// the dynamic AddTools/DeleteTools diffing pattern used to keep a
// federated MCP surface in sync with a changing upstream tool set.
type Server struct {
	facade    *Facade
	mcpServer *mcpserver.MCPServer

	mu         sync.Mutex
	registered map[string]bool
}

// NewServer constructs the mcp-go server and performs an initial tool sync.
func NewServer(f *Facade, name, version string) *Server {
	mcpSrv := mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)
	return &Server{
		facade:     f,
		mcpServer:  mcpSrv,
		registered: make(map[string]bool),
	}
}

// SyncTools recompiles the Facade's tool list and diffs it against what is
// currently registered with mcp-go, adding tools whose names are not yet
// registered and removing ones no longer published. A tool already
// registered under the same name is left as it is, so a changed
// description or schema is not re-registered. Call this after any mutation that can change
// the tool list (skill_create/delete, server_register/unregister) as well
// as periodically, since upstream servers can add or remove tools between
// calls.
func (s *Server) SyncTools(ctx context.Context) {
	descriptors := s.facade.ListTools(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(descriptors))
	var toAdd []mcpserver.ServerTool
	for _, d := range descriptors {
		seen[d.Name] = true
		if s.registered[d.Name] {
			continue
		}
		toAdd = append(toAdd, s.buildServerTool(d))
		s.registered[d.Name] = true
	}

	var toRemove []string
	for name := range s.registered {
		if !seen[name] {
			toRemove = append(toRemove, name)
			delete(s.registered, name)
		}
	}

	if len(toAdd) > 0 {
		s.mcpServer.AddTools(toAdd...)
	}
	if len(toRemove) > 0 {
		s.mcpServer.DeleteTools(toRemove...)
	}
}

func (s *Server) buildServerTool(d cache.ToolDescriptor) mcpserver.ServerTool {
	schema, err := json.Marshal(d.InputSchema)
	if err != nil || len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	tool := mcp.NewToolWithRawSchema(d.Name, d.Description, schema)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handlerFor(d.Name)}
}

func (s *Server) handlerFor(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		result := s.facade.Dispatch(ctx, name, args)
		if result.Err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(result.Err.Message)},
				IsError: true,
			}, nil
		}

		payload, err := json.Marshal(result.Payload)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %q returned a non-serializable result", name))},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(payload))}}, nil
	}
}

// Start performs an initial tool sync and serves over stdio until ctx is
// cancelled, the default downstream transport for a CLI-launched
// SkillFlow instance.
func (s *Server) Start(ctx context.Context) error {
	s.SyncTools(ctx)
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE performs an initial tool sync and serves SSE on port until ctx
// is cancelled, for downstream clients that connect over HTTP rather than
// launching SkillFlow as a subprocess.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	s.SyncTools(ctx)

	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))
	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("[Facade] SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
