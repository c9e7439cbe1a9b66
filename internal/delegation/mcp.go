package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// MCPServerConfig configures the Delegation Tools MCP transport.
type MCPServerConfig struct {
	Transport       string // stdio | sse | http, per spec.md §6
	Port            int
	DefaultProvider model.ProviderKind
	HandoffTimeout  time.Duration
}

// MCPServer wraps the SSE and Streamable HTTP transports with lifecycle
// management, mirroring the teacher's dual-transport MCP server.
type MCPServer struct {
	cfg        MCPServerConfig
	mcpServer  *server.MCPServer
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
	httpServer *http.Server
	mu         sync.Mutex
	running    bool
	logger     *logger.Logger
}

func NewMCPServer(cfg MCPServerConfig, tools *Tools, log *logger.Logger) *MCPServer {
	mcpServer := server.NewMCPServer("agent-orchestrator-mcp", "1.0.0", server.WithToolCapabilities(true))
	registerTools(mcpServer, tools, cfg, log)
	return &MCPServer{
		cfg:       cfg,
		mcpServer: mcpServer,
		logger:    log.WithFields(zap.String("component", "delegation-mcp-server")),
	}
}

// ServeStdio blocks serving the MCP protocol over stdio, for transport="stdio".
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Start starts the SSE and Streamable HTTP transports on the configured
// port, for transport="sse" or "http".
func (s *MCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server already running")
	}
	s.mu.Unlock()

	s.sse = server.NewSSEServer(s.mcpServer)
	s.streamable = server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sse.SSEHandler())
	mux.Handle("/message", s.sse.MessageHandler())
	mux.Handle("/mcp", s.streamable)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	ready := make(chan struct{})

	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("delegation MCP server listening", zap.String("addr", addr))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("mcp server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown mcp http server: %w", err)
		}
	}
	if s.sse != nil {
		if err := s.sse.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown sse server", zap.Error(err))
		}
	}
	if s.streamable != nil {
		if err := s.streamable.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable http server", zap.Error(err))
		}
	}
	return nil
}

func registerTools(s *server.MCPServer, tools *Tools, cfg MCPServerConfig, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("handoff",
			mcp.WithDescription("Delegate a task to a new worker agent and block until it completes or times out."),
			mcp.WithString("profile", mcp.Required(), mcp.Description("Agent profile/persona to launch the worker with")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The task to hand off")),
			mcp.WithNumber("timeout", mcp.Description("Seconds to wait for completion (default 600)")),
			mcp.WithString("cwd", mcp.Description("Working directory override for the worker")),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		handoffHandler(tools, cfg, log),
	)

	s.AddTool(
		mcp.NewTool("assign",
			mcp.WithDescription("Delegate a task to a new worker agent asynchronously; the result is auto-relayed on completion."),
			mcp.WithString("profile", mcp.Required(), mcp.Description("Agent profile/persona to launch the worker with")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The task to assign")),
			mcp.WithString("cwd", mcp.Description("Working directory override for the worker")),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		assignHandler(tools, cfg, log),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Queue a message for delivery to another terminal's inbox."),
			mcp.WithString("receiver", mcp.Required(), mcp.Description("Terminal id to deliver the message to")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The message body")),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		sendMessageHandler(tools, log),
	)

	s.AddTool(
		mcp.NewTool("check_inbox",
			mcp.WithDescription("List queued inbox messages for the caller's (or a given) terminal."),
			mcp.WithString("terminal_id", mcp.Description("Terminal id to check; defaults to the caller's own")),
			mcp.WithNumber("limit", mcp.Description("Max messages to return (default 50)")),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		checkInboxHandler(tools, log),
	)

	s.AddTool(
		mcp.NewTool("list_workers",
			mcp.WithDescription("Enumerate worker terminals in the caller's session."),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		listWorkersHandler(tools, log),
	)

	s.AddTool(
		mcp.NewTool("done",
			mcp.WithDescription("Explicitly relay a result to the delegating supervisor of the caller's terminal."),
			mcp.WithString("message", mcp.Required(), mcp.Description("The result to report back")),
			mcp.WithString("session_id", mcp.Description("Agent-internal session id, if not calling from a tracked terminal")),
		),
		doneHandler(tools, log),
	)

	log.Info("registered delegation MCP tools", zap.Int("count", 6))
}

func handoffHandler(tools *Tools, cfg MCPServerConfig, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		profile, err := req.RequireString("profile")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeout := cfg.HandoffTimeout
		if secs := numberArg(req, "timeout", 0); secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}

		result := tools.Handoff(ctx, HandoffParams{
			SessionIDParam:  req.GetString("session_id", ""),
			Profile:         profile,
			Message:         message,
			Cwd:             req.GetString("cwd", ""),
			DefaultProvider: cfg.DefaultProvider,
		}, timeout)
		return toolResultJSON(result)
	}
}

func assignHandler(tools *Tools, cfg MCPServerConfig, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		profile, err := req.RequireString("profile")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := tools.Assign(ctx, HandoffParams{
			SessionIDParam:  req.GetString("session_id", ""),
			Profile:         profile,
			Message:         message,
			Cwd:             req.GetString("cwd", ""),
			DefaultProvider: cfg.DefaultProvider,
		})
		return toolResultJSON(result)
	}
}

func sendMessageHandler(tools *Tools, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		receiver, err := req.RequireString("receiver")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ok, msg := tools.SendMessage(ctx, req.GetString("session_id", ""), receiver, message)
		return toolResultJSON(map[string]any{"success": ok, "message": msg})
	}
}

func checkInboxHandler(tools *Tools, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := int(numberArg(req, "limit", 50))
		messages, err := tools.CheckInbox(ctx, req.GetString("session_id", ""), req.GetString("terminal_id", ""), limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResultJSON(messages)
	}
}

func listWorkersHandler(tools *Tools, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workers, err := tools.ListWorkers(ctx, req.GetString("session_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResultJSON(workers)
	}
}

func doneHandler(tools *Tools, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ok, msg, supervisorID := tools.Done(ctx, req.GetString("session_id", ""), message)
		return toolResultJSON(map[string]any{"success": ok, "message": msg, "supervisor_id": supervisorID})
	}
}

// numberArg extracts a numeric argument from the request's raw argument map,
// since MCP tool arguments decode as JSON numbers (float64) regardless of
// the schema's declared type.
func numberArg(req mcp.CallToolRequest, name string, def float64) float64 {
	args := req.GetArguments()
	v, ok := args[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
