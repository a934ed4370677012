package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex/internal/engine"
)

// ServerName is the MCP server name
const ServerName = "codeindex"

// Server exposes every engine verb as an MCP tool
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	log    *slog.Logger
}

// NewServer creates an MCP server over eng. The engine stays owned by the
// caller.
func NewServer(eng *engine.Engine, version string) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		engine: eng,
		log:    eng.Config().Log().With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// tools lists the tool definition of each verb
func tools() []mcp.Tool {
	return []mcp.Tool{
		initTool(),
		updateTool(),
		searchTool(),
		findTool(),
		symbolTool(),
		inspectTool(),
		graphTool(),
		semanticTool(),
		statusTool(),
	}
}

// registerTools registers one tool per verb
func (s *Server) registerTools() {
	for _, tool := range tools() {
		s.mcp.AddTool(tool, s.handleVerb(tool.Name))
	}
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info("mcp server started", "root", s.engine.Config().Root)
	defer s.log.Info("mcp server stopped")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}
