package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/flowtrace/internal/pipeline"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes session analysis tools.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// NewServer creates a new MCP server over the given pipeline. Tools whose
// component is missing from p answer with a tool error.
func NewServer(p *pipeline.Pipeline, logger *slog.Logger) *Server {
	if p == nil {
		p = &pipeline.Pipeline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipeline: p, logger: logger}

	s.mcp = server.NewMCPServer(
		"flowtrace",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(listSessionsTool, s.handleListSessions)
	s.mcp.AddTool(correlateSessionTool, s.handleCorrelateSession)
	s.mcp.AddTool(understandSessionTool, s.handleUnderstandSession)
	s.mcp.AddTool(generatePrototypeTool, s.handleGeneratePrototype)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
