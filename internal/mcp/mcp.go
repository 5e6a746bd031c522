// Package mcp exposes the orchestration engine as Model Context Protocol
// tools, so a coordinating agent can spawn workers, consult the catalog and
// exchange messages. The same server is served over stdio and over the
// streamable HTTP transport at /mcp.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ankittk/agentorch/internal/engine"
)

// Options configures the MCP server.
type Options struct {
	// ProjectRoot is used when a spawn call does not name one.
	ProjectRoot string
	// RunID identifies the caller when it is itself a worker run. It is the
	// default sender of messages and the default inbox.
	RunID   string
	Version string
	Log     *slog.Logger
}

// Server wraps the mcp-go server with the engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	eng       *engine.Engine
	opts      Options
	logger    *slog.Logger
}

// New creates an MCP server with every tool registered.
func New(eng *engine.Engine, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{eng: eng, opts: opts, logger: opts.Log}
	s.mcpServer = mcpserver.NewMCPServer(
		"agentorch",
		opts.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools on stdin/stdout until stdin closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("marshal result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
