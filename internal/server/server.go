// Package server wires the exposed operations into an MCP server. Which
// tools exist is decided once at startup by the capability registry; the
// handlers delegate to the session, transfer and formatting layers behind
// the security gate.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"remote-exec-mcp/internal/config"
	"remote-exec-mcp/internal/file"
	"remote-exec-mcp/internal/providers"
	"remote-exec-mcp/internal/registry"
	"remote-exec-mcp/internal/security"
	"remote-exec-mcp/internal/session"
	"remote-exec-mcp/internal/transfer"
)

// Deps are the collaborators the tool handlers delegate to. Bridge and
// Containers may be nil when their providers are disabled; the exposed tool
// set guarantees their tools are not registered in that case.
type Deps struct {
	Config     *config.Config
	Gate       *security.Gate
	Sessions   *session.Manager
	Files      *file.Operations
	Bridge     *transfer.Bridge
	Containers *providers.ContainerService
	Exposed    registry.ExposedToolSet
	Log        *slog.Logger
}

// Setup builds the MCP server and registers every exposed tool.
func Setup(deps Deps) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		deps.Log.Debug("request", "method", method, "id", id)
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		deps.Log.Error("request failed", "method", method, "id", id, "error", err)
	})

	mcpServer := server.NewMCPServer(
		"remote-exec-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithHooks(hooks),
	)

	for _, tool := range Tools(deps) {
		if !deps.Exposed.Has(tool.Definition.Name) {
			continue
		}
		mcpServer.AddTool(tool.Definition, tool.Handler)
	}
	deps.Log.Info("tools registered", "exposed", deps.Exposed.Names())

	return mcpServer
}

// StartHTTP serves the MCP server over streamable HTTP.
func StartHTTP(mcpServer *server.MCPServer, port int, log *slog.Logger) error {
	httpServer := server.NewStreamableHTTPServer(mcpServer)
	addr := fmt.Sprintf(":%d", port)
	log.Info("HTTP server listening", "addr", addr+"/mcp")
	return httpServer.Start(addr)
}

// StartStdio serves the MCP server over stdio.
func StartStdio(mcpServer *server.MCPServer, log *slog.Logger) error {
	log.Info("serving on stdio")
	return server.ServeStdio(mcpServer)
}
