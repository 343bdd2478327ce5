// Package mcptools exposes testbench generation over the Model Context
// Protocol, so MCP-capable clients can preview plans, run full generation
// sessions, and inspect the audit trail.
package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the three verifai tools registered.
func NewServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "verifai",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_plan",
		Description: "Build the testbench plan tree for a DUT specification without generating any artifacts. Returns the planned components and their hierarchy.",
	}, svc.PreviewPlan)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_testbench",
		Description: "Run a full testbench generation session for a DUT specification: plan construction, agent proposals, lint healing, and coverage closure. Returns the outcome and the files written.",
	}, svc.GenerateTestbench)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session_stats",
		Description: "Inspect the audit trail of the most recent generation session: message counts, plan node counts, and optionally the messages of one kind.",
	}, svc.GetSessionStats)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts an HTTP server exposing the MCP tools on addr.
func RunHTTP(ctx context.Context, svc *Service, addr string) error {
	server := NewServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
