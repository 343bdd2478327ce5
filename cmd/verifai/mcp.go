package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/config"
	"github.com/fra-l/verifai/internal/mcptools"
)

// runServeMCP serves the verifai tools over MCP, on stdio by default or over
// HTTP when an address is given.
func runServeMCP(ctx context.Context, cfg *config.ProjectConfig, flags cliFlags, logger *zap.Logger) (int, error) {
	svc := mcptools.NewService(cfg, logger)

	if flags.MCPAddr != "" {
		logger.Info("serving MCP over HTTP", zap.String("addr", flags.MCPAddr))
		if err := mcptools.RunHTTP(ctx, svc, flags.MCPAddr); err != nil {
			return 1, fmt.Errorf("mcp http server: %w", err)
		}
		return 0, nil
	}

	if err := mcptools.RunStdio(ctx, mcptools.NewServer(svc)); err != nil {
		return 1, fmt.Errorf("mcp stdio server: %w", err)
	}
	return 0, nil
}
