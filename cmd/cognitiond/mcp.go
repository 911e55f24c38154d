package main

import (
	"context"
	"fmt"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/mcp"
	"github.com/while-basic/celaya-parachain-sub000/internal/services"
)

// runMCP serves the engine as MCP tools over stdio. Logs go to stderr since
// stdout carries the protocol.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg, err := services.New(ctx, cfg, services.Options{Version: version, LogToStderr: true})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = reg.Close(shutdownCtx)
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "cognitiond",
		Version: version,
		Logger:  reg.Logger().Underlying(),
	}, reg.Engine())
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}
