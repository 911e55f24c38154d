// Cognitiond runs multi-agent cognition executions and seals their reports.
//
// The daemon serves the HTTP API (executions, event streams, reports and
// insights) on server.host:server.port. With the mcp subcommand it instead
// serves the same engine as MCP tools over stdio.
//
// Configuration is read from the YAML file named by -config, then from
// COGNITIOND_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults (embedded NATS, static agents)
//	cognitiond
//
//	# Use a config file and a different port
//	COGNITIOND_SERVER_PORT=9300 cognitiond -config /etc/cognitiond/config.yaml
//
//	# Serve MCP tools on stdin/stdout
//	cognitiond -config config.yaml mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	httpserver "github.com/while-basic/celaya-parachain-sub000/internal/http"
	"github.com/while-basic/celaya-parachain-sub000/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("COGNITIOND_CONFIG"), "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	mode := "serve"
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "serve", "mcp":
	case "version":
		printVersion()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  cognitiond [-config path]           Start the HTTP daemon\n")
		fmt.Fprintf(os.Stderr, "  cognitiond [-config path] mcp       Serve MCP tools over stdio\n")
		fmt.Fprintf(os.Stderr, "  cognitiond version                  Show version information\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if mode == "mcp" {
		err = runMCP(ctx, *configPath)
	} else {
		err = run(ctx, *configPath)
	}
	if err != nil {
		log.Fatalf("cognitiond: %v", err)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("cognitiond\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run serves the HTTP API until ctx is cancelled, then drains running
// executions within server.shutdown_timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg, err := services.New(ctx, cfg, services.Options{Version: version})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	logger := reg.Logger().Underlying()

	var opts []httpserver.Option
	if b := reg.Bridge(); b != nil {
		opts = append(opts, httpserver.WithBridge(b))
	}
	srv, err := httpserver.NewServer(reg.Engine(), logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, opts...)
	if err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("starting cognitiond",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http server: %w", serveErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := reg.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("cognitiond stopped")
	return errors.Join(errs...)
}
