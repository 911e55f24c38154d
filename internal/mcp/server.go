package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/evaluator"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/memory"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
)

// Engine is the part of the cognition engine the tools call.
type Engine interface {
	Definitions() []*cognition.Definition
	StartExecution(ctx context.Context, def *cognition.Definition, opts engine.StartOptions) (string, error)
	StartDefinition(ctx context.Context, id string, opts engine.StartOptions) (string, error)
	Wait(ctx context.Context, id string) (execution.Execution, error)
	GetExecution(id string) (execution.Execution, error)
	Cancel(id string) error
	GetReport(id string) (*report.Report, error)
	VerifyReport(ctx context.Context, id string) (*sealer.Verification, error)
	AnalyzeFailure(id string) (*evaluator.Analysis, error)
	Recall(ctx context.Context, definitionID, query string, n int) ([]memory.Insight, error)
	Forget(ctx context.Context, definitionID string) error
}

var _ Engine = (*engine.Engine)(nil)

// Server is an MCP server backed by the cognition engine.
type Server struct {
	mcp          *mcp.Server
	engine       Engine
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "cognitiond")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cognitiond",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over the given engine.
func NewServer(cfg *Config, eng Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		engine:       eng,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// MCP returns the underlying SDK server, for callers that bring their own
// transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Registry returns the metadata of the registered tools.
func (s *Server) Registry() *ToolRegistry {
	return s.toolRegistry
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.toolRegistry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
