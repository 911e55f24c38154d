package http

import (
	"context"
	"encoding/json"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/evaluator"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/memory"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// Engine is the part of *engine.Engine the HTTP API serves.
type Engine interface {
	Definitions() []*cognition.Definition
	Definition(id string) (*cognition.Definition, error)
	StartExecution(ctx context.Context, def *cognition.Definition, opts engine.StartOptions) (string, error)
	StartDefinition(ctx context.Context, id string, opts engine.StartOptions) (string, error)
	GetExecution(id string) (execution.Execution, error)
	ListExecutions() []execution.Execution
	StreamEvents(ctx context.Context, id string) (<-chan stream.Event, error)
	Cancel(id string) error
	GetReport(id string) (*report.Report, error)
	ListReports() []*report.Report
	FindReportByLedger(ref string) (*report.Report, error)
	FindReportByContent(ref string) (*report.Report, error)
	ResealReport(ctx context.Context, id string) (*report.Report, error)
	VerifyReport(ctx context.Context, id string) (*sealer.Verification, error)
	AnalyzeFailure(id string) (*evaluator.Analysis, error)
	Recall(ctx context.Context, definitionID, query string, n int) ([]memory.Insight, error)
	Forget(ctx context.Context, definitionID string) error
}

var _ Engine = (*engine.Engine)(nil)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Executions int    `json:"executions"`
	Reports    int    `json:"reports"`
}

// StartRequest is the request body for POST /api/v1/executions. Exactly one
// of DefinitionID and Definition is set.
type StartRequest struct {
	DefinitionID string          `json:"definition_id,omitempty"`
	Definition   json.RawMessage `json:"definition,omitempty"`
	MaxBuffered  int             `json:"max_buffered,omitempty"`
	Discard      bool            `json:"discard,omitempty"`
}

// StartResponse is the response body for POST /api/v1/executions.
type StartResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ValidateResponse is the response body for POST /api/v1/cognitions/validate.
type ValidateResponse struct {
	Valid        bool     `json:"valid"`
	ID           string   `json:"id,omitempty"`
	Problems     []string `json:"problems,omitempty"`
	Phases       int      `json:"phases,omitempty"`
	Participants int      `json:"participants,omitempty"`
}

// CancelResponse is the response body for POST /api/v1/executions/:id/cancel.
type CancelResponse struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
}

// ResealResponse is returned when a reseal stored a new version but could
// not complete sealing.
type ResealResponse struct {
	Report *report.Report `json:"report"`
	Error  string         `json:"error"`
}

// CognitionSummary is one entry of GET /api/v1/cognitions.
type CognitionSummary struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Category     cognition.Category `json:"category"`
	Phases       int                `json:"phases"`
	Participants int                `json:"participants"`
	Tags         []string           `json:"tags,omitempty"`
}
