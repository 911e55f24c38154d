package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

var errInvalidArgument = errors.New("invalid argument")

const (
	defaultRecallLimit = 5
	defaultSearchLimit = 5
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	regs := []error{
		addTool(s, &ToolMetadata{
			Name:        "cognition_list",
			Description: "List the cognition definitions in the catalog",
			Category:    CategoryCognition,
			Keywords:    []string{"definitions", "catalog"},
		}, s.handleList),
		addTool(s, &ToolMetadata{
			Name:        "cognition_validate",
			Description: "Parse and validate a cognition definition given as JSON, YAML or TOML text",
			Category:    CategoryCognition,
			Keywords:    []string{"check", "lint", "definition"},
		}, s.handleValidate),
		addTool(s, &ToolMetadata{
			Name:        "cognition_start",
			Description: "Start an execution of a catalog definition or an inline definition, optionally waiting for its outcome",
			Category:    CategoryExecution,
			Keywords:    []string{"run", "execute"},
		}, s.handleStart),
		addTool(s, &ToolMetadata{
			Name:        "cognition_status",
			Description: "Show the status, progress and current phase of an execution",
			Category:    CategoryExecution,
			Keywords:    []string{"progress", "phase"},
		}, s.handleStatus),
		addTool(s, &ToolMetadata{
			Name:        "cognition_cancel",
			Description: "Cancel a pending or running execution",
			Category:    CategoryExecution,
			Keywords:    []string{"stop", "abort"},
		}, s.handleCancel),
		addTool(s, &ToolMetadata{
			Name:        "cognition_report",
			Description: "Read the latest report of a finished execution with its seal, optionally verifying it",
			Category:    CategoryReport,
			Keywords:    []string{"result", "seal", "verify", "merkle", "ledger"},
		}, s.handleReport),
		addTool(s, &ToolMetadata{
			Name:        "cognition_analyze",
			Description: "Trace failure points, root causes and recommendations for an execution",
			Category:    CategoryReport,
			Keywords:    []string{"failure", "root cause", "post-mortem"},
		}, s.handleAnalyze),
		addTool(s, &ToolMetadata{
			Name:        "cognition_recall",
			Description: "Recall insights remembered from earlier executions of a definition",
			Category:    CategoryMemory,
			Keywords:    []string{"memory", "insights", "history"},
		}, s.handleRecall),
		addTool(s, &ToolMetadata{
			Name:        "cognition_forget",
			Description: "Forget every insight remembered for a definition",
			Category:    CategoryMemory,
			Keywords:    []string{"memory", "insights", "delete", "reset"},
		}, s.handleForget),
		addTool(s, &ToolMetadata{
			Name:        "tool_search",
			Description: "Search the available tools by name, description or keyword. The query may be a regular expression.",
			Category:    CategorySearch,
		}, s.handleToolSearch),
		addTool(s, &ToolMetadata{
			Name:        "tool_list",
			Description: "List the available tools with their metadata",
			Category:    CategorySearch,
		}, s.handleToolList),
	}
	return errors.Join(regs...)
}

// addTool records the tool's metadata and registers its handler wrapped in
// invocation metrics.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) error {
	if err := s.toolRegistry.Register(meta); err != nil {
		return fmt.Errorf("%s: %w", meta.Name, err)
	}
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Debug("tool call failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	})
	return nil
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func parseFormat(name string) (cognition.Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return cognition.FormatJSON, nil
	case "yaml", "yml":
		return cognition.FormatYAML, nil
	case "toml":
		return cognition.FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", errInvalidArgument, name)
	}
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", errInvalidArgument, field)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// ===== COGNITION TOOLS =====

type listInput struct {
	Category string `json:"category,omitempty" jsonschema:"Only list definitions in this category"`
}

type cognitionSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category"`
	Phases       int      `json:"phases"`
	Participants int      `json:"participants"`
	Tags         []string `json:"tags,omitempty"`
}

type listOutput struct {
	Cognitions []cognitionSummary `json:"cognitions" jsonschema:"Catalog definitions ordered by id"`
	Count      int                `json:"count"`
}

func (s *Server) handleList(_ context.Context, _ *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
	out := listOutput{Cognitions: []cognitionSummary{}}
	for _, d := range s.engine.Definitions() {
		if args.Category != "" && string(d.Category) != args.Category {
			continue
		}
		out.Cognitions = append(out.Cognitions, cognitionSummary{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			Category:     string(d.Category),
			Phases:       len(d.Phases),
			Participants: len(d.Participants),
			Tags:         d.Tags,
		})
	}
	out.Count = len(out.Cognitions)
	return textResult("Found %d cognition definitions", out.Count), out, nil
}

type validateInput struct {
	Definition string `json:"definition" jsonschema:"Definition document text"`
	Format     string `json:"format,omitempty" jsonschema:"json (default), yaml or toml"`
}

type validateOutput struct {
	Valid        bool     `json:"valid"`
	ID           string   `json:"id,omitempty"`
	Problems     []string `json:"problems,omitempty"`
	Phases       int      `json:"phases"`
	Participants int      `json:"participants"`
}

// handleValidate reports an invalid definition in its output, not as a tool
// error. Only an unknown format fails the call.
func (s *Server) handleValidate(_ context.Context, _ *mcp.CallToolRequest, args validateInput) (*mcp.CallToolResult, validateOutput, error) {
	format, err := parseFormat(args.Format)
	if err != nil {
		return nil, validateOutput{}, err
	}
	def, err := cognition.Parse([]byte(args.Definition), format)
	if err != nil {
		out := validateOutput{}
		var verr *cognition.ValidationError
		if errors.As(err, &verr) {
			out.ID = verr.DefinitionID
			out.Problems = verr.Problems
		} else {
			out.Problems = []string{err.Error()}
		}
		return textResult("Definition is invalid: %s", strings.Join(out.Problems, "; ")), out, nil
	}
	out := validateOutput{
		Valid:        true,
		ID:           def.ID,
		Phases:       len(def.Phases),
		Participants: len(def.Participants),
	}
	return textResult("Definition %s is valid", def.ID), out, nil
}

// ===== EXECUTION TOOLS =====

type startInput struct {
	DefinitionID string `json:"definition_id,omitempty" jsonschema:"Catalog definition to run"`
	Definition   string `json:"definition,omitempty" jsonschema:"Inline definition document, exclusive with definition_id"`
	Format       string `json:"format,omitempty" jsonschema:"Format of the inline definition: json (default), yaml or toml"`
	Wait         bool   `json:"wait,omitempty" jsonschema:"Block until the execution finishes and its report is stored"`
}

type startOutput struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
	Reason      execution.Reason `json:"reason,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// handleStart runs without an event consumer: events are discarded and
// progress is read back through cognition_status.
func (s *Server) handleStart(ctx context.Context, _ *mcp.CallToolRequest, args startInput) (*mcp.CallToolResult, startOutput, error) {
	opts := engine.StartOptions{Discard: true}

	var (
		id  string
		err error
	)
	switch {
	case args.Definition != "" && args.DefinitionID != "":
		return nil, startOutput{}, fmt.Errorf("%w: definition and definition_id are mutually exclusive", errInvalidArgument)
	case args.Definition != "":
		format, ferr := parseFormat(args.Format)
		if ferr != nil {
			return nil, startOutput{}, ferr
		}
		def, perr := cognition.Parse([]byte(args.Definition), format)
		if perr != nil {
			return nil, startOutput{}, perr
		}
		id, err = s.engine.StartExecution(ctx, def, opts)
	case args.DefinitionID != "":
		id, err = s.engine.StartDefinition(ctx, args.DefinitionID, opts)
	default:
		return nil, startOutput{}, fmt.Errorf("%w: definition or definition_id is required", errInvalidArgument)
	}
	if err != nil {
		return nil, startOutput{}, err
	}

	if !args.Wait {
		return textResult("Started execution %s", id), startOutput{ExecutionID: id, Status: execution.StatusPending}, nil
	}

	exec, runErr := s.engine.Wait(ctx, id)
	if ctx.Err() != nil {
		return nil, startOutput{}, ctx.Err()
	}
	out := startOutput{ExecutionID: id, Status: exec.Status, Reason: exec.Reason}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return textResult("Execution %s finished: %s", id, exec.Status), out, nil
}

type executionInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"Execution identifier returned by cognition_start"`
}

type statusOutput struct {
	ExecutionID     string           `json:"execution_id"`
	DefinitionID    string           `json:"definition_id"`
	Status          execution.Status `json:"status"`
	Reason          execution.Reason `json:"reason,omitempty"`
	Progress        float64          `json:"progress"`
	CurrentPhaseID  string           `json:"current_phase_id,omitempty"`
	PhasesCompleted int              `json:"phases_completed"`
	TotalPhases     int              `json:"total_phases"`
	Error           string           `json:"error,omitempty"`
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, args executionInput) (*mcp.CallToolResult, statusOutput, error) {
	if err := requireID("execution_id", args.ExecutionID); err != nil {
		return nil, statusOutput{}, err
	}
	exec, err := s.engine.GetExecution(args.ExecutionID)
	if err != nil {
		return nil, statusOutput{}, err
	}
	out := statusOutput{
		ExecutionID:     exec.ID,
		DefinitionID:    exec.DefinitionID,
		Status:          exec.Status,
		Reason:          exec.Reason,
		Progress:        exec.Progress,
		CurrentPhaseID:  exec.CurrentPhaseID,
		PhasesCompleted: len(exec.PhaseResults),
		TotalPhases:     exec.TotalPhases,
		Error:           exec.Error,
	}
	return textResult("Execution %s is %s (%.0f%%)", exec.ID, exec.Status, exec.Progress), out, nil
}

type cancelOutput struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
}

func (s *Server) handleCancel(_ context.Context, _ *mcp.CallToolRequest, args executionInput) (*mcp.CallToolResult, cancelOutput, error) {
	if err := requireID("execution_id", args.ExecutionID); err != nil {
		return nil, cancelOutput{}, err
	}
	if err := s.engine.Cancel(args.ExecutionID); err != nil {
		return nil, cancelOutput{}, err
	}
	out := cancelOutput{ExecutionID: args.ExecutionID, Status: execution.StatusCancelled}
	return textResult("Cancelled execution %s", args.ExecutionID), out, nil
}

// ===== REPORT TOOLS =====

type reportInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"Execution whose latest report to read"`
	Verify      bool   `json:"verify,omitempty" jsonschema:"Also recompute the merkle root and check signature, content and ledger"`
}

type verificationOutput struct {
	Valid           bool     `json:"valid"`
	RootMatches     bool     `json:"root_matches"`
	SignatureValid  bool     `json:"signature_valid"`
	ContentMatches  bool     `json:"content_matches"`
	LedgerConfirmed bool     `json:"ledger_confirmed"`
	Problems        []string `json:"problems,omitempty"`
}

type reportOutput struct {
	ResultID         string              `json:"result_id"`
	ExecutionID      string              `json:"execution_id"`
	DefinitionID     string              `json:"definition_id"`
	Version          int                 `json:"version"`
	Status           report.Status       `json:"status"`
	Reason           execution.Reason    `json:"reason,omitempty"`
	ConsensusScore   float64             `json:"consensus_score"`
	ReliabilityIndex float64             `json:"reliability_index"`
	PhasesCompleted  int                 `json:"phases_completed"`
	TotalPhases      int                 `json:"total_phases"`
	Insights         []string            `json:"insights"`
	Recommendations  []string            `json:"recommendations"`
	Sealed           bool                `json:"sealed"`
	MerkleRoot       string              `json:"merkle_root,omitempty"`
	ContentReference string              `json:"content_reference,omitempty"`
	LedgerReference  string              `json:"ledger_reference,omitempty"`
	LastError        string              `json:"last_error,omitempty"`
	Verification     *verificationOutput `json:"verification,omitempty"`
}

func (s *Server) handleReport(ctx context.Context, _ *mcp.CallToolRequest, args reportInput) (*mcp.CallToolResult, reportOutput, error) {
	if err := requireID("execution_id", args.ExecutionID); err != nil {
		return nil, reportOutput{}, err
	}
	r, err := s.engine.GetReport(args.ExecutionID)
	if err != nil {
		return nil, reportOutput{}, err
	}
	out := reportOutput{
		ResultID:         r.ResultID,
		ExecutionID:      r.ExecutionID,
		DefinitionID:     r.DefinitionID,
		Version:          r.Version,
		Status:           r.Status,
		Reason:           r.Reason,
		PhasesCompleted:  r.PhasesCompleted,
		TotalPhases:      r.TotalPhases,
		Insights:         nonNil(r.Insights),
		Recommendations:  nonNil(r.Recommendations),
		Sealed:           r.Integrity.Sealed,
		MerkleRoot:       r.Integrity.MerkleRoot,
		ContentReference: r.Integrity.ContentReference,
		LedgerReference:  r.Integrity.LedgerReference,
		LastError:        r.Integrity.LastError,
	}
	if r.ConsensusScore != nil {
		out.ConsensusScore = *r.ConsensusScore
	}
	if r.ReliabilityIndex != nil {
		out.ReliabilityIndex = *r.ReliabilityIndex
	}

	if args.Verify {
		v, err := s.engine.VerifyReport(ctx, args.ExecutionID)
		if err != nil {
			return nil, reportOutput{}, err
		}
		out.Verification = &verificationOutput{
			Valid:           v.Valid,
			RootMatches:     v.RootMatches,
			SignatureValid:  v.SignatureValid,
			ContentMatches:  v.ContentMatches,
			LedgerConfirmed: v.LedgerConfirmed,
			Problems:        v.Problems,
		}
	}
	return textResult("Report %s v%d: %s, sealed=%t", r.ResultID, r.Version, r.Status, r.Integrity.Sealed), out, nil
}

type failurePoint struct {
	PhaseID  string `json:"phase_id,omitempty"`
	Agent    string `json:"agent,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type analyzeOutput struct {
	ExecutionID     string           `json:"execution_id"`
	Status          execution.Status `json:"status"`
	Reason          execution.Reason `json:"reason,omitempty"`
	FailurePoints   []failurePoint   `json:"failure_points"`
	RootCauses      []string         `json:"root_causes"`
	Recommendations []string         `json:"recommendations"`
}

func (s *Server) handleAnalyze(_ context.Context, _ *mcp.CallToolRequest, args executionInput) (*mcp.CallToolResult, analyzeOutput, error) {
	if err := requireID("execution_id", args.ExecutionID); err != nil {
		return nil, analyzeOutput{}, err
	}
	a, err := s.engine.AnalyzeFailure(args.ExecutionID)
	if err != nil {
		return nil, analyzeOutput{}, err
	}
	out := analyzeOutput{
		ExecutionID:     a.ExecutionID,
		Status:          a.Status,
		Reason:          a.Reason,
		FailurePoints:   make([]failurePoint, 0, len(a.FailurePoints)),
		RootCauses:      nonNil(a.RootCauses),
		Recommendations: nonNil(a.Recommendations),
	}
	for _, fp := range a.FailurePoints {
		out.FailurePoints = append(out.FailurePoints, failurePoint{
			PhaseID:  fp.PhaseID,
			Agent:    fp.Agent,
			Severity: string(fp.Severity),
			Message:  fp.Message,
		})
	}
	return textResult("Execution %s: %d failure points, %d root causes",
		a.ExecutionID, len(out.FailurePoints), len(out.RootCauses)), out, nil
}

// ===== MEMORY TOOLS =====

type recallInput struct {
	DefinitionID string `json:"definition_id" jsonschema:"Definition whose insights to search"`
	Query        string `json:"query" jsonschema:"Text to match insights against"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum insights to return (default: 5)"`
}

type insightOutput struct {
	ExecutionID string  `json:"execution_id"`
	Content     string  `json:"content"`
	Similarity  float32 `json:"similarity"`
	StoredAt    string  `json:"stored_at"`
}

type recallOutput struct {
	Insights []insightOutput `json:"insights"`
	Count    int             `json:"count"`
}

func (s *Server) handleRecall(ctx context.Context, _ *mcp.CallToolRequest, args recallInput) (*mcp.CallToolResult, recallOutput, error) {
	if err := requireID("definition_id", args.DefinitionID); err != nil {
		return nil, recallOutput{}, err
	}
	if err := requireID("query", args.Query); err != nil {
		return nil, recallOutput{}, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	insights, err := s.engine.Recall(ctx, args.DefinitionID, args.Query, limit)
	if err != nil {
		return nil, recallOutput{}, err
	}
	out := recallOutput{Insights: make([]insightOutput, 0, len(insights))}
	for _, in := range insights {
		out.Insights = append(out.Insights, insightOutput{
			ExecutionID: in.ExecutionID,
			Content:     in.Content,
			Similarity:  in.Similarity,
			StoredAt:    in.StoredAt.UTC().Format(time.RFC3339),
		})
	}
	out.Count = len(out.Insights)
	return textResult("Recalled %d insights for %s", out.Count, args.DefinitionID), out, nil
}

type forgetInput struct {
	DefinitionID string `json:"definition_id" jsonschema:"Definition whose insights to forget"`
}

type forgetOutput struct {
	DefinitionID string `json:"definition_id"`
	Forgotten    bool   `json:"forgotten"`
}

func (s *Server) handleForget(ctx context.Context, _ *mcp.CallToolRequest, args forgetInput) (*mcp.CallToolResult, forgetOutput, error) {
	if err := requireID("definition_id", args.DefinitionID); err != nil {
		return nil, forgetOutput{}, err
	}
	if err := s.engine.Forget(ctx, args.DefinitionID); err != nil {
		return nil, forgetOutput{}, err
	}
	return textResult("Forgot insights for %s", args.DefinitionID), forgetOutput{DefinitionID: args.DefinitionID, Forgotten: true}, nil
}

// ===== TOOL DISCOVERY =====

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Search text or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Filter results to a category (cognition, execution, report, memory, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolResult struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords,omitempty"`
	Score       int      `json:"score,omitempty"`
	MatchReason string   `json:"match_reason,omitempty"`
}

type toolSearchOutput struct {
	Query      string       `json:"query"`
	Results    []toolResult `json:"results"`
	Count      int          `json:"count"`
	TotalTools int          `json:"total_tools"`
}

func (s *Server) handleToolSearch(_ context.Context, _ *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
	if err := requireID("query", args.Query); err != nil {
		return nil, toolSearchOutput{}, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var found []*SearchResult
	if args.Category != "" {
		found = s.toolRegistry.SearchByCategory(args.Query, ToolCategory(args.Category))
	} else {
		found = s.toolRegistry.Search(args.Query)
	}
	if len(found) > limit {
		found = found[:limit]
	}

	out := toolSearchOutput{
		Query:      args.Query,
		Results:    make([]toolResult, 0, len(found)),
		TotalTools: s.toolRegistry.Count(),
	}
	names := make([]string, 0, len(found))
	for _, sr := range found {
		out.Results = append(out.Results, toolResult{
			Name:        sr.Tool.Name,
			Description: sr.Tool.Description,
			Category:    string(sr.Tool.Category),
			Keywords:    sr.Tool.Keywords,
			Score:       sr.Score,
			MatchReason: sr.MatchReason,
		})
		names = append(names, sr.Tool.Name)
	}
	out.Count = len(out.Results)

	if out.Count == 0 {
		return textResult("No tools found matching: %s", args.Query), out, nil
	}
	return textResult("Found %d tool(s) for query '%s': %s", out.Count, args.Query, strings.Join(names, ", ")), out, nil
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Filter to a specific category"`
}

type toolListOutput struct {
	Tools []toolResult `json:"tools"`
	Count int          `json:"count"`
}

func (s *Server) handleToolList(_ context.Context, _ *mcp.CallToolRequest, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
	var tools []*ToolMetadata
	if args.Category != "" {
		tools = s.toolRegistry.ListByCategory(ToolCategory(args.Category))
	} else {
		tools = s.toolRegistry.List()
	}
	out := toolListOutput{Tools: make([]toolResult, 0, len(tools))}
	for _, t := range tools {
		out.Tools = append(out.Tools, toolResult{
			Name:        t.Name,
			Description: t.Description,
			Category:    string(t.Category),
			Keywords:    t.Keywords,
		})
	}
	out.Count = len(out.Tools)
	return textResult("Found %d tools", out.Count), out, nil
}
