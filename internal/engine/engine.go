// Package engine is the cognitiond service facade. It starts executions,
// streams their events, and turns terminal executions into sealed reports
// and remembered insights.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/evaluator"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/logging"
	"github.com/while-basic/celaya-parachain-sub000/internal/memory"
	"github.com/while-basic/celaya-parachain-sub000/internal/orchestrator"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// recapSize is the number of prior insights handed to a recap target.
const recapSize = 5

// Engine runs cognition definitions end to end.
type Engine struct {
	cfg          config.Config
	orchestrator *orchestrator.Orchestrator
	evaluator    *evaluator.Evaluator
	sealer       *sealer.Sealer
	catalog      *cognition.Catalog
	memory       *memory.Store
	sinks        []stream.Sink
	logger       *logging.Logger

	executions *execution.Store
	reports    *report.Store

	mu       sync.Mutex
	runs     map[string]*run
	finished []string
	slots    chan struct{}
	closing  bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopRuns context.CancelFunc
}

// run tracks one started execution until its report is stored.
type run struct {
	handle *orchestrator.Handle
	done   chan struct{}
	err    error
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog resolves definition ids through c.
func WithCatalog(c *cognition.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithMemory enables insight storage and recall.
func WithMemory(m *memory.Store) Option {
	return func(e *Engine) { e.memory = m }
}

// WithSink mirrors every execution's events to s.
func WithSink(s stream.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

// WithEvaluator replaces the default evaluator.
func WithEvaluator(ev *evaluator.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// New creates an engine. orch drives executions and s seals their reports.
func New(cfg config.Config, orch *orchestrator.Orchestrator, s *sealer.Sealer, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:          cfg,
		orchestrator: orch,
		sealer:       s,
		logger:       logger.Named("engine"),
		reports:      report.NewStore(),
		runs:         make(map[string]*run),
		baseCtx:      ctx,
		stopRuns:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = evaluator.New()
	}
	e.executions = execution.NewStore()
	if n := cfg.Engine.MaxConcurrentExecutions; n > 0 {
		e.slots = make(chan struct{}, n)
	}
	return e
}

// StartOptions tunes a single execution.
type StartOptions struct {
	// MaxBuffered overrides stream.max_buffered. Zero keeps the configured value.
	MaxBuffered int
	// Discard drops queued events for executions nobody will stream.
	// Sinks still receive them.
	Discard bool
}

// StartExecution validates def and runs it in the background. The returned
// id names the execution for every other operation.
func (e *Engine) StartExecution(ctx context.Context, def *cognition.Definition, opts StartOptions) (string, error) {
	if def == nil {
		return "", fmt.Errorf("%w: definition is required", cognition.ErrValidation)
	}
	if err := cognition.Validate(def); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return "", ErrShuttingDown
	}
	if e.slots != nil {
		select {
		case e.slots <- struct{}{}:
		default:
			e.mu.Unlock()
			return "", fmt.Errorf("%w: %d executions running", ErrAtCapacity, cap(e.slots))
		}
	}
	e.wg.Add(1)
	e.mu.Unlock()

	rec := e.executions.Create(def)
	id := rec.ID()

	maxBuffered := opts.MaxBuffered
	if maxBuffered == 0 {
		maxBuffered = e.cfg.Stream.MaxBuffered
	}
	chOpts := make([]stream.Option, 0, len(e.sinks)+1)
	for _, s := range e.sinks {
		chOpts = append(chOpts, stream.WithSink(s))
	}
	if opts.Discard {
		chOpts = append(chOpts, stream.WithDiscard())
	}
	ch := stream.NewChannel(id, maxBuffered, chOpts...)

	recap := e.recap(logging.WithExecution(ctx, id, def.ID), rec.Definition())
	r := &run{handle: orchestrator.NewHandle(rec, ch, recap), done: make(chan struct{})}

	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()

	e.logger.Info(logging.WithExecution(ctx, id, def.ID), "execution accepted",
		zap.Int("phases", len(def.Phases)),
		zap.Int("participants", len(def.Participants)),
		zap.Int("recap", len(recap)))

	go e.run(r)
	return id, nil
}

// StartDefinition starts the catalog definition named id.
func (e *Engine) StartDefinition(ctx context.Context, id string, opts StartOptions) (string, error) {
	def, err := e.Definition(id)
	if err != nil {
		return "", err
	}
	return e.StartExecution(ctx, def, opts)
}

// recap recalls prior insights for the definition's recap target.
func (e *Engine) recap(ctx context.Context, def *cognition.Definition) []string {
	if e.memory == nil || def.Memory.RecapTarget == "" {
		return nil
	}
	query := strings.TrimSpace(def.Name + " " + def.Description)
	insights, err := e.memory.Recall(ctx, def.ID, query, recapSize, def.Memory.Retention.Duration())
	if err != nil {
		e.logger.Warn(ctx, "recalling insights for recap", zap.Error(err))
		return nil
	}
	out := make([]string, len(insights))
	for i, in := range insights {
		out[i] = in.Content
	}
	return out
}

func (e *Engine) run(r *run) {
	rec := r.handle.Record()
	def := rec.Definition()
	ctx := logging.WithExecution(e.baseCtx, rec.ID(), def.ID)

	defer func() {
		r.handle.Channel().Close()
		close(r.done)
		if e.slots != nil {
			<-e.slots
		}
		e.retire(rec.ID())
		e.wg.Done()
	}()

	err := e.orchestrator.Execute(ctx, r.handle)
	snap := rec.Snapshot()
	if snap.Status != execution.StatusCompleted && snap.Status != execution.StatusFailed {
		r.err = err
		return
	}

	if sealErr := e.report(ctx, r.handle.Channel(), def, snap); sealErr != nil && err == nil {
		err = sealErr
	}
	r.err = err
}

// report evaluates, seals and stores the report of a terminal execution.
// The returned error is non-nil only when the report was stored unsealed
// or could not be produced.
func (e *Engine) report(ctx context.Context, ch *stream.Channel, def *cognition.Definition, snap execution.Execution) error {
	_, _ = ch.Publish(stream.TypeReportGeneration, stream.MessageData{Message: "generating report"})

	rep, err := e.evaluator.Evaluate(snap)
	if err != nil {
		e.logger.Error(ctx, "evaluating execution", zap.Error(err))
		_, _ = ch.Publish(stream.TypeError, stream.ErrorData{Reason: string(execution.ReasonError), Error: err.Error()})
		return err
	}

	sealed, sealErr := e.sealer.Seal(ctx, rep)
	stored, err := e.reports.Append(sealed)
	if err != nil {
		e.logger.Error(ctx, "storing report", zap.Error(err))
		return err
	}

	if sealErr != nil {
		e.logger.Warn(ctx, "report stored unsealed", zap.String("report_id", stored.ResultID), zap.Error(sealErr))
		_, _ = ch.Publish(stream.TypeError, stream.ErrorData{Reason: "sealing", Error: sealErr.Error()})
	}
	_, _ = ch.Publish(stream.TypeReportComplete, stream.ReportCompleteData{
		ReportID:         stored.ResultID,
		Status:           string(stored.Status),
		ContentReference: stored.Integrity.ContentReference,
		LedgerReference:  stored.Integrity.LedgerReference,
		Sealed:           stored.Integrity.Sealed,
	})
	if stored.Integrity.Sealed {
		_, _ = ch.Publish(stream.TypeVerification, stream.VerificationData{
			MerkleRoot: stored.Integrity.MerkleRoot,
			Signature:  stored.Integrity.Signature,
			PublicKey:  stored.Integrity.PublicKey,
		})
	}

	if e.memory != nil && def.Memory.StoreInsights && len(stored.Insights) > 0 {
		if err := e.memory.StoreInsights(ctx, def.ID, snap.ID, stored.Insights); err != nil {
			e.logger.Warn(ctx, "storing insights", zap.Error(err))
		}
	}

	e.logger.Info(ctx, "report stored",
		zap.String("report_id", stored.ResultID),
		zap.String("status", string(stored.Status)),
		zap.Bool("sealed", stored.Integrity.Sealed))
	return sealErr
}

// StreamEvents attaches the single consumer of an execution's event queue.
func (e *Engine) StreamEvents(ctx context.Context, id string) (<-chan stream.Event, error) {
	r, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.handle.Channel().Subscribe(ctx)
}

// Cancel stops a pending or running execution.
func (e *Engine) Cancel(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	if err := r.handle.Cancel(); err != nil {
		return err
	}
	e.logger.Info(logging.WithExecution(context.Background(), id, r.handle.Record().Definition().ID), "execution cancelled")
	return nil
}

// Wait blocks until the execution has finished and its report, if any, is
// stored. The error is the execution's failure or the sealing failure.
func (e *Engine) Wait(ctx context.Context, id string) (execution.Execution, error) {
	r, err := e.lookup(id)
	if err != nil {
		return execution.Execution{}, err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.handle.Record().Snapshot(), ctx.Err()
	}
	return r.handle.Record().Snapshot(), r.err
}

// GetExecution returns a snapshot of the execution.
func (e *Engine) GetExecution(id string) (execution.Execution, error) {
	rec, err := e.executions.Get(id)
	if err != nil {
		return execution.Execution{}, wrapNotFound(err)
	}
	return rec.Snapshot(), nil
}

// ListExecutions returns snapshots of every execution.
func (e *Engine) ListExecutions() []execution.Execution {
	return e.executions.List()
}

// GetReport returns the latest report version for an execution.
func (e *Engine) GetReport(id string) (*report.Report, error) {
	r, err := e.reports.Latest(id)
	return r, wrapNotFound(err)
}

// ReportHistory returns every stored version of an execution's report.
func (e *Engine) ReportHistory(id string) ([]*report.Report, error) {
	h := e.reports.History(id)
	if len(h) == 0 {
		return nil, &notFound{err: fmt.Errorf("%w: %s", report.ErrNotFound, id)}
	}
	return h, nil
}

// ListReports returns the latest version of every report, newest first.
func (e *Engine) ListReports() []*report.Report {
	return e.reports.List()
}

// FindReportByLedger returns the report recorded under a ledger reference.
func (e *Engine) FindReportByLedger(ref string) (*report.Report, error) {
	r, err := e.reports.ByLedger(ref)
	return r, wrapNotFound(err)
}

// FindReportByContent returns the report stored under a content reference.
func (e *Engine) FindReportByContent(ref string) (*report.Report, error) {
	r, err := e.reports.ByContent(ref)
	return r, wrapNotFound(err)
}

// ResealReport seals the latest report again and stores the outcome as a
// new version. A report left partially sealed resumes where it stopped; a
// sealed one is sealed from scratch and keeps its merkle root.
func (e *Engine) ResealReport(ctx context.Context, id string) (*report.Report, error) {
	latest, err := e.reports.Latest(id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	in := latest
	if latest.Integrity.Sealed {
		in = latest.Unsealed()
	}
	in.Version = 0
	in.Integrity.LastError = ""

	sealed, sealErr := e.sealer.Seal(ctx, in)
	stored, err := e.reports.Append(sealed)
	if err != nil {
		return nil, err
	}
	e.logger.Info(logging.WithExecution(ctx, id, stored.DefinitionID), "report resealed",
		zap.Int("version", stored.Version),
		zap.Bool("sealed", stored.Integrity.Sealed))
	return stored, sealErr
}

// VerifyReport checks the latest report against its integrity block.
func (e *Engine) VerifyReport(ctx context.Context, id string) (*sealer.Verification, error) {
	r, err := e.reports.Latest(id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return e.sealer.Verify(ctx, r)
}

// AnalyzeFailure explains why an execution did not complete cleanly.
func (e *Engine) AnalyzeFailure(id string) (*evaluator.Analysis, error) {
	snap, err := e.GetExecution(id)
	if err != nil {
		return nil, err
	}
	return e.evaluator.Analyze(snap), nil
}

// Recall returns up to n remembered insights of a definition.
func (e *Engine) Recall(ctx context.Context, definitionID, query string, n int) ([]memory.Insight, error) {
	if e.memory == nil {
		return nil, ErrMemoryDisabled
	}
	var retention config.Duration
	if def, err := e.Definition(definitionID); err == nil {
		retention = def.Memory.Retention
	}
	return e.memory.Recall(ctx, definitionID, query, n, retention.Duration())
}

// Forget drops every remembered insight of a definition.
func (e *Engine) Forget(ctx context.Context, definitionID string) error {
	if e.memory == nil {
		return ErrMemoryDisabled
	}
	if err := e.memory.Forget(definitionID); err != nil {
		return err
	}
	e.logger.Info(ctx, "insights forgotten", zap.String("definition_id", definitionID))
	return nil
}

// Definitions lists catalog definitions ordered by id.
func (e *Engine) Definitions() []*cognition.Definition {
	if e.catalog == nil {
		return []*cognition.Definition{}
	}
	defs := e.catalog.List()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Definition returns the catalog definition named id.
func (e *Engine) Definition(id string) (*cognition.Definition, error) {
	if e.catalog == nil {
		return nil, &notFound{err: fmt.Errorf("%w: definition %q (no catalog)", cognition.ErrNotFound, id)}
	}
	def, err := e.catalog.Get(id)
	return def, wrapNotFound(err)
}

// Shutdown cancels running executions and waits for their goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		if err := r.handle.Cancel(); err != nil && !errors.Is(err, execution.ErrTerminal) {
			e.logger.Warn(ctx, "cancelling execution on shutdown",
				zap.String("execution_id", r.handle.Record().ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.stopRuns()
		return nil
	case <-ctx.Done():
		e.stopRuns()
		return fmt.Errorf("waiting for executions: %w", ctx.Err())
	}
}

// retire records id as finished and forgets the oldest finished executions
// beyond engine.retain_executions. Their reports stay available.
func (e *Engine) retire(id string) {
	limit := e.cfg.Engine.RetainExecutions
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, id)
	if limit <= 0 {
		return
	}
	for len(e.finished) > limit {
		old := e.finished[0]
		e.finished = e.finished[1:]
		delete(e.runs, old)
		e.executions.Delete(old)
	}
}

func (e *Engine) lookup(id string) (*run, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return nil, &notFound{err: fmt.Errorf("%w: %s", execution.ErrNotFound, id)}
	}
	return r, nil
}
