package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/agents"
	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// Orchestrator drives executions through their phases.
type Orchestrator struct {
	invoker agents.Invoker
	cfg     Config
	gates   []Gate
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGate adds a dispatch gate after the trust gate.
func WithGate(g Gate) Option {
	return func(o *Orchestrator) { o.gates = append(o.gates, g) }
}

// WithMetrics replaces the default instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an orchestrator invoking participants through invoker.
func New(invoker agents.Invoker, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		invoker: invoker,
		cfg:     cfg,
		gates:   []Gate{NewTrustGate()},
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(logger)
	}
	return o
}

// outcome is what a dispatched participant sends back to the phase loop.
type outcome struct {
	agent    cognition.Participant
	inv      agents.Invocation
	err      error
	timedOut bool
	panicked any
	elapsed  time.Duration
}

// Execute runs h to a terminal state and returns the error that ended it,
// nil on Completed. It never panics.
func (o *Orchestrator) Execute(ctx context.Context, h *Handle) (err error) {
	rec := h.Record()
	def := rec.Definition()

	timeout := def.Timeout.Duration()
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if !h.arm(cancel) {
		return ErrCancelled
	}

	runCtx, span := o.tracer.Start(runCtx, "cognition.execute", trace.WithAttributes(
		attribute.String("execution.id", rec.ID()),
		attribute.String("definition.id", def.ID),
		attribute.Int("phases", len(def.Phases)),
	))
	logger := o.logger.With(
		zap.String("execution_id", rec.ID()),
		zap.String("definition_id", def.ID),
	)

	started := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("orchestrator panic", zap.Any("panic", r))
			err = h.fail(execution.ReasonError, &InternalError{Err: fmt.Errorf("orchestrator panic: %v", r)})
		}
		snap := rec.Snapshot()
		o.metrics.ExecutionEnded(context.Background(), snap.Status, snap.Reason, started)
		if err != nil && !errors.Is(err, ErrCancelled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("status", string(snap.Status)))
		span.End()
		logger.Info("execution finished",
			zap.String("status", string(snap.Status)),
			zap.String("reason", string(snap.Reason)),
			zap.Int("phase_results", len(snap.PhaseResults)),
			zap.Duration("duration", snap.Duration()))
	}()

	if verr := cognition.Validate(def); verr != nil {
		return h.fail(execution.ReasonError, &InternalError{Err: fmt.Errorf("definition rejected at run time: %v", verr)})
	}

	names := make([]string, len(def.Participants))
	for i, p := range def.Participants {
		names[i] = p.Name
	}
	if err := h.start(stream.StartData{
		DefinitionID: def.ID,
		Name:         def.Name,
		TotalPhases:  len(def.Phases),
		Participants: names,
	}); err != nil {
		return err
	}
	started = true
	o.metrics.ExecutionStarted(runCtx, def.ID)
	h.log(execution.SeverityInfo, fmt.Sprintf("execution of %q started with %d phases", def.Name, len(def.Phases)), "", "")
	logger.Info("execution started", zap.Int("phases", len(def.Phases)))

	for i, phase := range def.Phases {
		if err := o.checkpoint(runCtx, h, timeout, phase.ID); err != nil {
			return err
		}
		if err := o.runPhase(runCtx, h, i, phase, timeout, logger); err != nil {
			return err
		}
	}
	if err := o.checkpoint(runCtx, h, timeout, ""); err != nil {
		return err
	}

	snap := rec.Snapshot()
	return h.complete(fmt.Sprintf("%d of %d phases completed", snap.CompletedPhases(), snap.TotalPhases))
}

// checkpoint turns an expired deadline, a cancelled parent context or an
// overflowing event queue into the matching terminal transition.
func (o *Orchestrator) checkpoint(runCtx context.Context, h *Handle, limit time.Duration, phaseID string) error {
	if h.Cancelled() {
		return ErrCancelled
	}
	if n := h.overflowed(); n > 0 {
		return h.fail(execution.ReasonBackpressure, &ConsumerBackpressureError{Buffered: n})
	}
	switch err := runCtx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return h.fail(execution.ReasonTimeout, &TimeoutError{Scope: ScopeGlobal, Limit: limit, PhaseID: phaseID})
	default:
		if cerr := h.Cancel(); cerr != nil && !h.Cancelled() {
			return cerr
		}
		return ErrCancelled
	}
}

func (o *Orchestrator) runPhase(runCtx context.Context, h *Handle, index int, phase cognition.Phase, limit time.Duration, logger *zap.Logger) error {
	rec := h.Record()
	def := rec.Definition()
	begin := time.Now()

	ctx, span := o.tracer.Start(runCtx, "cognition.phase", trace.WithAttributes(
		attribute.String("phase.id", phase.ID),
		attribute.Int("phase.index", index),
	))
	defer span.End()

	state, _ := execution.PhaseTransition(execution.PhaseNotStarted, execution.PhaseActivate)

	participants := def.PhaseParticipants(phase)
	eligible, refused := admit(o.gates, def, phase, participants)

	agentNames := make([]string, len(eligible))
	for i, p := range eligible {
		agentNames[i] = p.Name
	}
	if !h.startPhase(stream.PhaseStartData{
		PhaseID: phase.ID,
		Name:    phase.Name,
		Index:   index,
		Total:   len(def.Phases),
		Agents:  agentNames,
	}) {
		if err := o.checkpoint(runCtx, h, limit, phase.ID); err != nil {
			return err
		}
		return h.fail(execution.ReasonError, &InternalError{Err: fmt.Errorf("phase %s could not start", phase.ID)})
	}

	for _, r := range refused {
		msg := fmt.Sprintf("agent %s not dispatched in phase %s: %s", r.Agent, phase.ID, r.Reason)
		h.log(execution.SeverityWarning, msg, r.Agent, phase.ID)
		h.emit(stream.TypeInfo, stream.MessageData{Message: msg})
		logger.Warn("agent refused by gate", zap.String("agent", r.Agent), zap.String("gate", r.Gate), zap.String("reason", r.Reason))
	}

	contributions := make(map[string]execution.Contribution, len(eligible))
	succeeded := 0

	if len(eligible) > 0 {
		results := o.dispatch(ctx, h, index, phase, eligible)
		for pending := len(eligible); pending > 0; pending-- {
			var out outcome
			select {
			case out = <-results:
			case <-runCtx.Done():
				return o.checkpoint(runCtx, h, limit, phase.ID)
			}
			if runCtx.Err() != nil {
				return o.checkpoint(runCtx, h, limit, phase.ID)
			}
			if out.panicked != nil {
				o.metrics.Invocation(ctx, "panic")
				return h.fail(execution.ReasonError, &InternalError{Agent: out.agent.Name, PhaseID: phase.ID, Panic: out.panicked})
			}
			c := o.contribute(ctx, h, phase, out, logger)
			contributions[c.Agent] = c
			if !c.Degraded {
				succeeded++
			}
		}
	}
	if err := o.checkpoint(runCtx, h, limit, phase.ID); err != nil {
		return err
	}

	ok, qerr := quorumMet(def, phase, len(participants), succeeded)
	switch {
	case !ok:
		state, _ = execution.PhaseTransition(state, execution.PhaseFail)
	case len(eligible) == 0:
		state, _ = execution.PhaseTransition(state, execution.PhaseSkip)
	default:
		state, _ = execution.PhaseTransition(state, execution.PhaseFinish)
	}

	elapsed := time.Since(begin)
	result := execution.PhaseResult{
		PhaseID:       phase.ID,
		Name:          phase.Name,
		Index:         index,
		Status:        state.ResultStatus(),
		Duration:      elapsed,
		Output:        phaseOutput(eligible, contributions),
		Contributions: contributions,
	}
	progress, err := rec.AppendPhaseResult(result)
	if err != nil {
		if h.Cancelled() {
			return ErrCancelled
		}
		return h.fail(execution.ReasonError, &InternalError{Err: fmt.Errorf("recording phase %s: %w", phase.ID, err)})
	}
	o.metrics.PhaseFinished(ctx, result.Status, elapsed)
	h.emit(stream.TypePhaseComplete, stream.PhaseCompleteData{
		PhaseID:    phase.ID,
		Index:      index,
		Status:     string(result.Status),
		DurationMS: elapsed.Milliseconds(),
		Progress:   progress,
	})

	if !ok {
		span.SetStatus(codes.Error, qerr.Error())
		return h.fail(execution.ReasonQuorum, qerr)
	}
	sev := execution.SeverityInfo
	if result.Status == execution.PhaseStatusCompleted {
		sev = execution.SeveritySuccess
	}
	h.log(sev, fmt.Sprintf("phase %s %s: %d of %d agents succeeded", phase.ID, result.Status, succeeded, len(participants)), "", phase.ID)
	logger.Debug("phase finished",
		zap.String("phase_id", phase.ID),
		zap.String("status", string(result.Status)),
		zap.Int("succeeded", succeeded),
		zap.Duration("duration", elapsed))
	return o.checkpoint(runCtx, h, limit, phase.ID)
}

// dispatch announces and invokes every participant concurrently. Each result
// arrives on the returned channel, which is buffered so abandoned workers
// never block.
func (o *Orchestrator) dispatch(ctx context.Context, h *Handle, index int, phase cognition.Phase, participants []cognition.Participant) <-chan outcome {
	def := h.Record().Definition()
	agentTimeout := def.AgentTimeout.Duration()
	if agentTimeout <= 0 {
		agentTimeout = o.cfg.AgentTimeout
	}

	results := make(chan outcome, len(participants))
	for _, p := range participants {
		req := agents.Request{
			ExecutionID:    h.Record().ID(),
			DefinitionID:   def.ID,
			DefinitionName: def.Name,
			Category:       def.Category,
			Participant:    p,
			Phase:          phase,
			PhaseIndex:     index,
			TotalPhases:    len(def.Phases),
		}
		if p.Name == def.Memory.RecapTarget {
			req.Recap = h.recap
		}
		h.emit(stream.TypeAgentModel, stream.AgentModelData{
			Agent:   p.Name,
			Model:   agents.ModelFor(p, o.cfg.DefaultModel),
			PhaseID: phase.ID,
		})
		go o.invoke(ctx, agentTimeout, req, results)
	}
	return results
}

// invoke runs one invocation under the agent timeout. The invoker runs in
// its own goroutine so an invoker ignoring ctx is abandoned, not awaited.
func (o *Orchestrator) invoke(ctx context.Context, limit time.Duration, req agents.Request, results chan<- outcome) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if limit > 0 {
		actx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	begin := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{agent: req.Participant, panicked: r}
			}
		}()
		inv, err := o.invoker.Invoke(actx, req)
		done <- outcome{agent: req.Participant, inv: inv, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-actx.Done():
		out = outcome{agent: req.Participant, err: actx.Err()}
	}
	if out.panicked == nil && out.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.timedOut = true
		out.err = &TimeoutError{Scope: ScopeAgent, Limit: limit, PhaseID: req.Phase.ID, Agent: req.Participant.Name}
	}
	out.elapsed = time.Since(begin)
	results <- out
}

// contribute turns an outcome into a contribution, emitting the agent's
// events in order: thinking, thought(s) or error plus fallback, performance.
func (o *Orchestrator) contribute(ctx context.Context, h *Handle, phase cognition.Phase, out outcome, logger *zap.Logger) execution.Contribution {
	p := out.agent
	c := execution.Contribution{
		Agent:    p.Name,
		Model:    out.inv.Model,
		Duration: out.elapsed,
	}
	if c.Model == "" {
		c.Model = agents.ModelFor(p, o.cfg.DefaultModel)
	}

	var reasoning agents.Reasoning
	if out.err == nil {
		reasoning = agents.ParseReasoning(out.inv.Output, out.inv.Trace)
		if len(reasoning.Thoughts) == 0 {
			out.err = errors.New("empty response")
		}
	}

	if out.err != nil {
		aerr := &AgentInvocationError{Agent: p.Name, PhaseID: phase.ID, Err: out.err}
		outcomeLabel := "error"
		if out.timedOut {
			outcomeLabel = "timeout"
		}
		o.metrics.Invocation(ctx, outcomeLabel)

		c.Degraded = true
		c.Error = out.err.Error()
		c.Thoughts = agents.FallbackThoughts(p, phase)
		h.log(execution.SeverityWarning, fmt.Sprintf("agent %s degraded to fallback: %v", p.Name, out.err), p.Name, phase.ID)
		logger.Warn("agent invocation failed", zap.String("agent", p.Name), zap.String("phase_id", phase.ID), zap.Error(aerr))

		h.emit(stream.TypeAgentError, stream.AgentErrorData{Agent: p.Name, PhaseID: phase.ID, Error: c.Error})
		for _, t := range c.Thoughts {
			h.emit(stream.TypeAgentThought, stream.AgentThoughtData{Agent: p.Name, PhaseID: phase.ID, Thought: t, Fallback: true})
		}
	} else {
		o.metrics.Invocation(ctx, "ok")
		c.Thinking = reasoning.Thinking
		c.Thoughts = reasoning.Thoughts
		for _, t := range c.Thinking {
			h.emit(stream.TypeAgentThinking, stream.AgentThinkingData{Agent: p.Name, PhaseID: phase.ID, Thinking: t})
		}
		for _, t := range c.Thoughts {
			h.emit(stream.TypeAgentThought, stream.AgentThoughtData{Agent: p.Name, PhaseID: phase.ID, Thought: t})
		}
	}

	c.Performance = Performance(c)
	h.emit(stream.TypeAgentPerformance, stream.AgentPerformanceData{Agent: p.Name, PhaseID: phase.ID, Score: c.Performance})
	return c
}

// Performance scores one contribution in [0,1]. Degraded contributions score 0.
func Performance(c execution.Contribution) float64 {
	if c.Degraded {
		return 0
	}
	return 0.5 + 0.3*ratio(len(c.Thoughts), 3) + 0.2*ratio(len(c.Thinking), 3)
}

func ratio(n, full int) float64 {
	if n >= full {
		return 1
	}
	return float64(n) / float64(full)
}

// phaseOutput summarises a phase as one line per agent, in dispatch order.
func phaseOutput(order []cognition.Participant, contributions map[string]execution.Contribution) string {
	var b strings.Builder
	for _, p := range order {
		c, ok := contributions[p.Name]
		if !ok || len(c.Thoughts) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(c.Thoughts[0])
		if c.Degraded {
			b.WriteString(" (fallback)")
		}
	}
	return b.String()
}
