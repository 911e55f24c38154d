package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func contribution(agent string, thoughts, thinking int, perf float64, degraded bool) execution.Contribution {
	c := execution.Contribution{Agent: agent, Model: "m-" + agent, Performance: perf, Degraded: degraded}
	for i := 0; i < thoughts; i++ {
		c.Thoughts = append(c.Thoughts, "thought")
	}
	for i := 0; i < thinking; i++ {
		c.Thinking = append(c.Thinking, "thinking about it")
	}
	return c
}

func phase(id string, status execution.PhaseStatus, cs ...execution.Contribution) execution.PhaseResult {
	m := map[string]execution.Contribution{}
	for _, c := range cs {
		m[c.Agent] = c
	}
	return execution.PhaseResult{PhaseID: id, Status: status, Contributions: m}
}

func terminal(status execution.Status, reason execution.Reason, total int, elapsed time.Duration, results ...execution.PhaseResult) execution.Execution {
	start := epoch
	end := epoch.Add(elapsed)
	return execution.Execution{
		ID:           "exec-1",
		DefinitionID: "def-1",
		Status:       status,
		Reason:       reason,
		TotalPhases:  total,
		StartTime:    &start,
		EndTime:      &end,
		PhaseResults: results,
	}
}

func newTestEvaluator() *Evaluator {
	return New(WithClock(func() time.Time { return epoch }), WithIDs(func() string { return "result-1" }))
}

func TestScore_Formulas(t *testing.T) {
	// 3 of 3 phases, 2 agents, all 3 thoughts + 3 thinking, perf 1.
	var results []execution.PhaseResult
	for _, id := range []string{"p1", "p2", "p3"} {
		results = append(results, phase(id, execution.PhaseStatusCompleted,
			contribution("A", 3, 3, 1, false),
			contribution("B", 3, 3, 1, false)))
	}
	exec := terminal(execution.StatusCompleted, execution.ReasonNone, 3, time.Minute, results...)

	s := Score(exec)
	require.NotNil(t, s.Consensus)
	// c=1, p=1, q=min(1,18/15)=1
	assert.InDelta(t, 100, *s.Consensus, 1e-9)
	assert.InDelta(t, 1.0, *s.Reliability, 1e-9)
	assert.InDelta(t, 0.05, s.TrustImpact["A"], 1e-9)
	assert.InDelta(t, 0.05, s.TrustImpact["B"], 1e-9)
	assert.InDelta(t, 1.0, *s.Efficiency, 1e-9)
	assert.InDelta(t, 18.0/20, *s.Innovation, 1e-9)
}

func TestScore_PartialAndDegraded(t *testing.T) {
	exec := terminal(execution.StatusFailed, execution.ReasonQuorum, 4, time.Minute,
		phase("p1", execution.PhaseStatusCompleted, contribution("A", 3, 0, 0.8, false), contribution("B", 2, 0, 0, true)),
		phase("p2", execution.PhaseStatusFailed, contribution("A", 0, 0, 0, true)),
	)
	s := Score(exec)
	require.NotNil(t, s.Consensus)

	c := 1.0 / 4
	p := 0.8 / 3
	q := 3.0 / 15
	assert.InDelta(t, 100*(0.3*c+0.4*p+0.3*q), *s.Consensus, 1e-9)
	assert.InDelta(t, 0.8*c, *s.Reliability, 1e-9)
	// A participated in 2 of 4 phases and degraded once.
	assert.InDelta(t, -0.05*2/4, s.TrustImpact["A"], 1e-9)
	assert.InDelta(t, -0.05*1/4, s.TrustImpact["B"], 1e-9)
}

func TestScore_NilWithoutPhaseResults(t *testing.T) {
	exec := terminal(execution.StatusFailed, execution.ReasonTimeout, 3, 10*time.Second)
	s := Score(exec)
	assert.Nil(t, s.Consensus)
	assert.Nil(t, s.TrustImpact)
	assert.Nil(t, s.Reliability)
	assert.Nil(t, s.Efficiency)
	assert.Nil(t, s.Innovation)
}

func TestEvaluate_NoPhaseResultsLeavesScoresUndefined(t *testing.T) {
	exec := terminal(execution.StatusFailed, execution.ReasonTimeout, 3, 10*time.Second)

	r, err := newTestEvaluator().Evaluate(exec)
	require.NoError(t, err)
	assert.Equal(t, report.StatusTimeout, r.Status)
	assert.Nil(t, r.ConsensusScore)
	assert.Nil(t, r.TrustImpact)
	assert.Nil(t, r.ReliabilityIndex)
	assert.Nil(t, r.EfficiencyRating)
	assert.Nil(t, r.InnovationScore)
	assert.Empty(t, r.AgentModels)
}

func TestEfficiency(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want float64
	}{
		{0, 1},
		{30 * time.Second, 1},
		{2 * time.Minute, 1},
		{4 * time.Minute, 0.5},
		{10 * time.Minute, 0.3},
		{time.Hour, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.InDelta(t, tt.want, Efficiency(tt.d), 1e-9)
		})
	}
}

func TestStatusFor(t *testing.T) {
	clean := phase("p1", execution.PhaseStatusCompleted, contribution("A", 1, 0, 0.6, false))
	degraded := phase("p1", execution.PhaseStatusCompleted, contribution("A", 1, 0, 0, true))

	tests := []struct {
		name string
		exec execution.Execution
		want report.Status
	}{
		{"completed clean", terminal(execution.StatusCompleted, "", 1, time.Second, clean), report.StatusSuccess},
		{"completed degraded", terminal(execution.StatusCompleted, "", 1, time.Second, degraded), report.StatusPartial},
		{"timeout", terminal(execution.StatusFailed, execution.ReasonTimeout, 1, time.Second), report.StatusTimeout},
		{"internal", terminal(execution.StatusFailed, execution.ReasonError, 1, time.Second), report.StatusError},
		{"quorum", terminal(execution.StatusFailed, execution.ReasonQuorum, 1, time.Second), report.StatusFailure},
		{"backpressure", terminal(execution.StatusFailed, execution.ReasonBackpressure, 1, time.Second), report.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.exec))
		})
	}
}

func TestEvaluate(t *testing.T) {
	var results []execution.PhaseResult
	for _, id := range []string{"p1", "p2", "p3"} {
		results = append(results, phase(id, execution.PhaseStatusCompleted,
			contribution("A", 3, 3, 1, false),
			contribution("B", 3, 3, 1, false)))
	}
	exec := terminal(execution.StatusCompleted, "", 3, 90*time.Second, results...)
	exec.Log = []execution.LogEntry{{Seq: 1, Severity: execution.SeverityInfo, Message: "started"}}

	r, err := newTestEvaluator().Evaluate(exec)
	require.NoError(t, err)
	assert.Equal(t, "result-1", r.ResultID)
	assert.Equal(t, "exec-1", r.ExecutionID)
	assert.Equal(t, "def-1", r.DefinitionID)
	assert.Equal(t, report.StatusSuccess, r.Status)
	assert.Equal(t, int64(90000), r.DurationMS)
	assert.Equal(t, 3, r.PhasesCompleted)
	assert.Equal(t, epoch, r.CreatedAt)
	assert.Zero(t, r.Version)
	assert.False(t, r.Integrity.Sealed)
	assert.Len(t, r.AuditTrail, 1)
	assert.Equal(t, map[string]float64{"p1": 1, "p2": 1, "p3": 1}, r.PhaseSuccessRates)
	assert.Equal(t, map[string]float64{"A": 1, "B": 1}, r.AgentPerformance)
	assert.Equal(t, map[string]string{"A": "m-A", "B": "m-B"}, r.AgentModels)
	assert.Contains(t, r.Insights, "Full cognition cycle completed with all phases executed")
	assert.Contains(t, r.Recommendations, "Execution pattern is stable and suitable for automation")
	assert.Empty(t, r.Risks)
}

func TestEvaluate_RejectsNonTerminal(t *testing.T) {
	for _, st := range []execution.Status{execution.StatusPending, execution.StatusRunning, execution.StatusCancelled} {
		_, err := newTestEvaluator().Evaluate(execution.Execution{ID: "x", Status: st})
		assert.ErrorIs(t, err, ErrNotEvaluable, st)
	}
}

func TestEvaluate_TimeoutReport(t *testing.T) {
	exec := terminal(execution.StatusFailed, execution.ReasonTimeout, 3, 6*time.Minute,
		phase("p1", execution.PhaseStatusCompleted, contribution("A", 1, 0, 0.55, false)))
	r, err := newTestEvaluator().Evaluate(exec)
	require.NoError(t, err)
	assert.Equal(t, report.StatusTimeout, r.Status)

	types := map[string]bool{}
	for _, risk := range r.Risks {
		types[risk.Type] = true
	}
	assert.Equal(t, map[string]bool{"performance": true, "timing": true, "completion": true}, types)
	assert.Contains(t, r.Recommendations, "Raise the execution timeout or reduce the scope of individual phases")
	assert.Contains(t, r.Recommendations, "Consider additional training or configuration adjustment for agents: A")
}

func TestInsights_Deterministic(t *testing.T) {
	exec := terminal(execution.StatusCompleted, "", 2, time.Minute,
		phase("p1", execution.PhaseStatusCompleted, contribution("A", 3, 1, 0.9, false), contribution("B", 1, 0, 0, true)),
		phase("p2", execution.PhaseStatusCompleted, contribution("A", 3, 1, 0.9, false), contribution("B", 1, 0, 0, true)),
	)
	perf := AgentPerformance(exec)
	first := Insights(exec, perf)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Insights(exec, perf))
	}
	assert.Contains(t, first, "Agents fell back to deterministic reasoning: B")
}

func TestAnalyze(t *testing.T) {
	exec := terminal(execution.StatusFailed, execution.ReasonQuorum, 3, time.Minute,
		phase("p1", execution.PhaseStatusFailed, contribution("A", 1, 0, 0, true)))
	exec.Log = []execution.LogEntry{
		{Seq: 1, Severity: execution.SeverityInfo, Message: "started"},
		{Seq: 2, Severity: execution.SeverityWarning, Message: "agent A degraded", Agent: "A", PhaseID: "p1"},
		{Seq: 3, Severity: execution.SeverityError, Message: "quorum not met", PhaseID: "p1"},
	}

	a := newTestEvaluator().Analyze(exec)
	assert.Equal(t, "exec-1", a.ExecutionID)
	require.Len(t, a.FailurePoints, 4)
	assert.Equal(t, "A", a.FailurePoints[0].Agent)
	assert.Equal(t, "phase p1 failed", a.FailurePoints[2].Message)
	assert.Equal(t, "stopped at phase 2/3", a.FailurePoints[3].Message)
	assert.Contains(t, a.RootCauses, "quorum-required phase had too few successful agents")
	assert.Contains(t, a.RootCauses, "agent invocations degraded: A")
	assert.Len(t, a.Recommendations, len(a.RootCauses))
	assert.Contains(t, a.Trace, "status: failed (quorum)")
}

func TestAnalyze_CleanRun(t *testing.T) {
	exec := terminal(execution.StatusCompleted, "", 1, time.Second,
		phase("p1", execution.PhaseStatusCompleted, contribution("A", 3, 0, 0.8, false)))
	a := newTestEvaluator().Analyze(exec)
	assert.Empty(t, a.FailurePoints)
	assert.Empty(t, a.RootCauses)
	assert.Len(t, a.Trace, 4)
}
