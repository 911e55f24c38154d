package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
)

// FailurePoint is one place an execution went wrong.
type FailurePoint struct {
	Seq      uint64             `json:"seq,omitempty"`
	PhaseID  string             `json:"phase_id,omitempty"`
	Agent    string             `json:"agent,omitempty"`
	Severity execution.Severity `json:"severity"`
	Message  string             `json:"message"`
}

// Analysis is a post-mortem of one execution.
type Analysis struct {
	AnalysisID      string           `json:"analysis_id"`
	ExecutionID     string           `json:"execution_id"`
	Status          execution.Status `json:"status"`
	Reason          execution.Reason `json:"reason,omitempty"`
	FailurePoints   []FailurePoint   `json:"failure_points"`
	RootCauses      []string         `json:"root_causes"`
	Recommendations []string         `json:"recommendations"`
	Trace           []string         `json:"execution_trace"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
}

// Analyze traces the path that led an execution to its outcome. It works on
// any snapshot, including running and successful executions.
func (e *Evaluator) Analyze(exec execution.Execution) *Analysis {
	a := &Analysis{
		AnalysisID:      e.newID(),
		ExecutionID:     exec.ID,
		Status:          exec.Status,
		Reason:          exec.Reason,
		FailurePoints:   []FailurePoint{},
		RootCauses:      []string{},
		Recommendations: []string{},
		AnalyzedAt:      e.now().UTC(),
	}

	for _, entry := range exec.Log {
		if entry.Severity != execution.SeverityError && entry.Severity != execution.SeverityWarning {
			continue
		}
		a.FailurePoints = append(a.FailurePoints, FailurePoint{
			Seq:      entry.Seq,
			PhaseID:  entry.PhaseID,
			Agent:    entry.Agent,
			Severity: entry.Severity,
			Message:  entry.Message,
		})
	}
	for _, r := range exec.PhaseResults {
		if r.Status == execution.PhaseStatusCompleted {
			continue
		}
		a.FailurePoints = append(a.FailurePoints, FailurePoint{
			PhaseID:  r.PhaseID,
			Severity: execution.SeverityError,
			Message:  fmt.Sprintf("phase %s %s", r.PhaseID, r.Status),
		})
	}
	if exec.Status.IsTerminal() && exec.Status != execution.StatusCompleted && len(exec.PhaseResults) < exec.TotalPhases {
		a.FailurePoints = append(a.FailurePoints, FailurePoint{
			Severity: execution.SeverityError,
			Message:  fmt.Sprintf("stopped at phase %d/%d", len(exec.PhaseResults)+1, exec.TotalPhases),
		})
	}

	e.classify(a, exec)

	a.Trace = []string{
		fmt.Sprintf("execution %s of %s", exec.ID, exec.DefinitionID),
		fmt.Sprintf("phases completed: %d/%d", exec.CompletedPhases(), exec.TotalPhases),
		fmt.Sprintf("duration: %s", exec.Duration().Round(time.Millisecond)),
		fmt.Sprintf("status: %s", statusLine(exec)),
	}
	for _, fp := range a.FailurePoints {
		a.Trace = append(a.Trace, "FAILURE: "+fp.Message)
	}
	return a
}

func (e *Evaluator) classify(a *Analysis, exec execution.Execution) {
	add := func(cause, rec string) {
		a.RootCauses = append(a.RootCauses, cause)
		a.Recommendations = append(a.Recommendations, rec)
	}

	switch exec.Reason {
	case execution.ReasonTimeout:
		add("global timeout exceeded", "Increase the definition timeout or shorten agent work per phase")
	case execution.ReasonQuorum:
		add("quorum-required phase had too few successful agents", "Review agent trust scores, availability and the quorum fraction")
	case execution.ReasonBackpressure:
		add("event consumer did not keep up", "Consume events while the execution runs or raise stream.max_buffered")
	case execution.ReasonError:
		add("internal fault during execution", "Inspect error entries in the trace and the invoker backend")
	case execution.ReasonCancelled:
		add("execution was cancelled", "Rerun when the cancellation cause is resolved")
	}

	if degraded := degradedAgents(exec); len(degraded) > 0 {
		add(fmt.Sprintf("agent invocations degraded: %s", strings.Join(degraded, ", ")),
			"Check model availability and agent timeouts for the listed agents")
	}
	if low := sortedAgents(AgentPerformance(exec), lowPerformance); len(low) > 0 && exec.Status != execution.StatusCompleted {
		add(fmt.Sprintf("low agent performance: %s", strings.Join(low, ", ")),
			"Consider agent replacement or prompt adjustments")
	}
}

func statusLine(exec execution.Execution) string {
	if exec.Reason == execution.ReasonNone {
		return string(exec.Status)
	}
	return fmt.Sprintf("%s (%s)", exec.Status, exec.Reason)
}
