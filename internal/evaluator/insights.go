package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

// Insights derives the ordered key findings of an execution.
func Insights(exec execution.Execution, perf map[string]float64) []string {
	insights := []string{}

	if len(perf) > 0 {
		var sum float64
		for _, p := range perf {
			sum += p
		}
		if avg := sum / float64(len(perf)); avg > exceptionalAverage {
			insights = append(insights, fmt.Sprintf("Exceptional agent performance with a %.0f%% average score", avg*100))
		}
	}

	if n := exec.CompletedPhases(); n > 0 {
		insights = append(insights, fmt.Sprintf("Executed %d of %d phases with %d participating agents", n, exec.TotalPhases, len(perf)))
	}

	t := tally(exec)
	if t.thoughts > highEngagement {
		insights = append(insights, fmt.Sprintf("High agent engagement with %d total contributions", t.thoughts))
	}

	if models := modelsUsed(exec); len(models) > multiModel {
		insights = append(insights, fmt.Sprintf("Multi-model approach used %d different models: %s", len(models), strings.Join(models, ", ")))
	}

	if degraded := degradedAgents(exec); len(degraded) > 0 {
		insights = append(insights, fmt.Sprintf("Agents fell back to deterministic reasoning: %s", strings.Join(degraded, ", ")))
	}

	switch exec.Status {
	case execution.StatusCompleted:
		if StatusFor(exec) == report.StatusSuccess {
			insights = append(insights, "Full cognition cycle completed with all phases executed")
		}
	case execution.StatusFailed:
		insights = append(insights, fmt.Sprintf("Execution ended after %d of %d phases: %s", len(exec.PhaseResults), exec.TotalPhases, reasonText(exec.Reason)))
	}
	return insights
}

// Recommendations derives actionable follow-ups.
func Recommendations(exec execution.Execution, perf map[string]float64) []string {
	recs := []string{}

	if low := sortedAgents(perf, lowPerformance); len(low) > 0 {
		recs = append(recs, fmt.Sprintf("Consider additional training or configuration adjustment for agents: %s", strings.Join(low, ", ")))
	}

	switch exec.Reason {
	case execution.ReasonTimeout:
		recs = append(recs, "Raise the execution timeout or reduce the scope of individual phases")
	case execution.ReasonQuorum:
		recs = append(recs, "Review participant availability and trust for quorum-required phases")
	case execution.ReasonBackpressure:
		recs = append(recs, "Attach an event consumer before starting, or raise stream.max_buffered")
	case execution.ReasonError:
		recs = append(recs, "Inspect the audit trail for the internal fault before rerunning")
	}

	if exec.Duration() > slowExecution {
		recs = append(recs, "Optimize phase timing or agent coordination to improve execution speed")
	}

	if exec.Status == execution.StatusCompleted && exec.CompletedPhases() >= 3 && StatusFor(exec) == report.StatusSuccess {
		recs = append(recs, "Execution pattern is stable and suitable for automation")
	}
	return recs
}

// Risks assesses performance, timing and completion risks.
func Risks(exec execution.Execution, perf map[string]float64) []report.Risk {
	risks := []report.Risk{}

	if low := sortedAgents(perf, riskPerformance); len(low) > 0 {
		risks = append(risks, report.Risk{
			Type:        "performance",
			Level:       "medium",
			Description: fmt.Sprintf("Low performance detected in agents: %s", strings.Join(low, ", ")),
			Mitigation:  "Monitor agent configurations and consider retraining",
		})
	}

	if exec.Duration() > overdueExecution {
		risks = append(risks, report.Risk{
			Type:        "timing",
			Level:       "low",
			Description: "Execution duration exceeded the expected timeframe",
			Mitigation:  "Optimize agent coordination and phase transitions",
		})
	}

	if exec.Status != execution.StatusCompleted {
		risks = append(risks, report.Risk{
			Type:        "completion",
			Level:       "high",
			Description: fmt.Sprintf("Cognition execution did not complete: %s", reasonText(exec.Reason)),
			Mitigation:  "Review the audit trail and adjust configuration parameters",
		})
	}
	return risks
}

func modelsUsed(exec execution.Execution) []string {
	seen := map[string]struct{}{}
	for _, r := range exec.PhaseResults {
		for _, c := range r.Contributions {
			if c.Model != "" {
				seen[c.Model] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func degradedAgents(exec execution.Execution) []string {
	seen := map[string]struct{}{}
	for _, r := range exec.PhaseResults {
		for agent, c := range r.Contributions {
			if c.Degraded {
				seen[agent] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func reasonText(r execution.Reason) string {
	switch r {
	case execution.ReasonTimeout:
		return "global timeout exceeded"
	case execution.ReasonQuorum:
		return "phase quorum not met"
	case execution.ReasonBackpressure:
		return "event consumer fell behind"
	case execution.ReasonError:
		return "internal fault"
	case execution.ReasonCancelled:
		return "cancelled"
	}
	return "unknown reason"
}
