// Package evaluator scores terminal executions and derives their reports.
package evaluator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
)

// ErrNotEvaluable indicates an execution that is not Completed or Failed.
var ErrNotEvaluable = errors.New("execution cannot be evaluated")

const (
	trustDelta = 0.05

	// thought and thinking counts at which quality and innovation saturate
	fullQualityThoughts  = 15
	fullInnovationDepth  = 20
	efficiencyReference  = 120 * time.Second
	efficiencyMinElapsed = 30 * time.Second
	efficiencyFloor      = 0.3

	lowPerformance     = 0.7
	riskPerformance    = 0.6
	slowExecution      = 3 * time.Minute
	overdueExecution   = 5 * time.Minute
	highEngagement     = 20
	multiModel         = 3
	exceptionalAverage = 0.85
)

// Evaluator builds reports from execution snapshots.
type Evaluator struct {
	now   func() time.Time
	newID func() string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the report creation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithIDs overrides result id generation.
func WithIDs(newID func() string) Option {
	return func(e *Evaluator) { e.newID = newID }
}

// New creates an evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scores are the numeric outputs of one evaluation. Pointers are nil when
// the execution produced no phase results.
type Scores struct {
	Consensus   *float64
	TrustImpact map[string]float64
	Reliability *float64
	Efficiency  *float64
	Innovation  *float64
}

// Evaluate returns an unsealed version-zero report for exec.
func (e *Evaluator) Evaluate(exec execution.Execution) (*report.Report, error) {
	if exec.Status != execution.StatusCompleted && exec.Status != execution.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEvaluable, exec.ID, exec.Status)
	}

	perf := AgentPerformance(exec)
	r := &report.Report{
		ResultID:          e.newID(),
		ExecutionID:       exec.ID,
		DefinitionID:      exec.DefinitionID,
		DefinitionName:    exec.DefinitionName,
		Status:            StatusFor(exec),
		Reason:            exec.Reason,
		DurationMS:        exec.Duration().Milliseconds(),
		PhasesCompleted:   exec.CompletedPhases(),
		TotalPhases:       exec.TotalPhases,
		PhaseSuccessRates: PhaseSuccessRates(exec),
		AgentPerformance:  perf,
		AgentModels:       AgentModels(exec),
		AuditTrail:        append([]execution.LogEntry(nil), exec.Log...),
		CreatedAt:         e.now().UTC(),
	}

	s := Score(exec)
	r.ConsensusScore = s.Consensus
	r.TrustImpact = s.TrustImpact
	r.ReliabilityIndex = s.Reliability
	r.EfficiencyRating = s.Efficiency
	r.InnovationScore = s.Innovation

	r.Insights = Insights(exec, perf)
	r.Recommendations = Recommendations(exec, perf)
	r.Risks = Risks(exec, perf)
	return r, nil
}

// StatusFor maps an execution outcome to a report status.
func StatusFor(exec execution.Execution) report.Status {
	switch exec.Status {
	case execution.StatusCompleted:
		for _, r := range exec.PhaseResults {
			if r.Degraded() {
				return report.StatusPartial
			}
		}
		return report.StatusSuccess
	case execution.StatusFailed:
		switch exec.Reason {
		case execution.ReasonTimeout:
			return report.StatusTimeout
		case execution.ReasonError:
			return report.StatusError
		}
	}
	return report.StatusFailure
}

// Score computes consensus, trust impact and the supplementary indices.
// Every score is nil when the execution has no phase results.
func Score(exec execution.Execution) Scores {
	var s Scores
	if len(exec.PhaseResults) == 0 {
		return s
	}

	eff := Efficiency(exec.Duration())
	s.Efficiency = &eff

	t := tally(exec)
	innovation := math.Min(1, float64(t.thinking)/fullInnovationDepth)
	s.Innovation = &innovation

	c := completion(exec)
	p := 0.0
	if t.contributions > 0 {
		p = t.performance / float64(t.contributions)
	}
	q := math.Min(1, float64(t.thoughts)/fullQualityThoughts)
	consensus := clamp(100*(0.3*c+0.4*p+0.3*q), 0, 100)
	s.Consensus = &consensus

	reliability := 0.8 * c
	if exec.Status == execution.StatusCompleted {
		reliability += 0.2
	}
	s.Reliability = &reliability

	s.TrustImpact = make(map[string]float64, len(t.participation))
	for agent, phases := range t.participation {
		delta := trustDelta
		if t.degraded[agent] {
			delta = -trustDelta
		}
		s.TrustImpact[agent] = delta * float64(phases) / float64(exec.TotalPhases)
	}
	return s
}

// Efficiency rates a duration, saturating at 1 for runs of two minutes or less.
func Efficiency(d time.Duration) float64 {
	if d < efficiencyMinElapsed {
		d = efficiencyMinElapsed
	}
	return math.Max(efficiencyFloor, math.Min(1, float64(efficiencyReference)/float64(d)))
}

// AgentModels returns the model each agent answered with, taken from its
// first contribution that names one.
func AgentModels(exec execution.Execution) map[string]string {
	out := map[string]string{}
	for _, r := range exec.PhaseResults {
		for agent, c := range r.Contributions {
			if _, ok := out[agent]; !ok && c.Model != "" {
				out[agent] = c.Model
			}
		}
	}
	return out
}

// AgentPerformance returns each agent's mean performance across its contributions.
func AgentPerformance(exec execution.Execution) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range exec.PhaseResults {
		for agent, c := range r.Contributions {
			sums[agent] += c.Performance
			counts[agent]++
		}
	}
	out := make(map[string]float64, len(sums))
	for agent, sum := range sums {
		out[agent] = sum / float64(counts[agent])
	}
	return out
}

// PhaseSuccessRates returns the share of non-degraded contributions per phase.
// Skipped phases and phases with no contributions rate 0.
func PhaseSuccessRates(exec execution.Execution) map[string]float64 {
	out := make(map[string]float64, len(exec.PhaseResults))
	for _, r := range exec.PhaseResults {
		if len(r.Contributions) == 0 {
			out[r.PhaseID] = 0
			continue
		}
		ok := 0
		for _, c := range r.Contributions {
			if !c.Degraded {
				ok++
			}
		}
		out[r.PhaseID] = float64(ok) / float64(len(r.Contributions))
	}
	return out
}

type counts struct {
	contributions int
	performance   float64
	thoughts      int
	thinking      int
	participation map[string]int
	degraded      map[string]bool
}

// tally counts contributions. Fallback thoughts are excluded from the
// thought total.
func tally(exec execution.Execution) counts {
	t := counts{participation: map[string]int{}, degraded: map[string]bool{}}
	for _, r := range exec.PhaseResults {
		for agent, c := range r.Contributions {
			t.contributions++
			t.performance += c.Performance
			t.participation[agent]++
			t.thinking += len(c.Thinking)
			if c.Degraded {
				t.degraded[agent] = true
				continue
			}
			t.thoughts += len(c.Thoughts)
		}
	}
	return t
}

func completion(exec execution.Execution) float64 {
	if exec.TotalPhases == 0 {
		return 0
	}
	return float64(exec.CompletedPhases()) / float64(exec.TotalPhases)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sortedAgents(perf map[string]float64, below float64) []string {
	var out []string
	for agent, score := range perf {
		if score < below {
			out = append(out, agent)
		}
	}
	sort.Strings(out)
	return out
}
