package execution

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates an unknown execution id.
	ErrNotFound = errors.New("execution not found")

	// ErrInvalidTransition indicates a transition absent from the state table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminal indicates a mutation attempted after the execution ended.
	ErrTerminal = errors.New("execution is terminal")
)

// PhaseStatus is the recorded outcome of one phase.
type PhaseStatus string

const (
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// Severity classifies a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Contribution is what one agent produced during one phase.
type Contribution struct {
	Agent       string        `json:"agent"`
	Model       string        `json:"model,omitempty"`
	Thinking    []string      `json:"thinking,omitempty"`
	Thoughts    []string      `json:"thoughts"`
	Degraded    bool          `json:"degraded"`
	Error       string        `json:"error,omitempty"`
	Performance float64       `json:"performance"`
	Duration    time.Duration `json:"duration"`
}

// PhaseResult is appended exactly once per executed phase, in phase order.
type PhaseResult struct {
	PhaseID       string                  `json:"phase_id"`
	Name          string                  `json:"name"`
	Index         int                     `json:"index"`
	Status        PhaseStatus             `json:"status"`
	Duration      time.Duration           `json:"duration"`
	Output        string                  `json:"output"`
	Contributions map[string]Contribution `json:"agent_contributions"`
}

// Degraded reports whether any contribution in the phase used a fallback.
func (r PhaseResult) Degraded() bool {
	for _, c := range r.Contributions {
		if c.Degraded {
			return true
		}
	}
	return false
}

// LogEntry is one append-only record in an execution's causal trail.
// Seq, not Timestamp, defines the order.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Agent     string    `json:"agent,omitempty"`
	PhaseID   string    `json:"phase_id,omitempty"`
}

// Execution is one run of a cognition definition.
type Execution struct {
	ID             string        `json:"execution_id"`
	DefinitionID   string        `json:"definition_id"`
	DefinitionName string        `json:"definition_name"`
	Status         Status        `json:"status"`
	Reason         Reason        `json:"reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	CurrentPhaseID string        `json:"current_phase_id,omitempty"`
	Progress       float64       `json:"progress"`
	TotalPhases    int           `json:"total_phases"`
	CreatedAt      time.Time     `json:"created_at"`
	StartTime      *time.Time    `json:"start_time,omitempty"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	PhaseResults   []PhaseResult `json:"phase_results"`
	Log            []LogEntry    `json:"log"`
}

// Duration is end minus start, or zero before the execution started.
func (e Execution) Duration() time.Duration {
	if e.StartTime == nil {
		return 0
	}
	if e.EndTime == nil {
		return time.Since(*e.StartTime)
	}
	return e.EndTime.Sub(*e.StartTime)
}

// CompletedPhases counts phase results with status completed.
func (e Execution) CompletedPhases() int {
	n := 0
	for _, r := range e.PhaseResults {
		if r.Status == PhaseStatusCompleted {
			n++
		}
	}
	return n
}

func (e Execution) clone() Execution {
	c := e
	if e.StartTime != nil {
		t := *e.StartTime
		c.StartTime = &t
	}
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	c.PhaseResults = make([]PhaseResult, len(e.PhaseResults))
	for i, r := range e.PhaseResults {
		r.Contributions = cloneContributions(r.Contributions)
		c.PhaseResults[i] = r
	}
	c.Log = make([]LogEntry, len(e.Log))
	copy(c.Log, e.Log)
	return c
}

func cloneContributions(in map[string]Contribution) map[string]Contribution {
	if in == nil {
		return nil
	}
	out := make(map[string]Contribution, len(in))
	for k, v := range in {
		v.Thinking = append([]string(nil), v.Thinking...)
		v.Thoughts = append([]string(nil), v.Thoughts...)
		out[k] = v
	}
	return out
}
