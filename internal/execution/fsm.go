package execution

import "fmt"

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Trigger drives an Execution transition.
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerComplete Trigger = "complete"
	TriggerFail     Trigger = "fail"
	TriggerCancel   Trigger = "cancel"
)

var allowedTransitions = map[Status]map[Trigger]Status{
	StatusPending: {
		TriggerStart:  StatusRunning,
		TriggerFail:   StatusFailed,
		TriggerCancel: StatusCancelled,
	},
	StatusRunning: {
		TriggerComplete: StatusCompleted,
		TriggerFail:     StatusFailed,
		TriggerCancel:   StatusCancelled,
	},
}

// Transition returns the state reached from s on t, or ErrInvalidTransition.
func Transition(s Status, t Trigger) (Status, error) {
	if next, ok := allowedTransitions[s][t]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, t)
}

// Reason explains a Failed or Cancelled outcome.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonTimeout      Reason = "timeout"
	ReasonQuorum       Reason = "quorum"
	ReasonBackpressure Reason = "consumer-backpressure"
	ReasonError        Reason = "error"
	ReasonCancelled    Reason = "cancelled"
)

// PhaseState is the per-phase sub-state tracked by the orchestrator.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "not_started"
	PhaseActive     PhaseState = "active"
	PhaseDone       PhaseState = "done"
	PhaseFailed     PhaseState = "failed"
	PhaseSkipped    PhaseState = "skipped"
)

// PhaseTrigger drives a phase sub-state transition.
type PhaseTrigger string

const (
	PhaseActivate PhaseTrigger = "activate"
	PhaseFinish   PhaseTrigger = "finish"
	PhaseFail     PhaseTrigger = "fail"
	PhaseSkip     PhaseTrigger = "skip"
)

var allowedPhaseTransitions = map[PhaseState]map[PhaseTrigger]PhaseState{
	PhaseNotStarted: {
		PhaseActivate: PhaseActive,
		PhaseSkip:     PhaseSkipped,
	},
	PhaseActive: {
		PhaseFinish: PhaseDone,
		PhaseFail:   PhaseFailed,
		PhaseSkip:   PhaseSkipped,
	},
}

// PhaseTransition returns the phase state reached from s on t.
func PhaseTransition(s PhaseState, t PhaseTrigger) (PhaseState, error) {
	if next, ok := allowedPhaseTransitions[s][t]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: phase %s on %s", ErrInvalidTransition, s, t)
}

// ResultStatus maps a terminal phase sub-state to its recorded result status.
func (s PhaseState) ResultStatus() PhaseStatus {
	switch s {
	case PhaseDone:
		return PhaseStatusCompleted
	case PhaseFailed:
		return PhaseStatusFailed
	default:
		return PhaseStatusSkipped
	}
}
