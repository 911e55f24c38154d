package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

var (
	// ErrQuorum matches PhaseQuorumFailure.
	ErrQuorum = errors.New("phase quorum not met")

	// ErrTimeout matches TimeoutError.
	ErrTimeout = errors.New("timeout exceeded")

	// ErrBackpressure matches ConsumerBackpressureError.
	ErrBackpressure = stream.ErrBackpressure

	// ErrAgentInvocation matches AgentInvocationError.
	ErrAgentInvocation = errors.New("agent invocation failed")

	// ErrInternal matches InternalError.
	ErrInternal = errors.New("internal fault")

	// ErrCancelled is returned by Execute for a cancelled execution.
	ErrCancelled = errors.New("execution cancelled")
)

// PhaseQuorumFailure reports a quorum-required phase with too few successes.
type PhaseQuorumFailure struct {
	PhaseID      string
	Fraction     float64
	Participants int
	Required     int
	Succeeded    int
}

func (e *PhaseQuorumFailure) Error() string {
	return fmt.Sprintf("phase %s: %d of %d participants succeeded, quorum %.2f requires %d",
		e.PhaseID, e.Succeeded, e.Participants, e.Fraction, e.Required)
}

func (e *PhaseQuorumFailure) Is(target error) bool { return target == ErrQuorum }

// TimeoutScope says which clock expired.
type TimeoutScope string

const (
	ScopeGlobal TimeoutScope = "global"
	ScopeAgent  TimeoutScope = "agent"
)

// TimeoutError reports an expired execution or agent deadline.
type TimeoutError struct {
	Scope   TimeoutScope
	Limit   time.Duration
	PhaseID string
	Agent   string
}

func (e *TimeoutError) Error() string {
	if e.Scope == ScopeAgent {
		return fmt.Sprintf("agent %s timed out after %s in phase %s", e.Agent, e.Limit, e.PhaseID)
	}
	if e.PhaseID != "" {
		return fmt.Sprintf("execution timed out after %s during phase %s", e.Limit, e.PhaseID)
	}
	return fmt.Sprintf("execution timed out after %s", e.Limit)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConsumerBackpressureError reports an event queue over its limit.
type ConsumerBackpressureError struct {
	Buffered int
}

func (e *ConsumerBackpressureError) Error() string {
	return fmt.Sprintf("consumer backpressure: %d events unconsumed", e.Buffered)
}

func (e *ConsumerBackpressureError) Unwrap() error { return stream.ErrBackpressure }

// AgentInvocationError is one participant's failed call. It is recovered
// into a degraded contribution and never fails an execution on its own.
type AgentInvocationError struct {
	Agent   string
	PhaseID string
	Err     error
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent %s in phase %s: %v", e.Agent, e.PhaseID, e.Err)
}

func (e *AgentInvocationError) Unwrap() error { return e.Err }

func (e *AgentInvocationError) Is(target error) bool { return target == ErrAgentInvocation }

// InternalError is a fault that is not the caller's or an agent's doing.
type InternalError struct {
	Agent   string
	PhaseID string
	Panic   any
	Err     error
}

func (e *InternalError) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("internal fault: panic in agent %s during phase %s: %v", e.Agent, e.PhaseID, e.Panic)
	case e.Err != nil:
		return fmt.Sprintf("internal fault: %v", e.Err)
	default:
		return "internal fault"
	}
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// Config holds orchestrator defaults. Definition values override them.
type Config struct {
	DefaultTimeout time.Duration
	AgentTimeout   time.Duration
	// DefaultModel is announced for participants without a model.
	DefaultModel string
}
