// Package orchestrator drives cognition executions.
//
// # Overview
//
// An Orchestrator runs one execution.Record from Pending to a terminal
// state. Phases run strictly in declaration order; the participants of a
// phase are invoked concurrently, each bounded by the agent timeout, and the
// phase completes once every invocation has returned or been abandoned.
//
//	Pending → Running → Completed | Failed | Cancelled
//
// Every state change is mirrored onto the execution's stream.Channel:
//
//	start
//	phase_start
//	  agent_model → agent_thinking* → agent_thought+ | agent_error → agent_performance
//	phase_complete
//	...
//	summary, complete | error
//
// # Gates
//
// Gates decide which participants are dispatched in a phase. TrustGate
// enforces the definition's minimum trust score. A participant refused by a
// gate counts as unsuccessful for quorum purposes.
//
// # Failure handling
//
//   - An invocation error or per-agent timeout degrades that agent's
//     contribution to a fallback and logs a warning. It never fails the
//     phase unless the phase requires quorum and too few agents succeeded
//     (PhaseQuorumFailure).
//   - Exceeding the execution timeout fails with TimeoutError.
//   - A stream queue over its limit fails with ConsumerBackpressureError.
//   - A panic inside the invoker fails with reason error.
//
// Every failure is appended to the execution log before the terminal
// transition.
//
// # Cancellation
//
// Handle.Cancel takes the same lock the orchestrator holds while emitting
// events, so once it returns no further phase_start (or any other event)
// is emitted for that execution. In-flight invocations are abandoned and
// their late results discarded.
package orchestrator
