package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// Handle couples an execution record with its event channel and guards
// both with the cancel lock. Every event the orchestrator emits and every
// terminal transition happen under that lock.
type Handle struct {
	rec   *execution.Record
	ch    *stream.Channel
	recap []string

	mu        sync.Mutex
	armed     bool
	cancelled bool
	cancel    context.CancelFunc
	overflow  int
}

// NewHandle binds rec to ch. recap is passed to the definition's recap target.
func NewHandle(rec *execution.Record, ch *stream.Channel, recap []string) *Handle {
	return &Handle{rec: rec, ch: ch, recap: recap}
}

// Record returns the execution record.
func (h *Handle) Record() *execution.Record { return h.rec }

// Channel returns the event channel.
func (h *Handle) Channel() *stream.Channel { return h.ch }

// Cancelled reports whether Cancel succeeded.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Cancel moves a Pending or Running execution to Cancelled and emits a
// final error event. No event is emitted for the execution afterwards.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return nil
	}
	if status := h.rec.Status(); status.IsTerminal() {
		return fmt.Errorf("%w: already %s", execution.ErrTerminal, status)
	}
	_, _ = h.rec.AppendLog(execution.SeverityWarning, "cancellation requested", "", "")
	if err := h.rec.Finish(execution.TriggerCancel, execution.ReasonCancelled, ErrCancelled); err != nil {
		return err
	}
	h.cancelled = true
	_, _ = h.ch.Publish(stream.TypeError, stream.ErrorData{
		Reason: string(execution.ReasonCancelled),
		Error:  ErrCancelled.Error(),
	})
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// arm registers the run's cancel func. It returns false when the execution
// was cancelled before it started.
func (h *Handle) arm(cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.armed {
		return false
	}
	h.armed = true
	h.cancel = cancel
	return true
}

// emit publishes unless the execution was cancelled. It reports whether the
// event was published.
func (h *Handle) emit(t stream.Type, data any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.emitLocked(t, data)
}

func (h *Handle) emitLocked(t stream.Type, data any) bool {
	if h.cancelled {
		return false
	}
	_, err := h.ch.Publish(t, data)
	if errors.Is(err, stream.ErrBackpressure) {
		if h.overflow == 0 {
			h.overflow = h.ch.Buffered()
		}
		return true
	}
	return err == nil
}

// overflowed returns the queue length at the first backpressure signal.
func (h *Handle) overflowed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overflow
}

// log appends an entry unless the execution is already terminal.
func (h *Handle) log(sev execution.Severity, msg, agent, phaseID string) {
	_, _ = h.rec.AppendLog(sev, msg, agent, phaseID)
}

// start moves Pending to Running and emits start.
func (h *Handle) start(data stream.StartData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return ErrCancelled
	}
	if err := h.rec.Start(); err != nil {
		return err
	}
	h.emitLocked(stream.TypeStart, data)
	return nil
}

// startPhase sets the current phase and emits phase_start, atomically with
// the cancellation check.
func (h *Handle) startPhase(data stream.PhaseStartData) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	if err := h.rec.SetCurrentPhase(data.PhaseID); err != nil {
		return false
	}
	return h.emitLocked(stream.TypePhaseStart, data)
}

// fail logs cause, moves the execution to Failed and emits error. It returns
// cause, or ErrCancelled when cancellation won the race.
func (h *Handle) fail(reason execution.Reason, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return ErrCancelled
	}
	_, _ = h.rec.AppendLog(execution.SeverityError, cause.Error(), "", "")
	if err := h.rec.Finish(execution.TriggerFail, reason, cause); err != nil {
		return errors.Join(cause, err)
	}
	h.emitLocked(stream.TypeError, stream.ErrorData{Reason: string(reason), Error: cause.Error()})
	return cause
}

// complete emits summary, moves the execution to Completed and emits complete.
func (h *Handle) complete(summary string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return ErrCancelled
	}
	h.emitLocked(stream.TypeSummary, stream.MessageData{Message: summary})
	_, _ = h.rec.AppendLog(execution.SeveritySuccess, summary, "", "")
	if err := h.rec.Finish(execution.TriggerComplete, execution.ReasonNone, nil); err != nil {
		return err
	}
	snap := h.rec.Snapshot()
	h.emitLocked(stream.TypeComplete, stream.CompleteData{
		Status:          string(snap.Status),
		PhasesCompleted: snap.CompletedPhases(),
		TotalPhases:     snap.TotalPhases,
		Progress:        snap.Progress,
		DurationMS:      snap.Duration().Milliseconds(),
	})
	return nil
}
