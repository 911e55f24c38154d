package engine

import (
	"errors"
	"net/http"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/orchestrator"
	"github.com/while-basic/celaya-parachain-sub000/internal/report"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

var (
	// ErrNotFound matches every unknown execution, report or definition.
	ErrNotFound = errors.New("not found")

	// ErrAtCapacity indicates max_concurrent_executions are already running.
	ErrAtCapacity = errors.New("engine at capacity")

	// ErrMemoryDisabled indicates a recall on an engine without insight memory.
	ErrMemoryDisabled = errors.New("insight memory is disabled")

	// ErrShuttingDown indicates a start after Shutdown began.
	ErrShuttingDown = errors.New("engine shutting down")
)

// notFound marks err as matching ErrNotFound while keeping its message.
type notFound struct{ err error }

func (e *notFound) Error() string { return e.err.Error() }

func (e *notFound) Unwrap() []error { return []error{e.err, ErrNotFound} }

func wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, execution.ErrNotFound) || errors.Is(err, report.ErrNotFound) || errors.Is(err, cognition.ErrNotFound) {
		return &notFound{err: err}
	}
	return err
}

// Process exit codes returned by ExitCode.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitValidation   = 2
	ExitNotFound     = 3
	ExitQuorum       = 4
	ExitTimeout      = 5
	ExitBackpressure = 6
	ExitSealing      = 7
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, cognition.ErrValidation):
		return ExitValidation
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, orchestrator.ErrQuorum):
		return ExitQuorum
	case errors.Is(err, orchestrator.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, stream.ErrBackpressure), errors.Is(err, ErrAtCapacity):
		return ExitBackpressure
	case errors.Is(err, sealer.ErrSealing):
		return ExitSealing
	default:
		return ExitFailure
	}
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, cognition.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrQuorum),
		errors.Is(err, execution.ErrTerminal),
		errors.Is(err, stream.ErrConsumerAttached):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, stream.ErrBackpressure),
		errors.Is(err, ErrAtCapacity),
		errors.Is(err, ErrShuttingDown),
		errors.Is(err, ErrMemoryDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, sealer.ErrSealing):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
