// Package agents invokes cognition participants.
//
// The orchestrator only sees the Invoker interface: one call per
// participant per phase, returning raw text and an optional trace. Timeouts
// are imposed by the caller through ctx; invokers must honour cancellation
// but never enforce their own deadline.
//
// Two backends are provided:
//
//   - Static: deterministic offline output for demos and tests
//   - Ollama: a local model server reached through langchaingo
package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown agent backend")

// Request is everything an invoker learns about one participant's turn.
type Request struct {
	ExecutionID    string
	DefinitionID   string
	DefinitionName string
	Category       cognition.Category
	Participant    cognition.Participant
	Phase          cognition.Phase
	PhaseIndex     int
	TotalPhases    int

	// Recap holds insights recalled from earlier runs of the same
	// definition. Only set for the definition's recap target.
	Recap []string
}

// Invocation is the raw result of one call.
type Invocation struct {
	Output string
	Trace  string
	Model  string
}

// Invoker produces a participant's output for one phase.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Invocation, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Invocation, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Invocation, error) {
	return f(ctx, req)
}

// ModelFor returns the participant's model, or fallback when unset.
func ModelFor(p cognition.Participant, fallback string) string {
	if p.Model != "" {
		return p.Model
	}
	return fallback
}

// New builds the invoker selected by cfg.Backend.
func New(cfg config.AgentsConfig, logger *zap.Logger) (Invoker, error) {
	switch cfg.Backend {
	case "", "static":
		return NewStatic(cfg.DefaultModel), nil
	case "ollama":
		return NewOllama(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
