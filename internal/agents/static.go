package agents

import (
	"context"
	"fmt"
	"strings"
)

// Static answers every request with deterministic text in the same shape a
// model is prompted to produce. It never fails on its own.
type Static struct {
	model string
}

// NewStatic returns a static invoker reporting model as its backing model.
func NewStatic(model string) *Static {
	if model == "" {
		model = "static"
	}
	return &Static{model: model}
}

// Invoke renders a response from the request. It honours cancellation of ctx.
func (s *Static) Invoke(ctx context.Context, req Request) (Invocation, error) {
	if err := ctx.Err(); err != nil {
		return Invocation{}, err
	}

	p := req.Participant
	var b strings.Builder
	b.WriteString(thinkingOpen + "\n")
	fmt.Fprintf(&b, "As %s I am reviewing phase %q of %q.\n", p.Role, req.Phase.Name, req.DefinitionName)
	fmt.Fprintf(&b, "The phase asks for %d action(s) and I weigh each in turn.\n", len(req.Phase.Actions))
	if len(req.Recap) > 0 {
		fmt.Fprintf(&b, "Earlier runs left %d insight(s) that I take into account.\n", len(req.Recap))
	}
	b.WriteString(thinkingClose + "\n\n")

	n := 0
	for _, action := range req.Phase.Actions {
		n++
		fmt.Fprintf(&b, "%d. %s: %s completed from the %s perspective\n", n, p.Name, action, p.Role)
		if n == maxThoughts {
			break
		}
	}
	if n < maxThoughts && len(p.Capabilities) > 0 {
		n++
		fmt.Fprintf(&b, "%d. Applied %s to the phase outcome\n", n, strings.Join(p.Capabilities, ", "))
	}

	return Invocation{
		Output: b.String(),
		Model:  ModelFor(p, s.model),
	}, nil
}

var _ Invoker = (*Static)(nil)
