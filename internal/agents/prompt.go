package agents

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the instruction sent to a model for one phase.
func BuildPrompt(req Request) string {
	var b strings.Builder
	p := req.Participant

	fmt.Fprintf(&b, "You are %s, a specialized agent taking part in the cognition %q.\n\n", p.Name, req.DefinitionName)
	fmt.Fprintf(&b, "**Role**: %s\n", p.Role)
	if len(p.Capabilities) > 0 {
		fmt.Fprintf(&b, "**Capabilities**: %s\n", strings.Join(p.Capabilities, ", "))
	}
	if req.Category != "" {
		fmt.Fprintf(&b, "**Cognition type**: %s\n", req.Category)
	}

	fmt.Fprintf(&b, "\n**Current task**: phase %d of %d, %q\n", req.PhaseIndex+1, req.TotalPhases, req.Phase.Name)
	for _, action := range req.Phase.Actions {
		fmt.Fprintf(&b, "- %s\n", action)
	}

	if len(req.Recap) > 0 {
		b.WriteString("\n**Insights from earlier runs**:\n")
		for _, insight := range req.Recap {
			fmt.Fprintf(&b, "- %s\n", insight)
		}
	}

	b.WriteString(`
**Instructions**:
1. Think through the task step by step in your role
2. Show your reasoning inside <thinking> tags
3. Then list 3 to 5 specific, actionable thoughts for this phase

**Response format**:
<thinking>
[your reasoning]
</thinking>

1. [first thought]
2. [second thought]
3. [third thought]
`)
	return b.String()
}
