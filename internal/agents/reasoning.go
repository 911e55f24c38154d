package agents

import (
	"fmt"
	"strings"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
)

const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"

	// Shorter thinking lines are formatting noise.
	minThinkingLen = 16
	// Shorter indicator-prefixed lines are not treated as insights.
	minInsightLen = 11
	maxThoughts   = 5
)

var insightIndicators = []string{"insight:", "recommendation:", "analysis:", "conclusion:", "•", "-", "*"}

// Reasoning is a participant's output split into intermediate reasoning and
// final thoughts.
type Reasoning struct {
	Thinking []string
	Thoughts []string
}

// ParseReasoning extracts thinking and thoughts from raw model output.
//
// Thinking comes from the <thinking> block and from trace, one entry per
// line. Thoughts are the lines numbered 1 to 5; failing those, lines opened
// by an insight marker or bullet; failing those, the remaining text as a
// single thought.
func ParseReasoning(output, trace string) Reasoning {
	var r Reasoning

	body := output
	if start := strings.Index(output, thinkingOpen); start >= 0 {
		if end := strings.Index(output[start:], thinkingClose); end >= 0 {
			block := output[start+len(thinkingOpen) : start+end]
			r.Thinking = append(r.Thinking, thinkingLines(block)...)
			body = output[:start] + output[start+end+len(thinkingClose):]
		}
	}
	r.Thinking = append(r.Thinking, thinkingLines(trace)...)

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if t, ok := numberedThought(strings.TrimSpace(line)); ok {
			r.Thoughts = append(r.Thoughts, t)
		}
	}
	if len(r.Thoughts) == 0 {
		for _, line := range lines {
			if t, ok := indicatedThought(strings.TrimSpace(line)); ok {
				r.Thoughts = append(r.Thoughts, t)
			}
		}
	}
	if len(r.Thoughts) == 0 {
		if rest := strings.Join(strings.Fields(body), " "); rest != "" {
			r.Thoughts = []string{rest}
		}
	}
	return r
}

func thinkingLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= minThinkingLen {
			out = append(out, line)
		}
	}
	return out
}

// numberedThought accepts "1. text", "1) text" and "1 text" for 1 through 5.
func numberedThought(line string) (string, bool) {
	if len(line) < 2 || line[0] < '1' || line[0] > '0'+maxThoughts {
		return "", false
	}
	switch line[1] {
	case '.', ')', ' ':
	default:
		return "", false
	}
	t := strings.TrimSpace(line[2:])
	return t, t != ""
}

func indicatedThought(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, ind := range insightIndicators {
		if strings.HasPrefix(lower, ind) {
			t := strings.TrimSpace(line[len(ind):])
			return t, len(t) >= minInsightLen
		}
	}
	return "", false
}

// FallbackThoughts returns the deterministic contribution recorded when a
// participant's invocation fails.
func FallbackThoughts(p cognition.Participant, phase cognition.Phase) []string {
	role := p.Role
	if role == "" {
		role = "participant"
	}
	thoughts := []string{
		fmt.Sprintf("%s engaging with %s as %s using a systematic approach", p.Name, strings.ToLower(phase.Name), role),
	}
	for _, action := range phase.Actions {
		thoughts = append(thoughts, fmt.Sprintf("Addressing %q from the %s perspective", action, role))
		if len(thoughts) == 3 {
			break
		}
	}
	if len(p.Capabilities) > 0 && len(thoughts) < 3 {
		thoughts = append(thoughts, fmt.Sprintf("Applying %s to the current challenge", strings.Join(p.Capabilities, ", ")))
	}
	return thoughts
}
