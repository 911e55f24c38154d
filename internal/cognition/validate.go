package cognition

import (
	"fmt"
	"strings"
)

// Validate checks a Definition and returns a *ValidationError describing
// every problem, or nil. It performs no I/O.
//
// Dependencies may only reference phases declared earlier, which keeps the
// dependency graph acyclic without a separate cycle check.
func Validate(d *Definition) error {
	if d == nil {
		return &ValidationError{Problems: []string{"definition is nil"}}
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(d.ID) == "" {
		add("id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		add("name is required")
	}
	if d.Category != "" && !d.Category.IsValid() {
		add("unknown category %q", d.Category)
	}
	if d.RiskLevel != "" && !d.RiskLevel.IsValid() {
		add("unknown risk_level %q", d.RiskLevel)
	}

	participants := make(map[string]struct{}, len(d.Participants))
	for i, p := range d.Participants {
		if strings.TrimSpace(p.Name) == "" {
			add("participant %d: name is required", i)
			continue
		}
		if _, dup := participants[p.Name]; dup {
			add("participant %q declared twice", p.Name)
		}
		participants[p.Name] = struct{}{}
		if p.TrustScore < 0 || p.TrustScore > 1 {
			add("participant %q: trust_score must be within [0,1]", p.Name)
		}
	}
	if d.Initiator != "" {
		if _, ok := participants[d.Initiator]; !ok {
			add("initiator %q is not a participant", d.Initiator)
		}
	}

	if len(d.Phases) == 0 {
		add("at least one phase is required")
	}
	seen := make(map[string]struct{}, len(d.Phases))
	for i, ph := range d.Phases {
		label := ph.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			add("phase %s: id is required", label)
		}
		if len(ph.Actions) == 0 {
			add("phase %s: at least one action is required", label)
		}
		for _, dep := range ph.Dependencies {
			if _, ok := seen[dep]; !ok {
				add("phase %s: dependency %q does not reference an earlier phase", label, dep)
			}
		}
		for _, agent := range ph.Agents {
			if _, ok := participants[agent]; !ok {
				add("phase %s: agent %q is not a participant", label, agent)
			}
		}
		if len(ph.Agents) == 0 && len(d.Participants) == 0 {
			add("phase %s: no participants to dispatch", label)
		}
		if ph.ID != "" {
			if _, dup := seen[ph.ID]; dup {
				add("phase id %q declared twice", ph.ID)
			}
			seen[ph.ID] = struct{}{}
		}
	}

	if d.Memory.RecapTarget != "" {
		if _, ok := participants[d.Memory.RecapTarget]; !ok {
			add("memory.recap_target %q is not a participant", d.Memory.RecapTarget)
		}
	}

	if d.Security != nil {
		if d.Security.MinTrustScore < 0 || d.Security.MinTrustScore > 1 {
			add("security.min_trust_score must be within [0,1]")
		}
		if q := d.Security.Quorum; q != nil {
			if q.Fraction <= 0 || q.Fraction > 1 {
				add("security.quorum.fraction must be within (0,1], got %v", q.Fraction)
			}
			for _, id := range q.Phases {
				if _, ok := seen[id]; !ok {
					add("security.quorum references unknown phase %q", id)
				}
			}
		}
	}

	if d.Timeout.Duration() < 0 || d.AgentTimeout.Duration() < 0 {
		add("timeouts cannot be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{DefinitionID: d.ID, Problems: problems}
}
