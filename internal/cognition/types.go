package cognition

import (
	"math"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
)

// Category classifies a cognition scenario.
type Category string

const (
	CategoryCyclic        Category = "cyclic"
	CategoryDebate        Category = "debate"
	CategoryIntrospection Category = "introspection"
	CategoryHandoff       Category = "handoff"
	CategoryMemory        Category = "memory"
	CategoryMonitoring    Category = "monitoring"
	CategoryVoting        Category = "voting"
	CategoryGossip        Category = "gossip"
	CategorySynthetic     Category = "synthetic"
	CategoryCompliance    Category = "compliance"
	CategoryCustom        Category = "custom"
)

var validCategories = map[Category]struct{}{
	CategoryCyclic: {}, CategoryDebate: {}, CategoryIntrospection: {},
	CategoryHandoff: {}, CategoryMemory: {}, CategoryMonitoring: {},
	CategoryVoting: {}, CategoryGossip: {}, CategorySynthetic: {},
	CategoryCompliance: {}, CategoryCustom: {},
}

// IsValid reports whether c belongs to the closed category set.
func (c Category) IsValid() bool {
	_, ok := validCategories[c]
	return ok
}

// RiskLevel is the declared risk of running a cognition.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid reports whether r is a known risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Definition is an immutable, validated description of a cognition.
type Definition struct {
	ID              string          `json:"id" yaml:"id" toml:"id"`
	Name            string          `json:"name" yaml:"name" toml:"name"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Category        Category        `json:"category" yaml:"category" toml:"category"`
	Initiator       string          `json:"initiator,omitempty" yaml:"initiator,omitempty" toml:"initiator"`
	Participants    []Participant   `json:"participants" yaml:"participants" toml:"participants"`
	Phases          []Phase         `json:"phases" yaml:"phases" toml:"phases"`
	SuccessCriteria string          `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty" toml:"success_criteria"`
	RiskLevel       RiskLevel       `json:"risk_level" yaml:"risk_level" toml:"risk_level"`
	Memory          MemoryPolicy    `json:"memory" yaml:"memory" toml:"memory"`
	Security        *SecurityHooks  `json:"security,omitempty" yaml:"security,omitempty" toml:"security"`
	Timeout         config.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout"`
	AgentTimeout    config.Duration `json:"agent_timeout,omitempty" yaml:"agent_timeout,omitempty" toml:"agent_timeout"`
	Tags            []string        `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags"`
}

// Participant is an agent reference owned by a Definition.
type Participant struct {
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Role         string   `json:"role" yaml:"role" toml:"role"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty" toml:"capabilities"`
	TrustScore   float64  `json:"trust_score" yaml:"trust_score" toml:"trust_score"`
	// Model names the backing model or persona; empty uses the invoker default.
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model"`
}

// Phase is one ordered stage of a cognition.
type Phase struct {
	ID      string   `json:"id" yaml:"id" toml:"id"`
	Name    string   `json:"name" yaml:"name" toml:"name"`
	Actions []string `json:"actions" yaml:"actions" toml:"actions"`
	// Duration is advisory only; the orchestrator never enforces it.
	Duration     config.Duration `json:"duration,omitempty" yaml:"duration,omitempty" toml:"duration"`
	Dependencies []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies"`
	// Agents restricts the phase to a subset of participants. Empty means all.
	Agents []string `json:"agents,omitempty" yaml:"agents,omitempty" toml:"agents"`
}

// MemoryPolicy controls whether report insights outlive the execution.
type MemoryPolicy struct {
	StoreInsights bool            `json:"store_insights" yaml:"store_insights" toml:"store_insights"`
	RecapTarget   string          `json:"recap_target,omitempty" yaml:"recap_target,omitempty" toml:"recap_target"`
	Retention     config.Duration `json:"retention,omitempty" yaml:"retention,omitempty" toml:"retention"`
}

// SecurityHooks are optional admission and quorum rules.
type SecurityHooks struct {
	MinTrustScore float64       `json:"min_trust_score,omitempty" yaml:"min_trust_score,omitempty" toml:"min_trust_score"`
	Quorum        *QuorumPolicy `json:"quorum,omitempty" yaml:"quorum,omitempty" toml:"quorum"`
}

// QuorumPolicy marks phases whose outcome requires a fraction of participants to succeed.
type QuorumPolicy struct {
	Fraction float64 `json:"fraction" yaml:"fraction" toml:"fraction"`
	// Phases lists quorum-required phase ids. Empty means every phase.
	Phases []string `json:"phases,omitempty" yaml:"phases,omitempty" toml:"phases"`
}

// Participant returns the named participant.
func (d *Definition) Participant(name string) (Participant, bool) {
	for _, p := range d.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}

// PhaseParticipants returns the participants dispatched for phase, in
// participant declaration order when the phase does not restrict them.
func (d *Definition) PhaseParticipants(phase Phase) []Participant {
	if len(phase.Agents) == 0 {
		out := make([]Participant, len(d.Participants))
		copy(out, d.Participants)
		return out
	}
	out := make([]Participant, 0, len(phase.Agents))
	for _, name := range phase.Agents {
		if p, ok := d.Participant(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// QuorumFor returns the quorum fraction for phaseID and whether the phase requires quorum.
func (d *Definition) QuorumFor(phaseID string) (float64, bool) {
	if d.Security == nil || d.Security.Quorum == nil {
		return 0, false
	}
	q := d.Security.Quorum
	if len(q.Phases) == 0 {
		return q.Fraction, true
	}
	for _, id := range q.Phases {
		if id == phaseID {
			return q.Fraction, true
		}
	}
	return 0, false
}

// MinTrustScore returns the admission threshold, zero when unset.
func (d *Definition) MinTrustScore() float64 {
	if d.Security == nil {
		return 0
	}
	return d.Security.MinTrustScore
}

// RequiredSuccesses returns how many of n participants must succeed to meet fraction.
func RequiredSuccesses(fraction float64, n int) int {
	if fraction <= 0 || n == 0 {
		return 0
	}
	// guard against 0.1*30 = 3.0000000000000004
	return int(math.Ceil(fraction*float64(n) - 1e-9))
}

// Clone returns a deep copy so an execution never observes later edits.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = cloneStrings(d.Tags)
	c.Participants = make([]Participant, len(d.Participants))
	for i, p := range d.Participants {
		p.Capabilities = cloneStrings(p.Capabilities)
		c.Participants[i] = p
	}
	c.Phases = make([]Phase, len(d.Phases))
	for i, ph := range d.Phases {
		ph.Actions = cloneStrings(ph.Actions)
		ph.Dependencies = cloneStrings(ph.Dependencies)
		ph.Agents = cloneStrings(ph.Agents)
		c.Phases[i] = ph
	}
	if d.Security != nil {
		sec := *d.Security
		if d.Security.Quorum != nil {
			q := *d.Security.Quorum
			q.Phases = cloneStrings(q.Phases)
			sec.Quorum = &q
		}
		c.Security = &sec
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
