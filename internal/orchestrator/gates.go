package orchestrator

import (
	"fmt"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
)

// Gate decides whether a participant is dispatched in a phase.
type Gate interface {
	// Name returns the gate identifier
	Name() string
	// Admit returns false and a reason when p must not be dispatched.
	Admit(def *cognition.Definition, phase cognition.Phase, p cognition.Participant) (bool, string)
}

// TrustGate refuses participants whose snapshot trust score is below the
// definition's minimum.
type TrustGate struct{}

// NewTrustGate creates a new trust gate
func NewTrustGate() *TrustGate {
	return &TrustGate{}
}

// Name returns the gate identifier
func (g *TrustGate) Name() string {
	return "min-trust"
}

// Admit checks p against the definition's minimum trust score
func (g *TrustGate) Admit(def *cognition.Definition, _ cognition.Phase, p cognition.Participant) (bool, string) {
	minScore := def.MinTrustScore()
	if minScore <= 0 || p.TrustScore >= minScore {
		return true, ""
	}
	return false, fmt.Sprintf("trust score %.2f below minimum %.2f", p.TrustScore, minScore)
}

// Refusal records a participant a gate kept out of a phase.
type Refusal struct {
	Agent  string
	Gate   string
	Reason string
}

// admit splits participants into those every gate admits and refusals.
func admit(gates []Gate, def *cognition.Definition, phase cognition.Phase, participants []cognition.Participant) ([]cognition.Participant, []Refusal) {
	eligible := make([]cognition.Participant, 0, len(participants))
	var refused []Refusal
next:
	for _, p := range participants {
		for _, g := range gates {
			if ok, reason := g.Admit(def, phase, p); !ok {
				refused = append(refused, Refusal{Agent: p.Name, Gate: g.Name(), Reason: reason})
				continue next
			}
		}
		eligible = append(eligible, p)
	}
	return eligible, refused
}

// quorumMet reports whether succeeded meets the phase's quorum. Phases
// without a quorum requirement always pass.
func quorumMet(def *cognition.Definition, phase cognition.Phase, participants, succeeded int) (bool, *PhaseQuorumFailure) {
	fraction, required := def.QuorumFor(phase.ID)
	if !required {
		return true, nil
	}
	need := cognition.RequiredSuccesses(fraction, participants)
	if succeeded >= need {
		return true, nil
	}
	return false, &PhaseQuorumFailure{
		PhaseID:      phase.ID,
		Fraction:     fraction,
		Participants: participants,
		Required:     need,
		Succeeded:    succeeded,
	}
}
