package cognition

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
)

func validDefinition() *Definition {
	return &Definition{
		ID:        "council-review",
		Name:      "Council Review",
		Category:  CategoryDebate,
		Initiator: "Lyra",
		RiskLevel: RiskModerate,
		Participants: []Participant{
			{Name: "Lyra", Role: "orchestrator", TrustScore: 0.9},
			{Name: "Echo", Role: "historian", TrustScore: 0.8},
			{Name: "Verdict", Role: "judge", TrustScore: 0.85},
		},
		Phases: []Phase{
			{ID: "gather", Name: "Gather", Actions: []string{"collect evidence"}},
			{ID: "debate", Name: "Debate", Actions: []string{"argue"}, Dependencies: []string{"gather"}},
			{ID: "decide", Name: "Decide", Actions: []string{"rule"}, Dependencies: []string{"gather", "debate"}, Agents: []string{"Verdict"}},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, Validate(validDefinition()))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Definition)
		want   string
	}{
		{"empty name", func(d *Definition) { d.Name = " " }, "name is required"},
		{"empty id", func(d *Definition) { d.ID = "" }, "id is required"},
		{"zero phases", func(d *Definition) { d.Phases = nil }, "at least one phase"},
		{"phase without actions", func(d *Definition) { d.Phases[1].Actions = nil }, "phase debate: at least one action"},
		{"forward dependency", func(d *Definition) { d.Phases[0].Dependencies = []string{"decide"} }, `dependency "decide" does not reference an earlier phase`},
		{"self dependency", func(d *Definition) { d.Phases[1].Dependencies = []string{"debate"} }, `dependency "debate"`},
		{"unknown dependency", func(d *Definition) { d.Phases[2].Dependencies = []string{"nowhere"} }, `dependency "nowhere"`},
		{"unknown agent", func(d *Definition) { d.Phases[2].Agents = []string{"Ghost"} }, `agent "Ghost" is not a participant`},
		{"duplicate phase id", func(d *Definition) { d.Phases[2].ID = "gather" }, `phase id "gather" declared twice`},
		{"duplicate participant", func(d *Definition) { d.Participants[1].Name = "Lyra" }, `participant "Lyra" declared twice`},
		{"bad category", func(d *Definition) { d.Category = "party" }, `unknown category`},
		{"bad risk", func(d *Definition) { d.RiskLevel = "spicy" }, `unknown risk_level`},
		{"unknown initiator", func(d *Definition) { d.Initiator = "Nobody" }, `initiator "Nobody"`},
		{"unknown recap target", func(d *Definition) { d.Memory.RecapTarget = "Nobody" }, `recap_target`},
		{"quorum fraction zero", func(d *Definition) {
			d.Security = &SecurityHooks{Quorum: &QuorumPolicy{Fraction: 0}}
		}, "quorum.fraction"},
		{"quorum unknown phase", func(d *Definition) {
			d.Security = &SecurityHooks{Quorum: &QuorumPolicy{Fraction: 0.5, Phases: []string{"vote"}}}
		}, `unknown phase "vote"`},
		{"negative timeout", func(d *Definition) { d.Timeout = config.Duration(-time.Second) }, "timeouts cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			err := Validate(d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	d := &Definition{}
	err := Validate(d)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Problems), 3)
}

func TestValidate_Nil(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrValidation)
}

func TestDefinition_Clone(t *testing.T) {
	d := validDefinition()
	d.Security = &SecurityHooks{Quorum: &QuorumPolicy{Fraction: 0.5, Phases: []string{"debate"}}}
	c := d.Clone()

	c.Phases[0].Actions[0] = "mutated"
	c.Participants[0].TrustScore = 0.1
	c.Security.Quorum.Phases[0] = "decide"

	assert.Equal(t, "collect evidence", d.Phases[0].Actions[0])
	assert.Equal(t, 0.9, d.Participants[0].TrustScore)
	assert.Equal(t, "debate", d.Security.Quorum.Phases[0])
}

func TestDefinition_PhaseParticipants(t *testing.T) {
	d := validDefinition()
	all := d.PhaseParticipants(d.Phases[0])
	assert.Len(t, all, 3)

	only := d.PhaseParticipants(d.Phases[2])
	require.Len(t, only, 1)
	assert.Equal(t, "Verdict", only[0].Name)
}

func TestDefinition_QuorumFor(t *testing.T) {
	d := validDefinition()
	_, ok := d.QuorumFor("gather")
	assert.False(t, ok)

	d.Security = &SecurityHooks{Quorum: &QuorumPolicy{Fraction: 0.5}}
	f, ok := d.QuorumFor("gather")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	d.Security.Quorum.Phases = []string{"decide"}
	_, ok = d.QuorumFor("gather")
	assert.False(t, ok)
	_, ok = d.QuorumFor("decide")
	assert.True(t, ok)
}

func TestRequiredSuccesses(t *testing.T) {
	assert.Equal(t, 2, RequiredSuccesses(0.5, 4))
	assert.Equal(t, 2, RequiredSuccesses(0.5, 3))
	assert.Equal(t, 3, RequiredSuccesses(0.1, 30))
	assert.Equal(t, 4, RequiredSuccesses(1, 4))
	assert.Equal(t, 0, RequiredSuccesses(0.5, 0))
}
