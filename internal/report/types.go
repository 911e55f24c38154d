// Package report defines cognition reports and the versioned store that
// holds them.
//
// A report is never mutated once stored. Resealing or any other correction
// appends a new version that carries the same execution id.
package report

import (
	"time"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
)

// Status is the overall outcome a report records.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Risk is one assessed risk of the execution.
type Risk struct {
	Type        string `json:"type"`
	Level       string `json:"level"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

// Integrity carries the sealing state of a report.
type Integrity struct {
	MerkleRoot       string `json:"merkle_root"`
	ContentReference string `json:"content_reference,omitempty"`
	LedgerReference  string `json:"ledger_reference,omitempty"`
	Signature        string `json:"signature,omitempty"`
	PublicKey        string `json:"public_key,omitempty"`
	Sealed           bool   `json:"sealed"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error,omitempty"`
}

// Report is the evaluated, optionally sealed outcome of one execution.
type Report struct {
	ResultID       string           `json:"result_id"`
	ExecutionID    string           `json:"execution_id"`
	DefinitionID   string           `json:"definition_id"`
	DefinitionName string           `json:"definition_name"`
	Version        int              `json:"version"`
	Status         Status           `json:"status"`
	Reason         execution.Reason `json:"reason,omitempty"`
	DurationMS     int64            `json:"duration_ms"`

	// Scores are nil when the execution produced no phase results.
	ConsensusScore   *float64           `json:"consensus_score"`
	TrustImpact      map[string]float64 `json:"trust_impact"`
	ReliabilityIndex *float64           `json:"reliability_index"`
	EfficiencyRating *float64           `json:"efficiency_rating"`
	InnovationScore  *float64           `json:"innovation_score"`

	PhasesCompleted   int                `json:"phases_completed"`
	TotalPhases       int                `json:"total_phases"`
	PhaseSuccessRates map[string]float64 `json:"phase_success_rates"`
	AgentPerformance  map[string]float64 `json:"agent_performance"`
	AgentModels       map[string]string  `json:"agent_models"`

	Insights        []string             `json:"insights"`
	Recommendations []string             `json:"recommendations"`
	Risks           []Risk               `json:"risks"`
	AuditTrail      []execution.LogEntry `json:"audit_trail"`

	CreatedAt time.Time `json:"created_at"`
	Integrity Integrity `json:"integrity"`
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.ConsensusScore = cloneFloat(r.ConsensusScore)
	c.ReliabilityIndex = cloneFloat(r.ReliabilityIndex)
	c.EfficiencyRating = cloneFloat(r.EfficiencyRating)
	c.InnovationScore = cloneFloat(r.InnovationScore)
	c.TrustImpact = cloneMap(r.TrustImpact)
	c.PhaseSuccessRates = cloneMap(r.PhaseSuccessRates)
	c.AgentPerformance = cloneMap(r.AgentPerformance)
	if r.AgentModels != nil {
		c.AgentModels = make(map[string]string, len(r.AgentModels))
		for k, v := range r.AgentModels {
			c.AgentModels[k] = v
		}
	}
	c.Insights = append([]string(nil), r.Insights...)
	c.Recommendations = append([]string(nil), r.Recommendations...)
	c.Risks = append([]Risk(nil), r.Risks...)
	c.AuditTrail = append([]execution.LogEntry(nil), r.AuditTrail...)
	return &c
}

// Unsealed returns a copy with every integrity reference cleared. Its
// serialization is what the content store holds.
func (r *Report) Unsealed() *Report {
	c := r.Clone()
	c.Integrity = Integrity{}
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
