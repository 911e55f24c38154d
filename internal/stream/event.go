package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates stream events.
type Type string

const (
	TypeStart            Type = "start"
	TypeInfo             Type = "info"
	TypePhaseStart       Type = "phase_start"
	TypeAgentModel       Type = "agent_model"
	TypeAgentThinking    Type = "agent_thinking"
	TypeAgentThought     Type = "agent_thought"
	TypeAgentError       Type = "agent_error"
	TypeAgentPerformance Type = "agent_performance"
	TypePhaseComplete    Type = "phase_complete"
	TypeSummary          Type = "summary"
	TypeComplete         Type = "complete"
	TypeReportGeneration Type = "report_generation"
	TypeReportComplete   Type = "report_complete"
	TypeVerification     Type = "verification"
	TypeError            Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypeStart: {}, TypeInfo: {}, TypePhaseStart: {}, TypeAgentModel: {},
	TypeAgentThinking: {}, TypeAgentThought: {}, TypeAgentError: {},
	TypeAgentPerformance: {}, TypePhaseComplete: {}, TypeSummary: {},
	TypeComplete: {}, TypeReportGeneration: {}, TypeReportComplete: {},
	TypeVerification: {}, TypeError: {},
}

// Known reports whether t is understood by this version of the protocol.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Terminal reports whether t ends an execution's event sequence.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one self-delimited record of the stream.
type Event struct {
	Type        Type            `json:"-"`
	Seq         uint64          `json:"seq"`
	ExecutionID string          `json:"execution_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the type-specific data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s#%d has no data", e.Type, e.Seq)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s data: %w", e.Type, err)
	}
	return nil
}

// StartData is carried by start.
type StartData struct {
	DefinitionID string   `json:"definition_id"`
	Name         string   `json:"name"`
	TotalPhases  int      `json:"total_phases"`
	Participants []string `json:"participants"`
}

// MessageData is carried by info, summary and report_generation.
type MessageData struct {
	Message string `json:"message"`
}

// PhaseStartData is carried by phase_start.
type PhaseStartData struct {
	PhaseID string   `json:"phase_id"`
	Name    string   `json:"name"`
	Index   int      `json:"index"`
	Total   int      `json:"total"`
	Agents  []string `json:"agents"`
}

// AgentModelData is carried by agent_model.
type AgentModelData struct {
	Agent   string `json:"agent"`
	Model   string `json:"model"`
	PhaseID string `json:"phase_id"`
}

// AgentThinkingData is carried by agent_thinking.
type AgentThinkingData struct {
	Agent    string `json:"agent"`
	PhaseID  string `json:"phase_id"`
	Thinking string `json:"thinking"`
}

// AgentThoughtData is carried by agent_thought.
type AgentThoughtData struct {
	Agent    string `json:"agent"`
	PhaseID  string `json:"phase_id"`
	Thought  string `json:"thought"`
	Fallback bool   `json:"fallback,omitempty"`
}

// AgentErrorData is carried by agent_error.
type AgentErrorData struct {
	Agent   string `json:"agent"`
	PhaseID string `json:"phase_id"`
	Error   string `json:"error"`
}

// AgentPerformanceData is carried by agent_performance.
type AgentPerformanceData struct {
	Agent   string  `json:"agent"`
	PhaseID string  `json:"phase_id"`
	Score   float64 `json:"score"`
}

// PhaseCompleteData is carried by phase_complete.
type PhaseCompleteData struct {
	PhaseID    string  `json:"phase_id"`
	Index      int     `json:"index"`
	Status     string  `json:"status"`
	DurationMS int64   `json:"duration_ms"`
	Progress   float64 `json:"progress"`
}

// CompleteData is carried by complete.
type CompleteData struct {
	Status          string  `json:"status"`
	PhasesCompleted int     `json:"phases_completed"`
	TotalPhases     int     `json:"total_phases"`
	Progress        float64 `json:"progress"`
	DurationMS      int64   `json:"duration_ms"`
}

// ReportCompleteData is carried by report_complete.
type ReportCompleteData struct {
	ReportID         string `json:"report_id"`
	Status           string `json:"status"`
	ContentReference string `json:"content_reference,omitempty"`
	LedgerReference  string `json:"ledger_reference,omitempty"`
	Sealed           bool   `json:"sealed"`
}

// VerificationData is carried by verification.
type VerificationData struct {
	MerkleRoot string `json:"merkle_root"`
	Signature  string `json:"signature,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
}

// ErrorData is carried by error.
type ErrorData struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}
