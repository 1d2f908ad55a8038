// Package types provides shared type definitions used across archon packages.
// This package exists to break import cycles between the ledger, staging,
// adjudication and governance layers. Types in this package are foundational
// data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// MUTATION PAYLOAD
// =============================================================================

// MutationPayload is the unit of change submitted for governance approval.
// Signature identifies the submitting actor, VersionID the payload revision,
// and Manifest the structured description of the architectural change.
// PatchProgram optionally carries the Go source applied by a sandboxed
// executor; it is opaque to the pipeline core.
type MutationPayload struct {
	Signature    string         `json:"signature"`
	VersionID    string         `json:"versionId"`
	Manifest     map[string]any `json:"manifest"`
	PatchProgram string         `json:"patchProgram,omitempty"`
}

// Validate checks the payload has the shape the ledger requires.
func (p MutationPayload) Validate() error {
	if p.Signature == "" {
		return fmt.Errorf("payload signature missing")
	}
	if p.VersionID == "" {
		return fmt.Errorf("payload versionId missing")
	}
	if p.Manifest == nil {
		return fmt.Errorf("payload manifest missing")
	}
	return nil
}

// =============================================================================
// MUTATION CLASS
// =============================================================================

// MutationClass distinguishes proposal kinds for threshold selection.
type MutationClass string

const (
	ClassOrdinary   MutationClass = "ordinary"
	ClassRetirement MutationClass = "retirement"
	ClassEmergency  MutationClass = "emergency"
)

// =============================================================================
// PROPOSAL AND DECISION
// =============================================================================

// Proposal pairs a mutation payload with its governance identity.
type Proposal struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actorId"`
	Class     MutationClass   `json:"class"`
	Payload   MutationPayload `json:"payload"`
	Touches   []string        `json:"touches,omitempty"` // subsystems the mutation affects
	Submitted time.Time       `json:"submitted"`
}

// DecisionStatus is the outcome of trust-calculus adjudication.
type DecisionStatus string

const (
	DecisionPass DecisionStatus = "PASS"
	DecisionFail DecisionStatus = "FAIL"
)

// DecisionEnvelope records an adjudication outcome. Vetoed decisions carry
// the veto source tag; VetoDecision is a normal outcome, not an error.
type DecisionEnvelope struct {
	Status        DecisionStatus     `json:"status"`
	Score         float64            `json:"score"`
	Threshold     float64            `json:"threshold"`
	Vetoed        bool               `json:"vetoed"`
	VetoSource    string             `json:"vetoSource,omitempty"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
	DecidedAt     time.Time          `json:"decidedAt"`
}

// =============================================================================
// FAILURE REPORTING
// =============================================================================

// FailureStage identifies which pipeline stage rejected or failed a mutation.
type FailureStage string

const (
	StageTrustCalculus  FailureStage = "trust_calculus"
	StageReadinessIndex FailureStage = "readiness_index"
	StageExecution      FailureStage = "execution"
)

// FailureReport carries everything the remediation engine needs to derive a
// mandate. It is a pure value; identical reports must yield identical
// mandates.
type FailureReport struct {
	Stage            FailureStage       `json:"stage"`
	Reason           string             `json:"reason"`
	PayloadHash      string             `json:"payloadHash"`
	Vetoed           bool               `json:"vetoed"`
	VetoSource       string             `json:"vetoSource,omitempty"`
	RequiredScore    float64            `json:"requiredScore"`
	ActualScore      float64            `json:"actualScore"`
	ComponentWeights map[string]float64 `json:"componentWeights,omitempty"`
	FailedComponents []string           `json:"failedComponents,omitempty"`
}

// ScoreGap returns required minus actual, floored at zero.
func (r FailureReport) ScoreGap() float64 {
	gap := r.RequiredScore - r.ActualScore
	if gap < 0 {
		return 0
	}
	return gap
}
