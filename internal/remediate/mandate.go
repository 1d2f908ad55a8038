package remediate

// ActionType enumerates the remediation directives a mandate can demand.
type ActionType string

const (
	ActionPolicyResolution     ActionType = "POLICY_RESOLUTION"
	ActionMajorTrustDeficit    ActionType = "MAJOR_TRUST_DEFICIT"
	ActionTargetedTrustDeficit ActionType = "TARGETED_TRUST_DEFICIT"
	ActionGeneralDeficit       ActionType = "GENERAL_DEFICIT"
	ActionStabilityFocus       ActionType = "STABILITY_FOCUS"
	ActionResourceAudit        ActionType = "RESOURCE_AUDIT"
	ActionManualReview         ActionType = "MANUAL_REVIEW"
)

// MandateAction is one required remediation step. Target scopes the action
// to a veto source or deficient component; CoverageDelta is the demanded
// coverage increase in percentage points, zero when not applicable.
type MandateAction struct {
	Type          ActionType `json:"type"`
	Target        string     `json:"target,omitempty"`
	CoverageDelta int        `json:"coverageDelta,omitempty"`
	Description   string     `json:"description"`
}

// Mandate is the remediation verdict for one failed mutation. It feeds
// proposal regeneration: the next attempt at TargetProposalHash must satisfy
// RequiredActions and clear NewThresholdTarget.
type Mandate struct {
	TargetProposalHash string          `json:"targetProposalHash"`
	RequiredActions    []MandateAction `json:"requiredActions"`
	NewThresholdTarget float64         `json:"newThresholdTarget"`
}
