// Package remediate converts mutation failures into actionable mandates.
// Analyze is a pure function of the failure report and the policy map:
// identical inputs must always yield identical mandates, since mandates are
// replayed during audit.
package remediate

import (
	"fmt"
	"math"

	"archon/internal/logging"
	"archon/internal/types"
)

// MetricsDiagnostic identifies the dominant deficient component from the
// weights recorded in a failure report.
type MetricsDiagnostic interface {
	DiagnoseScoreDeficiency(weights map[string]float64) (component string, ok bool)
}

// LowestWeightDiagnostic picks the component with the smallest weight,
// breaking ties by name so diagnosis stays deterministic.
type LowestWeightDiagnostic struct{}

func (LowestWeightDiagnostic) DiagnoseScoreDeficiency(weights map[string]float64) (string, bool) {
	best := ""
	bestW := math.Inf(1)
	for name, w := range weights {
		if w < bestW || (w == bestW && name < best) {
			best, bestW = name, w
		}
	}
	return best, best != ""
}

// Engine derives mandates from failure reports.
type Engine struct {
	policy  Policy
	metrics MetricsDiagnostic
	audit   types.AuditSink
	log     *logging.Logger
}

func NewEngine(policy Policy, metrics MetricsDiagnostic, audit types.AuditSink) *Engine {
	if metrics == nil {
		metrics = LowestWeightDiagnostic{}
	}
	return &Engine{
		policy:  policy,
		metrics: metrics,
		audit:   audit,
		log:     logging.Get(logging.CategoryRemediate),
	}
}

// Analyze maps a failure report to a mandate, dispatched by failure stage.
// Unknown stages are never dropped; they produce a manual-review mandate.
func (e *Engine) Analyze(report types.FailureReport) Mandate {
	var mandate Mandate
	switch report.Stage {
	case types.StageTrustCalculus:
		mandate = e.trustMandate(report)
	case types.StageReadinessIndex:
		mandate = e.readinessMandate(report)
	default:
		mandate = e.manualReviewMandate(report)
	}

	e.log.Info("mandate for %s: %d actions, target %.3f", report.PayloadHash, len(mandate.RequiredActions), mandate.NewThresholdTarget)
	e.audit.Event("REMEDIATION_MANDATE", map[string]any{
		"payloadHash": report.PayloadHash,
		"stage":       string(report.Stage),
		"actions":     actionTypes(mandate.RequiredActions),
		"newTarget":   mandate.NewThresholdTarget,
	})
	return mandate
}

func (e *Engine) trustMandate(report types.FailureReport) Mandate {
	if report.Vetoed {
		return Mandate{
			TargetProposalHash: report.PayloadHash,
			NewThresholdTarget: e.policy.VetoRetryTarget,
			RequiredActions: []MandateAction{{
				Type:        ActionPolicyResolution,
				Target:      report.VetoSource,
				Description: e.policy.description(ActionPolicyResolution, fmt.Sprintf("resolve the veto raised by %s before resubmission", report.VetoSource)),
			}},
		}
	}

	gap := report.ScoreGap()
	delta := e.coverageDelta(gap)
	target := math.Min(1.0, report.RequiredScore+gap*0.15)

	action := MandateAction{CoverageDelta: delta}
	switch {
	case gap >= e.policy.MajorDeficitGap:
		action.Type = ActionMajorTrustDeficit
		action.Description = e.policy.description(ActionMajorTrustDeficit, "broad trust deficit, raise coverage across all scoring components")
	default:
		if component, ok := e.metrics.DiagnoseScoreDeficiency(report.ComponentWeights); ok {
			action.Type = ActionTargetedTrustDeficit
			action.Target = component
			action.Description = e.policy.description(ActionTargetedTrustDeficit, fmt.Sprintf("raise coverage for deficient component %s", component))
		} else {
			action.Type = ActionGeneralDeficit
			action.Description = e.policy.description(ActionGeneralDeficit, "general score deficit, raise overall coverage")
		}
	}

	return Mandate{
		TargetProposalHash: report.PayloadHash,
		RequiredActions:    []MandateAction{action},
		NewThresholdTarget: target,
	}
}

func (e *Engine) readinessMandate(report types.FailureReport) Mandate {
	target := math.Min(1.0, report.RequiredScore+e.policy.ReadinessBuffer)

	if len(report.FailedComponents) > 0 {
		actions := make([]MandateAction, 0, len(report.FailedComponents))
		for _, component := range report.FailedComponents {
			actions = append(actions, MandateAction{
				Type:        ActionStabilityFocus,
				Target:      component,
				Description: e.policy.description(ActionStabilityFocus, fmt.Sprintf("stabilize %s before resubmission", component)),
			})
		}
		return Mandate{
			TargetProposalHash: report.PayloadHash,
			RequiredActions:    actions,
			NewThresholdTarget: target,
		}
	}

	return Mandate{
		TargetProposalHash: report.PayloadHash,
		NewThresholdTarget: target,
		RequiredActions: []MandateAction{{
			Type:        ActionResourceAudit,
			Description: e.policy.description(ActionResourceAudit, "audit system resources, readiness degraded without a specific component failure"),
		}},
	}
}

func (e *Engine) manualReviewMandate(report types.FailureReport) Mandate {
	return Mandate{
		TargetProposalHash: report.PayloadHash,
		NewThresholdTarget: report.RequiredScore,
		RequiredActions: []MandateAction{{
			Type:        ActionManualReview,
			Target:      string(report.Stage),
			Description: e.policy.description(ActionManualReview, fmt.Sprintf("unrecognized failure stage %q, escalate for manual review", report.Stage)),
		}},
	}
}

// coverageDelta converts a score gap to percentage points of demanded
// coverage, floored at the policy minimum.
func (e *Engine) coverageDelta(gap float64) int {
	delta := int(math.Ceil(gap * 100 * e.policy.SensitivityMultiplier))
	if delta < e.policy.MinimumIncrease {
		delta = e.policy.MinimumIncrease
	}
	return delta
}

func actionTypes(actions []MandateAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a.Type)
	}
	return out
}
