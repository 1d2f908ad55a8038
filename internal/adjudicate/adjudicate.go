// Package adjudicate implements trust-calculus scoring for mutation
// proposals. A proposal's score is the clamped sum of weighted metric
// contributions; it passes only when the score strictly exceeds the
// class threshold and no veto is raised. A veto overrides any score.
package adjudicate

import (
	"time"

	"archon/internal/logging"
	"archon/internal/types"
)

// ThresholdPolicy supplies the required score per mutation class and the
// global veto signal. Both come from the policy kernel, never from the
// proposal itself.
type ThresholdPolicy interface {
	RequiredThreshold(class types.MutationClass) float64
	GlobalVetoSignal(p types.Proposal) (vetoed bool, source string)
}

// Adjudicator scores proposals against the configured policy.
type Adjudicator struct {
	policy ThresholdPolicy
	audit  types.AuditSink
	log    *logging.Logger
}

func New(policy ThresholdPolicy, audit types.AuditSink) *Adjudicator {
	return &Adjudicator{
		policy: policy,
		audit:  audit,
		log:    logging.Get(logging.CategoryAdjudicate),
	}
}

// CalculateScore folds metric contributions and a veto signal into a
// decision. Contributions are summed then clamped to [0,1]; negative
// contributions are legal inputs and reduce the score before clamping.
func (a *Adjudicator) CalculateScore(contributions map[string]float64, threshold float64, vetoed bool, vetoSource string) types.DecisionEnvelope {
	var sum float64
	for _, c := range contributions {
		sum += c
	}
	score := clamp01(sum)

	status := types.DecisionFail
	if score > threshold && !vetoed {
		status = types.DecisionPass
	}

	return types.DecisionEnvelope{
		Status:        status,
		Score:         score,
		Threshold:     threshold,
		Vetoed:        vetoed,
		VetoSource:    vetoSource,
		Contributions: contributions,
		DecidedAt:     time.Now(),
	}
}

// Adjudicate resolves the threshold and veto signal for a proposal from the
// policy collaborator and scores it.
func (a *Adjudicator) Adjudicate(p types.Proposal, contributions map[string]float64) types.DecisionEnvelope {
	threshold := a.policy.RequiredThreshold(p.Class)
	vetoed, source := a.policy.GlobalVetoSignal(p)

	envelope := a.CalculateScore(contributions, threshold, vetoed, source)

	fields := map[string]any{
		"proposalId": p.ID,
		"actorId":    p.ActorID,
		"class":      string(p.Class),
		"score":      envelope.Score,
		"threshold":  threshold,
		"status":     string(envelope.Status),
	}
	if vetoed {
		fields["vetoSource"] = source
		a.log.Warn("proposal %s vetoed by %s (score %.3f)", p.ID, source, envelope.Score)
		a.audit.Warning("DECISION_VETOED", fields)
	} else if envelope.Status == types.DecisionPass {
		a.log.Info("proposal %s passed: %.3f > %.3f", p.ID, envelope.Score, threshold)
		a.audit.Event("DECISION_PASS", fields)
	} else {
		a.log.Info("proposal %s failed: %.3f <= %.3f", p.ID, envelope.Score, threshold)
		a.audit.Event("DECISION_FAIL", fields)
	}
	return envelope
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
