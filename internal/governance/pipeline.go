// Package governance wires the mutation commit pipeline: adjudication,
// staging, state locking, execution, ledger registration and failure
// remediation. The pipeline owns the active-context lifecycle; components
// below it never reach across to each other.
package governance

import (
	"context"
	"fmt"

	"archon/internal/adjudicate"
	"archon/internal/hashing"
	"archon/internal/ledger"
	"archon/internal/logging"
	"archon/internal/remediate"
	"archon/internal/staging"
	"archon/internal/state"
	"archon/internal/trust"
	"archon/internal/types"
)

// Pipeline orchestrates one workspace's governance flow. All entry points
// are safe for concurrent use; ordering-sensitive work is serialized inside
// the owning components.
type Pipeline struct {
	adjudicator *adjudicate.Adjudicator
	staging     *staging.Area
	verifier    *state.Verifier
	active      *state.ActiveContext
	ledger      *ledger.Ledger
	trust       *trust.Store
	remediation *remediate.Engine
	audit       types.AuditSink
	log         *logging.Logger
}

// Deps carries the collaborators a pipeline is built from.
type Deps struct {
	Adjudicator *adjudicate.Adjudicator
	Staging     *staging.Area
	Verifier    *state.Verifier
	Active      *state.ActiveContext
	Ledger      *ledger.Ledger
	Trust       *trust.Store
	Remediation *remediate.Engine
	Audit       types.AuditSink
}

func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{
		adjudicator: d.Adjudicator,
		staging:     d.Staging,
		verifier:    d.Verifier,
		active:      d.Active,
		ledger:      d.Ledger,
		trust:       d.Trust,
		remediation: d.Remediation,
		audit:       d.Audit,
		log:         logging.Get(logging.CategoryBoot),
	}
}

// SubmitResult reports what happened to a submitted proposal. Exactly one of
// Staged or Mandate is meaningful: an accepted proposal is staged, a
// rejected one carries the remediation mandate for its regeneration.
type SubmitResult struct {
	Envelope   types.DecisionEnvelope
	Staged     bool
	StagedHash string
	Mandate    *remediate.Mandate
}

// SubmitProposal adjudicates a proposal and stages it on PASS. The actor's
// trust weight contributes to the score under the "actor_trust" component;
// extra weighted contributions from external metrics merge in alongside it.
func (p *Pipeline) SubmitProposal(proposal types.Proposal, extra map[string]float64) (SubmitResult, error) {
	if err := proposal.Payload.Validate(); err != nil {
		return SubmitResult{}, fmt.Errorf("proposal %s: %w", proposal.ID, err)
	}
	if proposal.ID == "" {
		return SubmitResult{}, fmt.Errorf("proposal has no id")
	}

	contributions := map[string]float64{
		"actor_trust": p.trust.GetWeight(proposal.ActorID),
	}
	for name, c := range extra {
		contributions[name] = c
	}

	envelope := p.adjudicator.Adjudicate(proposal, contributions)

	if envelope.Status != types.DecisionPass {
		mandate := p.failProposal(proposal, envelope, contributions)
		return SubmitResult{Envelope: envelope, Mandate: &mandate}, nil
	}

	hash, staged := p.staging.StageProposal(proposal.ID, proposal.ActorID, proposal.Payload, envelope)
	if !staged {
		return SubmitResult{}, fmt.Errorf("proposal %s passed adjudication but could not be staged", proposal.ID)
	}
	p.active.Set(proposal.ID)

	p.log.Info("proposal %s accepted and staged (hash %s)", proposal.ID, hash)
	return SubmitResult{Envelope: envelope, Staged: true, StagedHash: hash}, nil
}

// failProposal derives a mandate for a rejected proposal and records the
// failure in the actor's trust weight.
func (p *Pipeline) failProposal(proposal types.Proposal, envelope types.DecisionEnvelope, contributions map[string]float64) remediate.Mandate {
	payloadHash, err := hashing.Hash(proposal.Payload)
	if err != nil {
		payloadHash = ""
	}
	report := types.FailureReport{
		Stage:            types.StageTrustCalculus,
		Reason:           "trust calculus rejection",
		PayloadHash:      payloadHash,
		Vetoed:           envelope.Vetoed,
		VetoSource:       envelope.VetoSource,
		RequiredScore:    envelope.Threshold,
		ActualScore:      envelope.Score,
		ComponentWeights: contributions,
	}
	mandate := p.remediation.Analyze(report)
	p.trust.RecalculateWeight(proposal.ActorID, 0.0)
	return mandate
}

// CommitResult reports the outcome of a commit attempt.
type CommitResult struct {
	Committed       bool
	SelfHash        string
	LockedStateHash string
	Mandate         *remediate.Mandate
}

// CommitProposal locks the pre-mutation state, executes the staged payload
// and registers the mutation in the ledger. On any failure the staged entry
// is retained and a remediation mandate is returned; the ledger is only
// touched after the executor succeeds.
func (p *Pipeline) CommitProposal(ctx context.Context, proposalID string) (CommitResult, error) {
	entry, ok := p.staging.Entry(proposalID)
	if !ok {
		return CommitResult{}, fmt.Errorf("%w: %s", staging.ErrNotStaged, proposalID)
	}
	lockedHash, err := p.verifier.VerifyAndLockState(ctx, proposalID)
	if err != nil {
		return CommitResult{}, fmt.Errorf("locking state for %s: %w", proposalID, err)
	}

	executed, execErr := p.staging.CommitAndExecute(ctx, proposalID)
	if execErr != nil {
		mandate := p.failCommit(entry, execErr)
		p.trust.RecalculateWeight(entry.ActorID, 0.0)
		return CommitResult{LockedStateHash: lockedHash, Mandate: &mandate}, nil
	}

	selfHash, err := p.ledger.RegisterMutation(executed.Payload, lockedHash)
	if err != nil {
		// The mutation executed but could not be chained. The ledger has
		// poisoned itself; nothing less than operator intervention fixes
		// this.
		p.audit.Fatal("PIPELINE_CHAIN_FAILURE", map[string]any{
			"proposalId": proposalID,
			"error":      err.Error(),
		})
		return CommitResult{}, fmt.Errorf("mutation %s executed but ledger registration failed: %w", proposalID, err)
	}

	p.ledger.ClearStateReference(proposalID)
	p.active.Clear()
	p.trust.RecalculateWeight(executed.ActorID, 1.0)

	p.log.Info("proposal %s committed, chain head %s", proposalID, selfHash)
	p.audit.Event("PIPELINE_COMMITTED", map[string]any{
		"proposalId": proposalID,
		"selfHash":   selfHash,
		"stateHash":  lockedHash,
	})
	return CommitResult{Committed: true, SelfHash: selfHash, LockedStateHash: lockedHash}, nil
}

// failCommit maps a commit-path failure to a mandate. Integrity and executor
// failures are both execution-stage reports; the staged entry stays for
// forensics and retry.
func (p *Pipeline) failCommit(entry staging.Entry, execErr error) remediate.Mandate {
	reason := "execution failed"
	if execErr != nil {
		reason = execErr.Error()
	}
	report := types.FailureReport{
		Stage:         types.StageExecution,
		Reason:        reason,
		PayloadHash:   entry.Hash,
		RequiredScore: entry.Decision.Threshold,
		ActualScore:   entry.Decision.Score,
	}
	return p.remediation.Analyze(report)
}

// AbandonProposal withdraws a staged proposal: the entry is dropped from the
// governance flow's perspective by clearing the active context and the
// ledger's provisional state reference. The staged entry itself is left in
// place for audit.
func (p *Pipeline) AbandonProposal(proposalID string) {
	p.ledger.ClearStateReference(proposalID)
	if p.active.Current() == proposalID {
		p.active.Clear()
	}
	p.audit.Event("PIPELINE_ABANDONED", map[string]any{"proposalId": proposalID})
}

// VerifyChain re-verifies the full mutation chain.
func (p *Pipeline) VerifyChain() error {
	return p.ledger.VerifyChain()
}

// Weights returns a snapshot of all trust weights.
func (p *Pipeline) Weights() map[string]float64 {
	return p.trust.Weights()
}

// Status summarizes the pipeline for the status command.
type Status struct {
	ChainLength     int    `json:"chainLength"`
	LatestChainHash string `json:"latestChainHash"`
	StagedProposals int    `json:"stagedProposals"`
	ActiveProposal  string `json:"activeProposal,omitempty"`
	TrackedActors   int    `json:"trackedActors"`
}

func (p *Pipeline) Status() Status {
	return Status{
		ChainLength:     p.ledger.Len(),
		LatestChainHash: p.ledger.LatestChainHash(),
		StagedProposals: p.staging.Len(),
		ActiveProposal:  p.active.Current(),
		TrackedActors:   len(p.trust.Weights()),
	}
}
