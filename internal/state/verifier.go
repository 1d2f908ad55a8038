package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"archon/internal/hashing"
	"archon/internal/logging"
	"archon/internal/types"
)

// StateSnapshot is the write-once record of a locked pre-mutation state.
type StateSnapshot struct {
	ProposalID      string `json:"proposalId"`
	ConfigHash      string `json:"configHash"`
	CodebaseHash    string `json:"codebaseHash"`
	SystemStateHash string `json:"systemStateHash"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds
}

// SnapshotStore is the write-once keyed snapshot collaborator. Save must
// refuse a second write for the same proposal id with ErrSnapshotExists.
type SnapshotStore interface {
	Save(proposalID string, snap StateSnapshot) error
	Get(proposalID string) (StateSnapshot, bool, error)
}

// Sentinel errors for state locking.
var (
	// ErrSnapshotExists reports a refused duplicate snapshot write.
	ErrSnapshotExists = errors.New("state snapshot already exists")

	// ErrStateLock reports that a lock operation failed partway and was
	// rolled back; nothing partial remains registered.
	ErrStateLock = errors.New("state lock failed")
)

// LedgerStateRegistry is the slice of the mutation ledger the verifier needs:
// registering, reading back and compensating locked state references.
type LedgerStateRegistry interface {
	RegisterStateReference(proposalID, stateHash string) error
	StateReferenceFor(proposalID string) (string, bool)
	ClearStateReference(proposalID string)
}

// Verifier computes and locks System State Hashes.
type Verifier struct {
	resolver  *Resolver
	snapshots SnapshotStore
	ledger    LedgerStateRegistry
	audit     types.AuditSink
	log       *logging.Logger
}

// NewVerifier wires a verifier to its collaborators.
func NewVerifier(resolver *Resolver, snapshots SnapshotStore, ledger LedgerStateRegistry, audit types.AuditSink) *Verifier {
	return &Verifier{
		resolver:  resolver,
		snapshots: snapshots,
		ledger:    ledger,
		audit:     audit,
		log:       logging.Get(logging.CategoryVerify),
	}
}

// ComputeStateHash derives the System State Hash from a resolved context:
// SHA-256 over the colon-joined canonical identity string.
func ComputeStateHash(c Context) string {
	return hashing.HashString(hashing.StateIdentity(c.ConfigHash, c.CodeHash, c.ProposalID))
}

// VerifyAndLockState resolves the context for an explicit proposal id,
// computes its state hash, registers the hash with the mutation ledger, and
// persists the write-once snapshot.
//
// A snapshot that already exists for the id makes the whole call a logged
// no-op returning the previously locked hash. Any step failing aborts the
// operation with ErrStateLock; the ledger registration is compensated so no
// reference is left without a snapshot, and no snapshot without a reference.
func (v *Verifier) VerifyAndLockState(ctx context.Context, proposalID string) (string, error) {
	resolved, err := v.resolver.ResolveContext(ctx, proposalID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStateLock, err)
	}
	stateHash := ComputeStateHash(resolved)

	if existing, ok, err := v.snapshots.Get(proposalID); err != nil {
		return "", fmt.Errorf("%w: snapshot lookup: %v", ErrStateLock, err)
	} else if ok {
		v.log.Warn("state already locked for %s, keeping original snapshot", proposalID)
		v.audit.Warning("STATE_ALREADY_LOCKED", map[string]any{
			"proposalId": proposalID,
			"stateHash":  existing.SystemStateHash,
		})
		return existing.SystemStateHash, nil
	}

	// Register on the ledger first: references are removable, snapshots are
	// write-once, so this is the order that admits compensation.
	if err := v.ledger.RegisterStateReference(proposalID, stateHash); err != nil {
		v.log.Error("state reference registration failed for %s: %v", proposalID, err)
		return "", fmt.Errorf("%w: ledger registration: %v", ErrStateLock, err)
	}

	snap := StateSnapshot{
		ProposalID:      proposalID,
		ConfigHash:      resolved.ConfigHash,
		CodebaseHash:    resolved.CodeHash,
		SystemStateHash: stateHash,
		Timestamp:       time.Now().UnixMilli(),
	}
	if err := v.snapshots.Save(proposalID, snap); err != nil {
		v.ledger.ClearStateReference(proposalID)
		if errors.Is(err, ErrSnapshotExists) {
			// Raced with another lock for the same id; the first one won.
			v.log.Warn("snapshot appeared concurrently for %s", proposalID)
			if existing, ok, getErr := v.snapshots.Get(proposalID); getErr == nil && ok {
				return existing.SystemStateHash, nil
			}
		}
		v.log.Error("snapshot persistence failed for %s: %v", proposalID, err)
		return "", fmt.Errorf("%w: snapshot persistence: %v", ErrStateLock, err)
	}

	v.log.Info("state locked for %s: %s", proposalID, stateHash)
	v.audit.Event("STATE_LOCKED", map[string]any{
		"proposalId": proposalID,
		"stateHash":  stateHash,
	})
	return stateHash, nil
}

// ValidateCurrentStateAgainstHash recomputes the live state hash and compares
// it to expectedHash. An empty expectedHash compares against the hash locked
// on the ledger for the active proposal; if none was locked the comparison
// fails closed. Returns an error only when the live context itself cannot be
// resolved.
func (v *Verifier) ValidateCurrentStateAgainstHash(ctx context.Context, expectedHash string) (bool, error) {
	resolved, err := v.resolver.ResolveContext(ctx, "")
	if err != nil {
		return false, err
	}

	if expectedHash == "" {
		locked, ok := v.ledger.StateReferenceFor(resolved.ProposalID)
		if !ok {
			v.log.Warn("no locked state reference for active proposal %s", resolved.ProposalID)
			return false, nil
		}
		expectedHash = locked
	}

	actual := ComputeStateHash(resolved)
	if actual != expectedHash {
		v.log.Warn("state drift for %s: locked=%s live=%s", resolved.ProposalID, expectedHash, actual)
		v.audit.Warning("STATE_DRIFT", map[string]any{
			"proposalId": resolved.ProposalID,
			"stateHash":  actual,
			"expected":   expectedHash,
		})
		return false, nil
	}
	return true, nil
}
