package ledger

import (
	"fmt"

	"archon/internal/hashing"
)

// State references track the locked pre-mutation state hash per proposal
// between state locking and chain append. They are the ledger-side half of
// the root-of-trust pair: a snapshot record without a ledger reference (or
// the reverse) is a lock-protocol violation, so the verifier registers here
// and compensates on partial failure.

// RegisterStateReference records the locked state hash for a proposal.
// Re-registering the same value is an idempotent no-op; a conflicting value
// is refused, since a locked state hash never legitimately changes.
func (l *Ledger) RegisterStateReference(proposalID, stateHash string) error {
	if proposalID == "" {
		return fmt.Errorf("%w: proposal id required for state reference", ErrValidation)
	}
	if !hashing.IsHash(stateHash) {
		return fmt.Errorf("%w: state reference %q is not a sha-256 digest", ErrValidation, stateHash)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stateRefs == nil {
		l.stateRefs = make(map[string]string)
	}
	if existing, ok := l.stateRefs[proposalID]; ok {
		if existing == stateHash {
			return nil
		}
		return fmt.Errorf("%w: state reference for %s already locked to %s", ErrValidation, proposalID, existing)
	}
	l.stateRefs[proposalID] = stateHash
	l.log.Info("state reference locked for %s: %s", proposalID, stateHash)
	return nil
}

// StateReferenceFor returns the locked state hash for a proposal, if any.
func (l *Ledger) StateReferenceFor(proposalID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hash, ok := l.stateRefs[proposalID]
	return hash, ok
}

// ClearStateReference removes a proposal's locked state hash. Called by the
// orchestrator at commit or abort, and by the verifier to compensate when a
// lock operation fails partway.
func (l *Ledger) ClearStateReference(proposalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stateRefs, proposalID)
}
