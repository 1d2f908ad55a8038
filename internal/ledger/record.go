// Package ledger implements the hash-chained, append-only record of accepted
// mutations. Each record carries a back-reference to the previous record's
// self hash; the first record links to the genesis sentinel. Records are
// created only by RegisterMutation and never mutated or deleted.
package ledger

import (
	"errors"
	"fmt"

	"archon/internal/hashing"
)

// MutationRecord is one link in the mutation chain.
type MutationRecord struct {
	Timestamp         int64  `json:"timestamp"` // Unix milliseconds
	MutationID        string `json:"mutationId"`
	ArchitecturalHash string `json:"architecturalHash"`
	StateHash         string `json:"stateHash"`
	PreviousChainHash string `json:"previousChainHash"`
	SelfHash          string `json:"selfHash"`
}

// recordPreimage is the record minus SelfHash, in the canonical shape the
// self hash is computed over.
type recordPreimage struct {
	Timestamp         int64  `json:"timestamp"`
	MutationID        string `json:"mutationId"`
	ArchitecturalHash string `json:"architecturalHash"`
	StateHash         string `json:"stateHash"`
	PreviousChainHash string `json:"previousChainHash"`
}

// ComputeSelfHash derives the record's self hash from everything except
// SelfHash itself.
func (r MutationRecord) ComputeSelfHash() (string, error) {
	return hashing.Hash(recordPreimage{
		Timestamp:         r.Timestamp,
		MutationID:        r.MutationID,
		ArchitecturalHash: r.ArchitecturalHash,
		StateHash:         r.StateHash,
		PreviousChainHash: r.PreviousChainHash,
	})
}

// Sentinel errors for the ledger error taxonomy.
var (
	// ErrValidation reports a malformed mutation payload. Nothing is appended.
	ErrValidation = errors.New("mutation payload validation failed")

	// ErrPersistence reports a chain persistence failure. Once raised, the
	// ledger refuses further registrations: chain continuity on disk can no
	// longer be guaranteed.
	ErrPersistence = errors.New("ledger persistence failed")

	// ErrChainCorrupt reports a broken hash chain discovered by verification.
	ErrChainCorrupt = errors.New("mutation chain corrupt")
)

// CorruptionError describes the first broken link found while verifying.
type CorruptionError struct {
	Index  int
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("mutation chain corrupt at record %d: %s", e.Index, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrChainCorrupt }

// VerifyRecords walks a chain re-deriving self hashes and prev links.
// Returns nil for an intact (possibly empty) chain, otherwise the first
// corruption found.
func VerifyRecords(records []MutationRecord) error {
	prev := hashing.GenesisHash
	for i, r := range records {
		if r.PreviousChainHash != prev {
			return &CorruptionError{Index: i, Reason: fmt.Sprintf(
				"previousChainHash %s does not match prior selfHash %s", r.PreviousChainHash, prev)}
		}
		self, err := r.ComputeSelfHash()
		if err != nil {
			return &CorruptionError{Index: i, Reason: fmt.Sprintf("self hash not computable: %v", err)}
		}
		if self != r.SelfHash {
			return &CorruptionError{Index: i, Reason: fmt.Sprintf(
				"selfHash %s does not match recomputed %s", r.SelfHash, self)}
		}
		if !hashing.IsHash(r.StateHash) {
			return &CorruptionError{Index: i, Reason: fmt.Sprintf("malformed stateHash %q", r.StateHash)}
		}
		prev = r.SelfHash
	}
	return nil
}
