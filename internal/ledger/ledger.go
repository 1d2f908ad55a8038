package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"archon/internal/hashing"
	"archon/internal/logging"
	"archon/internal/types"
)

// ChainStore is the ledger persistence collaborator. The on-disk form is the
// store's business; the ledger only requires that PersistChain is atomic with
// respect to the full chain handed to it.
type ChainStore interface {
	LoadChainHistory() ([]MutationRecord, error)
	PersistChain(records []MutationRecord) error
}

// Ledger is the single-writer mutation chain. All registrations are
// serialized by one in-process lock spanning "read latest hash -> build
// record -> persist -> publish", so chain linkage can never interleave.
//
// Readers of LatestChainHash and Records see fully published values only.
type Ledger struct {
	store ChainStore
	audit types.AuditSink
	log   *logging.Logger

	mu        sync.Mutex // serializes registration end to end
	chain     []MutationRecord
	stateRefs map[string]string // proposal id -> locked state hash
	poisoned  error             // non-nil once persistence has failed
}

// New loads prior chain history from the store and verifies it. An empty or
// missing history yields a fresh genesis chain; a corrupt history is a hard
// construction failure since continuity cannot be trusted.
func New(store ChainStore, audit types.AuditSink) (*Ledger, error) {
	log := logging.Get(logging.CategoryLedger)

	history, err := store.LoadChainHistory()
	if err != nil {
		return nil, fmt.Errorf("%w: load chain history: %v", ErrPersistence, err)
	}
	if err := VerifyRecords(history); err != nil {
		log.Error("refusing to open corrupt chain: %v", err)
		return nil, err
	}

	log.Info("ledger opened with %d records, latest=%s", len(history), latestOf(history))
	return &Ledger{
		store: store,
		audit: audit,
		log:   log,
		chain: history,
	}, nil
}

// RegisterMutation validates the payload, builds the next chain record and
// persists the full chain before returning the new record's self hash.
//
// Ordering is append in memory -> persist -> publish; on persistence failure
// the in-memory append is rolled back and the ledger is poisoned against
// further registrations.
func (l *Ledger) RegisterMutation(payload types.MutationPayload, stateConfirmationHash string) (string, error) {
	if err := payload.Validate(); err != nil {
		l.log.Error("rejecting malformed payload: %v", err)
		l.audit.Fatal("LEDGER_VALIDATION", map[string]any{"reason": err.Error()})
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !hashing.IsHash(stateConfirmationHash) {
		l.log.Error("rejecting malformed state confirmation hash %q", stateConfirmationHash)
		l.audit.Fatal("LEDGER_VALIDATION", map[string]any{"reason": "malformed state hash"})
		return "", fmt.Errorf("%w: state confirmation hash %q is not a sha-256 digest", ErrValidation, stateConfirmationHash)
	}

	architecturalHash, err := hashing.Hash(payload.Manifest)
	if err != nil {
		return "", fmt.Errorf("%w: manifest not hashable: %v", ErrValidation, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil {
		return "", fmt.Errorf("%w: ledger closed after earlier failure: %v", ErrPersistence, l.poisoned)
	}

	record := MutationRecord{
		Timestamp:         time.Now().UnixMilli(),
		MutationID:        uuid.NewString(),
		ArchitecturalHash: architecturalHash,
		StateHash:         stateConfirmationHash,
		PreviousChainHash: latestOf(l.chain),
	}
	record.SelfHash, err = record.ComputeSelfHash()
	if err != nil {
		return "", fmt.Errorf("%w: record not hashable: %v", ErrValidation, err)
	}

	l.chain = append(l.chain, record)
	if err := l.store.PersistChain(l.chain); err != nil {
		// Roll back the in-memory append and refuse all further commits.
		l.chain = l.chain[:len(l.chain)-1]
		l.poisoned = err
		l.log.Error("chain persistence failed, ledger poisoned: %v", err)
		l.audit.Fatal("LEDGER_PERSIST_FAILED", map[string]any{"error": err.Error()})
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l.log.Info("registered mutation %s prev=%s self=%s", record.MutationID, record.PreviousChainHash, record.SelfHash)
	l.audit.Event("LEDGER_APPEND", map[string]any{
		"mutationId":        record.MutationID,
		"architecturalHash": record.ArchitecturalHash,
		"stateHash":         record.StateHash,
		"previousChainHash": record.PreviousChainHash,
		"selfHash":          record.SelfHash,
	})
	return record.SelfHash, nil
}

// LatestChainHash returns the genesis sentinel for an empty chain, else the
// last record's self hash.
func (l *Ledger) LatestChainHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return latestOf(l.chain)
}

// StateHashFor returns the state hash registered for the newest record whose
// mutation id matches, used by state validation against the ledger.
func (l *Ledger) StateHashFor(mutationID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.chain) - 1; i >= 0; i-- {
		if l.chain[i].MutationID == mutationID {
			return l.chain[i].StateHash, true
		}
	}
	return "", false
}

// Records returns a copy of the chain for inspection.
func (l *Ledger) Records() []MutationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MutationRecord, len(l.chain))
	copy(out, l.chain)
	return out
}

// Len returns the number of chain records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chain)
}

// VerifyChain re-walks the in-memory chain checking linkage and self hashes.
func (l *Ledger) VerifyChain() error {
	return VerifyRecords(l.Records())
}

func latestOf(chain []MutationRecord) string {
	if len(chain) == 0 {
		return hashing.GenesisHash
	}
	return chain[len(chain)-1].SelfHash
}
