// Package staging holds accepted mutation payloads between adjudication and
// execution. An entry is hashed when staged and re-hashed immediately before
// execution; any drift between the two aborts the commit and preserves the
// entry for forensics. Eviction happens only on successful execution, which
// is what guarantees at-most-once commit semantics.
package staging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"archon/internal/hashing"
	"archon/internal/logging"
	"archon/internal/types"
)

// Entry is a staged proposal. Entries are created by StageProposal and never
// modified afterwards; the payload hash pins the exact bytes that were
// accepted, so an aliased mutation of the payload after staging is caught by
// the pre-commit re-hash rather than silently executed.
type Entry struct {
	ProposalID string
	ActorID    string
	Payload    types.MutationPayload
	Decision   types.DecisionEnvelope
	Hash       string
	Timestamp  int64 // Unix milliseconds
}

// Sentinel errors for the staging taxonomy.
var (
	// ErrNotStaged reports a commit for an id with no staged entry.
	ErrNotStaged = errors.New("proposal not staged")

	// ErrIntegrity reports a payload whose recomputed hash no longer matches
	// the hash taken at staging time. The entry is retained for audit.
	ErrIntegrity = errors.New("staged payload integrity violation")

	// ErrExecution reports an executor that returned false or failed.
	ErrExecution = errors.New("mutation execution failed")
)

// Area is the staging map. It is the sole owner of its entries; all access
// goes through its methods.
type Area struct {
	executor types.Executor
	audit    types.AuditSink
	log      *logging.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// NewArea builds a staging area over the given executor collaborator.
func NewArea(executor types.Executor, audit types.AuditSink) *Area {
	return &Area{
		executor: executor,
		audit:    audit,
		log:      logging.Get(logging.CategoryStaging),
		entries:  make(map[string]Entry),
	}
}

// StageProposal stages an accepted payload under the submitting actor's
// identity. A decision other than PASS is refused with staged=false and a
// warning; nothing is inserted. Staging the same id again replaces the
// previous entry, since an id denotes one proposal's current accepted state.
func (a *Area) StageProposal(id, actorID string, payload types.MutationPayload, decision types.DecisionEnvelope) (hash string, staged bool) {
	if decision.Status != types.DecisionPass {
		a.log.Warn("refusing to stage %s: decision status %s", id, decision.Status)
		a.audit.Warning("STAGING_REFUSED", map[string]any{"proposalId": id, "status": string(decision.Status)})
		return "", false
	}

	h, err := hashing.Hash(payload)
	if err != nil {
		a.log.Warn("refusing to stage %s: payload not hashable: %v", id, err)
		a.audit.Warning("STAGING_REFUSED", map[string]any{"proposalId": id, "reason": err.Error()})
		return "", false
	}

	entry := Entry{
		ProposalID: id,
		ActorID:    actorID,
		Payload:    payload,
		Decision:   decision,
		Hash:       h,
		Timestamp:  time.Now().UnixMilli(),
	}

	a.mu.Lock()
	_, replacing := a.entries[id]
	a.entries[id] = entry
	a.mu.Unlock()

	if replacing {
		a.log.Warn("restaged %s, previous entry replaced", id)
		a.audit.Warning("STAGING_REPLACED", map[string]any{"proposalId": id, "hash": h})
	} else {
		a.audit.Event("STAGING_STAGED", map[string]any{"proposalId": id, "hash": h})
	}
	return h, true
}

// CommitAndExecute re-verifies the staged payload and hands it to the
// executor, returning the entry that was actually executed. Callers must use
// the returned entry for any follow-on recording: the entry under an id can
// be replaced between their own lookup and this call. On success the entry is
// evicted, so a second commit for the same id fails with ErrNotStaged. On
// integrity mismatch or execution failure the entry remains staged.
//
// The call blocks for the duration of the executor; callers wanting a bound
// wrap ctx with a timeout, and a timeout is treated exactly like an executor
// failure.
func (a *Area) CommitAndExecute(ctx context.Context, id string) (Entry, error) {
	a.mu.Lock()
	entry, ok := a.entries[id]
	a.mu.Unlock()
	if !ok {
		a.log.Error("commit for unknown proposal %s", id)
		a.audit.Error("STAGING_NOT_STAGED", map[string]any{"proposalId": id})
		return Entry{}, fmt.Errorf("%w: %s", ErrNotStaged, id)
	}

	recomputed, err := hashing.Hash(entry.Payload)
	if err != nil || recomputed != entry.Hash {
		a.log.Error("integrity violation for %s: staged=%s recomputed=%s err=%v", id, entry.Hash, recomputed, err)
		a.audit.Fatal("STAGING_INTEGRITY", map[string]any{
			"proposalId": id,
			"hash":       entry.Hash,
			"recomputed": recomputed,
		})
		return Entry{}, fmt.Errorf("%w: proposal %s mutated after staging", ErrIntegrity, id)
	}

	success, execErr := a.executor.ExecuteMutation(ctx, entry.Payload)
	if execErr != nil || !success {
		a.log.Error("execution failed for %s: success=%v err=%v", id, success, execErr)
		a.audit.Error("STAGING_EXEC_FAILED", map[string]any{"proposalId": id, "hash": entry.Hash})
		if execErr != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrExecution, execErr)
		}
		return Entry{}, fmt.Errorf("%w: executor declined", ErrExecution)
	}

	a.mu.Lock()
	// Evict only the entry that executed; a replacement staged during
	// execution has not run and stays staged.
	if cur, ok := a.entries[id]; ok && cur.Hash == entry.Hash {
		delete(a.entries, id)
	}
	a.mu.Unlock()

	a.log.Info("committed %s hash=%s", id, entry.Hash)
	a.audit.Event("STAGING_EVICTED", map[string]any{"proposalId": id, "hash": entry.Hash})
	return entry, nil
}

// Entry returns the staged entry for an id.
func (a *Area) Entry(id string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[id]
	return entry, ok
}

// Has reports whether an id is currently staged.
func (a *Area) Has(id string) bool {
	_, ok := a.Entry(id)
	return ok
}

// Len returns the number of staged entries.
func (a *Area) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
