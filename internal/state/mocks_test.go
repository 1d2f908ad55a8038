package state

import (
	"context"
	"sync"
)

type stubConfigHash struct {
	hash string
	err  error
}

func (s stubConfigHash) ConfigHash(context.Context) (string, error) { return s.hash, s.err }

type stubCodeHash struct {
	hash string
	err  error
}

func (s stubCodeHash) CodebaseHash(context.Context) (string, error) { return s.hash, s.err }

// stubRegistry implements LedgerStateRegistry with optional save failure.
type stubRegistry struct {
	mu       sync.Mutex
	refs     map[string]string
	register error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{refs: make(map[string]string)}
}

func (r *stubRegistry) RegisterStateReference(proposalID, stateHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.register != nil {
		return r.register
	}
	r.refs[proposalID] = stateHash
	return nil
}

func (r *stubRegistry) StateReferenceFor(proposalID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.refs[proposalID]
	return h, ok
}

func (r *stubRegistry) ClearStateReference(proposalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refs, proposalID)
}

// failingSnapshotStore fails every Save.
type failingSnapshotStore struct {
	err error
}

func (f failingSnapshotStore) Save(string, StateSnapshot) error { return f.err }
func (f failingSnapshotStore) Get(string) (StateSnapshot, bool, error) {
	return StateSnapshot{}, false, nil
}

type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}
