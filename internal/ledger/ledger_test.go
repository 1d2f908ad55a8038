package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"archon/internal/hashing"
	"archon/internal/types"
)

func validPayload(version string) types.MutationPayload {
	return types.MutationPayload{
		Signature: "sig",
		VersionID: version,
		Manifest:  map[string]any{"a": 1},
	}
}

func stateHash(t *testing.T, seed string) string {
	t.Helper()
	return hashing.HashString(seed)
}

func newTestLedger(t *testing.T) (*Ledger, *memChainStore) {
	t.Helper()
	store := &memChainStore{}
	l, err := New(store, nopAudit{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return l, store
}

func TestLatestChainHash_EmptyChainIsGenesis(t *testing.T) {
	l, _ := newTestLedger(t)
	if got := l.LatestChainHash(); got != hashing.GenesisHash {
		t.Errorf("LatestChainHash = %s, want genesis", got)
	}
}

func TestRegisterMutation_ChainLinkage(t *testing.T) {
	l, _ := newTestLedger(t)

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := l.RegisterMutation(validPayload(fmt.Sprintf("v%d", i)), stateHash(t, fmt.Sprintf("s%d", i))); err != nil {
			t.Fatalf("RegisterMutation %d error: %v", i, err)
		}
	}

	records := l.Records()
	if len(records) != n {
		t.Fatalf("got %d records, want %d", len(records), n)
	}
	if records[0].PreviousChainHash != hashing.GenesisHash {
		t.Errorf("record[0].PreviousChainHash = %s, want genesis", records[0].PreviousChainHash)
	}
	for i := 1; i < n; i++ {
		if records[i].PreviousChainHash != records[i-1].SelfHash {
			t.Errorf("record[%d] not linked: prev=%s, want %s", i, records[i].PreviousChainHash, records[i-1].SelfHash)
		}
	}
	if err := l.VerifyChain(); err != nil {
		t.Errorf("VerifyChain error: %v", err)
	}
}

func TestRegisterMutation_ArchitecturalHashIsManifestHash(t *testing.T) {
	l, _ := newTestLedger(t)
	payload := validPayload("v1")

	if _, err := l.RegisterMutation(payload, stateHash(t, "s")); err != nil {
		t.Fatalf("RegisterMutation error: %v", err)
	}

	want, err := hashing.Hash(payload.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	if got := l.Records()[0].ArchitecturalHash; got != want {
		t.Errorf("ArchitecturalHash = %s, want %s", got, want)
	}
}

func TestRegisterMutation_RejectsMalformedPayload(t *testing.T) {
	l, store := newTestLedger(t)

	cases := []types.MutationPayload{
		{VersionID: "v1", Manifest: map[string]any{}},
		{Signature: "sig", Manifest: map[string]any{}},
		{Signature: "sig", VersionID: "v1"},
	}
	for i, payload := range cases {
		if _, err := l.RegisterMutation(payload, stateHash(t, "s")); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
	if store.calls != 0 {
		t.Errorf("persist called %d times for invalid payloads, want 0", store.calls)
	}
	if l.Len() != 0 {
		t.Errorf("chain length = %d after rejections, want 0", l.Len())
	}
}

func TestRegisterMutation_RejectsMalformedStateHash(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.RegisterMutation(validPayload("v1"), "not-a-hash"); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestRegisterMutation_PersistFailurePoisonsLedger(t *testing.T) {
	store := &memChainStore{failOn: 1, persist: errors.New("disk gone")}
	l, err := New(store, nopAudit{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := l.RegisterMutation(validPayload("v1"), stateHash(t, "s")); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	// In-memory append rolled back.
	if l.Len() != 0 {
		t.Errorf("chain length = %d after failed persist, want 0", l.Len())
	}
	if l.LatestChainHash() != hashing.GenesisHash {
		t.Errorf("latest hash changed after failed persist")
	}
	// Further registrations refused even though the store recovered.
	store.mu.Lock()
	store.failOn = 0
	store.mu.Unlock()
	if _, err := l.RegisterMutation(validPayload("v2"), stateHash(t, "s2")); !errors.Is(err, ErrPersistence) {
		t.Errorf("poisoned ledger accepted a registration: %v", err)
	}
}

func TestRegisterMutation_ConcurrentCallsNeverInterleave(t *testing.T) {
	l, _ := newTestLedger(t)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := l.RegisterMutation(validPayload(fmt.Sprintf("v%d", i)), stateHash(t, fmt.Sprintf("s%d", i)))
			if err != nil {
				t.Errorf("RegisterMutation %d error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if l.Len() != n {
		t.Fatalf("chain length = %d, want %d", l.Len(), n)
	}
	if err := l.VerifyChain(); err != nil {
		t.Errorf("chain corrupted by concurrent registration: %v", err)
	}
}

func TestStateHashFor(t *testing.T) {
	l, _ := newTestLedger(t)
	want := stateHash(t, "s1")
	if _, err := l.RegisterMutation(validPayload("v1"), want); err != nil {
		t.Fatal(err)
	}
	id := l.Records()[0].MutationID

	got, ok := l.StateHashFor(id)
	if !ok || got != want {
		t.Errorf("StateHashFor(%s) = (%s, %v), want (%s, true)", id, got, ok, want)
	}
	if _, ok := l.StateHashFor("missing"); ok {
		t.Error("StateHashFor found a record for an unknown id")
	}
}

func TestVerifyRecords_DetectsTampering(t *testing.T) {
	l, _ := newTestLedger(t)
	for i := 0; i < 3; i++ {
		if _, err := l.RegisterMutation(validPayload(fmt.Sprintf("v%d", i)), stateHash(t, fmt.Sprintf("s%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	records := l.Records()
	records[1].ArchitecturalHash = hashing.HashString("tampered")

	err := VerifyRecords(records)
	if !errors.Is(err, ErrChainCorrupt) {
		t.Fatalf("err = %v, want ErrChainCorrupt", err)
	}
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err %T is not *CorruptionError", err)
	}
	if corrupt.Index != 1 {
		t.Errorf("corruption index = %d, want 1", corrupt.Index)
	}
}

func TestNew_RefusesCorruptHistory(t *testing.T) {
	store := &memChainStore{}
	l, err := New(store, nopAudit{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.RegisterMutation(validPayload("v1"), stateHash(t, "s")); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.chain[0].StateHash = hashing.HashString("other")
	store.mu.Unlock()

	if _, err := New(store, nopAudit{}); !errors.Is(err, ErrChainCorrupt) {
		t.Errorf("New on corrupt history: err = %v, want ErrChainCorrupt", err)
	}
}

func TestFileChainStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	store, err := NewFileChainStore(path)
	if err != nil {
		t.Fatal(err)
	}

	// Missing file is a fresh genesis chain.
	history, err := store.LoadChainHistory()
	if err != nil {
		t.Fatalf("LoadChainHistory error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("fresh store has %d records, want 0", len(history))
	}

	l, err := New(store, nopAudit{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.RegisterMutation(validPayload(fmt.Sprintf("v%d", i)), stateHash(t, fmt.Sprintf("s%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	// A new ledger over the same file sees the persisted chain.
	reopened, err := New(store, nopAudit{})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if reopened.Len() != 3 {
		t.Errorf("reopened chain length = %d, want 3", reopened.Len())
	}
	if reopened.LatestChainHash() != l.LatestChainHash() {
		t.Errorf("latest hash mismatch after reopen")
	}
}
