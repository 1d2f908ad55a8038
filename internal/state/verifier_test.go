package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"archon/internal/hashing"
)

func testResolver(active *ActiveContext) *Resolver {
	return NewResolver(CodeConfigPair{
		Config: stubConfigHash{hash: "cfg-hash"},
		Code:   stubCodeHash{hash: "code-hash"},
	}, active)
}

func TestResolveContext_ExplicitID(t *testing.T) {
	resolver := testResolver(&ActiveContext{})
	got, err := resolver.ResolveContext(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ResolveContext error: %v", err)
	}
	want := Context{ConfigHash: "cfg-hash", CodeHash: "code-hash", ProposalID: "p1"}
	if got != want {
		t.Errorf("ResolveContext = %+v, want %+v", got, want)
	}
}

func TestResolveContext_FallsBackToActive(t *testing.T) {
	active := &ActiveContext{}
	active.Set("p-active")
	resolver := testResolver(active)

	got, err := resolver.ResolveContext(context.Background(), "")
	if err != nil {
		t.Fatalf("ResolveContext error: %v", err)
	}
	if got.ProposalID != "p-active" {
		t.Errorf("ProposalID = %q, want p-active", got.ProposalID)
	}
}

func TestResolveContext_NoProposalIsHardStop(t *testing.T) {
	resolver := testResolver(&ActiveContext{})
	if _, err := resolver.ResolveContext(context.Background(), ""); !errors.Is(err, ErrContextResolution) {
		t.Errorf("err = %v, want ErrContextResolution", err)
	}
}

func TestResolveContext_ProviderFailure(t *testing.T) {
	resolver := NewResolver(CodeConfigPair{
		Config: stubConfigHash{err: errors.New("config unavailable")},
		Code:   stubCodeHash{hash: "code-hash"},
	}, &ActiveContext{})

	if _, err := resolver.ResolveContext(context.Background(), "p1"); !errors.Is(err, ErrContextResolution) {
		t.Errorf("err = %v, want ErrContextResolution", err)
	}
}

func TestComputeStateHash(t *testing.T) {
	c := Context{ConfigHash: "c1", CodeHash: "c2", ProposalID: "p1"}
	want := hashing.HashString("c1:c2:p1")
	if got := ComputeStateHash(c); got != want {
		t.Errorf("ComputeStateHash = %s, want %s", got, want)
	}
}

func TestVerifyAndLockState_LocksOnce(t *testing.T) {
	registry := newStubRegistry()
	snaps := NewMemorySnapshotStore()
	v := NewVerifier(testResolver(&ActiveContext{}), snaps, registry, nopAudit{})

	hash, err := v.VerifyAndLockState(context.Background(), "p1")
	if err != nil {
		t.Fatalf("VerifyAndLockState error: %v", err)
	}
	if !hashing.IsHash(hash) {
		t.Fatalf("returned non-hash %q", hash)
	}

	locked, ok := registry.StateReferenceFor("p1")
	if !ok || locked != hash {
		t.Errorf("ledger reference = (%s, %v), want (%s, true)", locked, ok, hash)
	}
	snap, ok, _ := snaps.Get("p1")
	if !ok {
		t.Fatal("snapshot not persisted")
	}
	if snap.SystemStateHash != hash || snap.ConfigHash != "cfg-hash" || snap.CodebaseHash != "code-hash" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestVerifyAndLockState_SecondCallIsNoOp(t *testing.T) {
	registry := newStubRegistry()
	snaps := NewMemorySnapshotStore()
	v := NewVerifier(testResolver(&ActiveContext{}), snaps, registry, nopAudit{})

	first, err := v.VerifyAndLockState(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	before, _, _ := snaps.Get("p1")

	second, err := v.VerifyAndLockState(context.Background(), "p1")
	if err != nil {
		t.Fatalf("second lock error: %v", err)
	}
	if second != first {
		t.Errorf("second lock returned %s, want %s", second, first)
	}
	after, _, _ := snaps.Get("p1")
	if before != after {
		t.Errorf("snapshot changed on duplicate lock: %+v -> %+v", before, after)
	}
}

func TestVerifyAndLockState_ResolutionFailureAborts(t *testing.T) {
	registry := newStubRegistry()
	v := NewVerifier(NewResolver(CodeConfigPair{
		Config: stubConfigHash{err: errors.New("down")},
		Code:   stubCodeHash{hash: "x"},
	}, &ActiveContext{}), NewMemorySnapshotStore(), registry, nopAudit{})

	if _, err := v.VerifyAndLockState(context.Background(), "p1"); !errors.Is(err, ErrStateLock) {
		t.Errorf("err = %v, want ErrStateLock", err)
	}
	if _, ok := registry.StateReferenceFor("p1"); ok {
		t.Error("ledger reference left behind after failed resolution")
	}
}

func TestVerifyAndLockState_SnapshotFailureCompensatesLedger(t *testing.T) {
	registry := newStubRegistry()
	snaps := failingSnapshotStore{err: errors.New("disk full")}
	v := NewVerifier(testResolver(&ActiveContext{}), snaps, registry, nopAudit{})

	if _, err := v.VerifyAndLockState(context.Background(), "p1"); !errors.Is(err, ErrStateLock) {
		t.Fatalf("err = %v, want ErrStateLock", err)
	}
	if _, ok := registry.StateReferenceFor("p1"); ok {
		t.Error("ledger reference not compensated after snapshot failure")
	}
}

func TestVerifyAndLockState_RegistrationFailureLeavesNoSnapshot(t *testing.T) {
	registry := newStubRegistry()
	registry.register = errors.New("conflict")
	snaps := NewMemorySnapshotStore()
	v := NewVerifier(testResolver(&ActiveContext{}), snaps, registry, nopAudit{})

	if _, err := v.VerifyAndLockState(context.Background(), "p1"); !errors.Is(err, ErrStateLock) {
		t.Fatalf("err = %v, want ErrStateLock", err)
	}
	if _, ok, _ := snaps.Get("p1"); ok {
		t.Error("snapshot persisted despite ledger registration failure")
	}
}

func TestValidateCurrentState_MatchAndMismatch(t *testing.T) {
	active := &ActiveContext{}
	active.Set("p1")
	registry := newStubRegistry()
	v := NewVerifier(testResolver(active), NewMemorySnapshotStore(), registry, nopAudit{})

	live := ComputeStateHash(Context{ConfigHash: "cfg-hash", CodeHash: "code-hash", ProposalID: "p1"})

	ok, err := v.ValidateCurrentStateAgainstHash(context.Background(), live)
	if err != nil || !ok {
		t.Errorf("matching validate = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = v.ValidateCurrentStateAgainstHash(context.Background(), hashing.HashString("drifted"))
	if err != nil {
		t.Fatalf("mismatch must not error: %v", err)
	}
	if ok {
		t.Error("mismatched hash validated as true")
	}
}

func TestValidateCurrentState_EmptyExpectedUsesLedger(t *testing.T) {
	active := &ActiveContext{}
	active.Set("p1")
	registry := newStubRegistry()
	v := NewVerifier(testResolver(active), NewMemorySnapshotStore(), registry, nopAudit{})

	// No locked reference: fails closed without error.
	ok, err := v.ValidateCurrentStateAgainstHash(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("validation passed with no locked reference")
	}

	live := ComputeStateHash(Context{ConfigHash: "cfg-hash", CodeHash: "code-hash", ProposalID: "p1"})
	if err := registry.RegisterStateReference("p1", live); err != nil {
		t.Fatal(err)
	}
	ok, err = v.ValidateCurrentStateAgainstHash(context.Background(), "")
	if err != nil || !ok {
		t.Errorf("validate against ledger = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestValidateCurrentState_NoActiveProposalErrors(t *testing.T) {
	v := NewVerifier(testResolver(&ActiveContext{}), NewMemorySnapshotStore(), newStubRegistry(), nopAudit{})
	if _, err := v.ValidateCurrentStateAgainstHash(context.Background(), ""); !errors.Is(err, ErrContextResolution) {
		t.Errorf("err = %v, want ErrContextResolution", err)
	}
}

func TestFileSnapshotStore_WriteOnceAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	store, err := NewFileSnapshotStore(path)
	if err != nil {
		t.Fatal(err)
	}

	snap := StateSnapshot{ProposalID: "p1", SystemStateHash: hashing.HashString("s"), Timestamp: 1}
	if err := store.Save("p1", snap); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Save("p1", snap); !errors.Is(err, ErrSnapshotExists) {
		t.Errorf("duplicate Save err = %v, want ErrSnapshotExists", err)
	}

	reopened, err := NewFileSnapshotStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := reopened.Get("p1")
	if err != nil || !ok {
		t.Fatalf("Get after reload = (%v, %v)", ok, err)
	}
	if got != snap {
		t.Errorf("reloaded snapshot = %+v, want %+v", got, snap)
	}
}
