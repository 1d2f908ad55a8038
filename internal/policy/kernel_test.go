package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"archon/internal/remediate"
	"archon/internal/types"
)

type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}

func testOptions() Options {
	return Options{
		Thresholds: map[types.MutationClass]float64{
			types.ClassOrdinary:   0.70,
			types.ClassRetirement: 0.85,
			types.ClassEmergency:  0.95,
		},
		Remediation: remediate.DefaultPolicy(),
	}
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := NewKernel(testOptions(), nopAudit{})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return k
}

func proposal(id, actor string, touches ...string) types.Proposal {
	return types.Proposal{ID: id, ActorID: actor, Class: types.ClassOrdinary, Touches: touches}
}

func TestRequiredThreshold(t *testing.T) {
	k := newTestKernel(t)

	if got := k.RequiredThreshold(types.ClassOrdinary); got != 0.70 {
		t.Errorf("ordinary threshold = %v, want 0.70", got)
	}
	if got := k.RequiredThreshold(types.ClassEmergency); got != 0.95 {
		t.Errorf("emergency threshold = %v, want 0.95", got)
	}
	// Unknown classes never get an easier bar than any known class.
	if got := k.RequiredThreshold(types.MutationClass("mystery")); got != 0.95 {
		t.Errorf("unknown class threshold = %v, want strictest 0.95", got)
	}
}

func TestNoVetoWithoutPolicyFacts(t *testing.T) {
	k := newTestKernel(t)

	vetoed, source := k.GlobalVetoSignal(proposal("p1", "actor", "scheduler"))
	if vetoed {
		t.Errorf("vetoed with no policy facts, source %q", source)
	}
}

func TestProtectedSubsystemVeto(t *testing.T) {
	k := newTestKernel(t)
	if err := k.ProtectSubsystem("kernel_core"); err != nil {
		t.Fatalf("ProtectSubsystem: %v", err)
	}

	vetoed, source := k.GlobalVetoSignal(proposal("p1", "actor", "scheduler", "kernel_core"))
	if !vetoed {
		t.Fatal("mutation touching protected subsystem not vetoed")
	}
	if source != "kernel_core" {
		t.Errorf("veto source = %q, want kernel_core", source)
	}

	// A proposal not touching it stays clear.
	if vetoed, _ := k.GlobalVetoSignal(proposal("p2", "actor", "scheduler")); vetoed {
		t.Error("unrelated proposal vetoed")
	}
}

func TestFlaggedActorVeto(t *testing.T) {
	k := newTestKernel(t)
	if err := k.FlagActor("rogue", "credential_abuse"); err != nil {
		t.Fatalf("FlagActor: %v", err)
	}

	vetoed, source := k.GlobalVetoSignal(proposal("p1", "rogue"))
	if !vetoed {
		t.Fatal("flagged actor not vetoed")
	}
	if source != "credential_abuse" {
		t.Errorf("veto source = %q, want the flag reason", source)
	}

	if vetoed, _ := k.GlobalVetoSignal(proposal("p2", "upstanding")); vetoed {
		t.Error("unflagged actor vetoed")
	}
}

func TestVetoSourceIsDeterministic(t *testing.T) {
	k := newTestKernel(t)
	k.ProtectSubsystem("zeta_core")
	k.ProtectSubsystem("alpha_core")

	for i := 0; i < 10; i++ {
		_, source := k.GlobalVetoSignal(proposal("p1", "actor", "zeta_core", "alpha_core"))
		if source != "alpha_core" {
			t.Fatalf("iteration %d: source = %q, want stable alpha_core", i, source)
		}
	}
}

func TestCheckPolicy(t *testing.T) {
	k := newTestKernel(t)
	k.ProtectSubsystem("kernel_core")

	ok, err := k.CheckPolicy(proposal("p1", "actor", "kernel_core"), "protected_surface")
	if err != nil {
		t.Fatalf("CheckPolicy: %v", err)
	}
	if ok {
		t.Error("protected_surface check passed for a violating proposal")
	}

	ok, err = k.CheckPolicy(proposal("p2", "actor", "scheduler"), "protected_surface")
	if err != nil {
		t.Fatalf("CheckPolicy: %v", err)
	}
	if !ok {
		t.Error("protected_surface check failed for a clean proposal")
	}
}

func TestFactLimit(t *testing.T) {
	opts := testOptions()
	opts.FactLimit = 2
	k, err := NewKernel(opts, nopAudit{})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}

	if err := k.ProtectSubsystem("a"); err != nil {
		t.Fatal(err)
	}
	if err := k.ProtectSubsystem("b"); err != nil {
		t.Fatal(err)
	}
	if err := k.ProtectSubsystem("c"); err == nil {
		t.Error("fact limit not enforced")
	}

	k.ClearFacts()
	if err := k.ProtectSubsystem("c"); err != nil {
		t.Errorf("ProtectSubsystem after ClearFacts: %v", err)
	}
}

func TestExternalRulesLayering(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "site.mg")
	extra := "veto(Id, /maintenance_freeze) :- proposal(Id, Actor, Class).\n"
	if err := os.WriteFile(rules, []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.RulesPath = rules
	k, err := NewKernel(opts, nopAudit{})
	if err != nil {
		t.Fatalf("NewKernel with external rules: %v", err)
	}

	vetoed, source := k.GlobalVetoSignal(proposal("p1", "actor"))
	if !vetoed {
		t.Fatal("external freeze rule not applied")
	}
	if source != "maintenance_freeze" {
		t.Errorf("veto source = %q, want maintenance_freeze", source)
	}
}

func TestReloadKeepsLastGoodOnCompileError(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "site.mg")
	if err := os.WriteFile(rules, []byte("veto(Id, /freeze) :- proposal(Id, Actor, Class).\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.RulesPath = rules
	k, err := NewKernel(opts, nopAudit{})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}

	if err := os.WriteFile(rules, []byte("veto(Id :- broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := k.Reload(); err == nil {
		t.Fatal("Reload accepted a broken rules file")
	}

	// The previous snapshot still evaluates.
	if vetoed, _ := k.GlobalVetoSignal(proposal("p1", "actor")); !vetoed {
		t.Error("last good snapshot lost after failed reload")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "site.mg")
	if err := os.WriteFile(rules, []byte("# empty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.RulesPath = rules
	k, err := NewKernel(opts, nopAudit{})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}

	w, err := NewWatcher(k)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if vetoed, _ := k.GlobalVetoSignal(proposal("p1", "actor")); vetoed {
		t.Fatal("vetoed before rules change")
	}

	freeze := "veto(Id, /maintenance_freeze) :- proposal(Id, Actor, Class).\n"
	if err := os.WriteFile(rules, []byte(freeze), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if vetoed, _ := k.GlobalVetoSignal(proposal("p1", "actor")); vetoed {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("watcher did not reload rules within deadline")
}
