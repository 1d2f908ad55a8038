// Package policy is the datalog governance kernel. Veto and policy-check
// decisions are derived by Mangle rules over facts describing the proposal
// and the durable policy state, so the veto logic itself stays declarative
// and hot-reloadable.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"archon/internal/logging"
	"archon/internal/remediate"
	"archon/internal/types"
)

//go:embed governance.mg
var baseRules string

// Options configures the kernel.
type Options struct {
	Thresholds  map[types.MutationClass]float64
	Remediation remediate.Policy

	// RulesPath optionally points at an external .mg file layered over the
	// built-in rules. Reload and Watch re-read it.
	RulesPath string

	// FactLimit caps durable policy facts. Zero means unlimited.
	FactLimit int
}

// Kernel implements threshold lookup, veto derivation and named policy
// checks. The compiled rule program is an immutable snapshot; Reload swaps
// the snapshot atomically so in-flight evaluations keep the program they
// started with.
type Kernel struct {
	opts  Options
	audit types.AuditSink
	log   *logging.Logger

	mu        sync.RWMutex
	program   *analysis.ProgramInfo
	baseFacts []ast.Atom
}

// NewKernel compiles the built-in rules plus any external rules file.
func NewKernel(opts Options, audit types.AuditSink) (*Kernel, error) {
	k := &Kernel{
		opts:  opts,
		audit: audit,
		log:   logging.Get(logging.CategoryPolicy),
	}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// Reload recompiles the rule program from the embedded rules and the
// external rules file, if configured. On compile failure the previous
// snapshot stays active.
func (k *Kernel) Reload() error {
	source := baseRules
	if k.opts.RulesPath != "" {
		extra, err := os.ReadFile(k.opts.RulesPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading policy rules %s: %w", k.opts.RulesPath, err)
		}
		source += "\n" + string(extra)
	}

	unit, err := parse.Unit(strings.NewReader(source))
	if err != nil {
		return fmt.Errorf("parsing policy rules: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("analyzing policy rules: %w", err)
	}

	k.mu.Lock()
	k.program = program
	k.mu.Unlock()

	k.log.Info("policy rules loaded")
	return nil
}

// RequiredThreshold returns the pass threshold for a mutation class. An
// unknown class gets the strictest configured threshold, never a free pass.
func (k *Kernel) RequiredThreshold(class types.MutationClass) float64 {
	if t, ok := k.opts.Thresholds[class]; ok {
		return t
	}
	strictest := 0.0
	for _, t := range k.opts.Thresholds {
		if t > strictest {
			strictest = t
		}
	}
	if strictest == 0 {
		strictest = 1.0
	}
	k.log.Warn("no threshold for class %q, using strictest %.2f", class, strictest)
	return strictest
}

// RemediationPolicy returns the declarative remediation parameters.
func (k *Kernel) RemediationPolicy() remediate.Policy {
	return k.opts.Remediation
}

// ProtectSubsystem asserts a durable protected_subsystem fact. Mutations
// touching a protected subsystem are vetoed.
func (k *Kernel) ProtectSubsystem(subsystem string) error {
	return k.addBaseFact(ast.NewAtom("protected_subsystem", ast.String(subsystem)))
}

// FlagActor asserts a durable flagged_actor fact vetoing everything the
// actor submits until the flag is lifted.
func (k *Kernel) FlagActor(actorID, reason string) error {
	return k.addBaseFact(ast.NewAtom("flagged_actor", ast.String(actorID), ast.String(reason)))
}

// ClearFacts drops all durable policy facts.
func (k *Kernel) ClearFacts() {
	k.mu.Lock()
	k.baseFacts = nil
	k.mu.Unlock()
}

func (k *Kernel) addBaseFact(atom ast.Atom) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.opts.FactLimit > 0 && len(k.baseFacts) >= k.opts.FactLimit {
		return fmt.Errorf("policy fact limit %d exceeded", k.opts.FactLimit)
	}
	k.baseFacts = append(k.baseFacts, atom)
	return nil
}

// GlobalVetoSignal evaluates the veto rules against a proposal. When several
// veto facts derive, the lexicographically smallest source is reported so
// the signal is deterministic.
func (k *Kernel) GlobalVetoSignal(p types.Proposal) (bool, string) {
	sources, err := k.derive(p, "veto")
	if err != nil {
		// A kernel that cannot evaluate fails closed.
		k.log.Error("veto evaluation failed for %s: %v", p.ID, err)
		k.audit.Error("POLICY_EVAL_FAILED", map[string]any{"proposalId": p.ID, "error": err.Error()})
		return true, "policy_kernel_unavailable"
	}
	if len(sources) == 0 {
		return false, ""
	}
	return true, sources[0]
}

// CheckPolicy reports whether a proposal satisfies a named policy. The
// policy name matches the second argument of derived policy_violation facts.
func (k *Kernel) CheckPolicy(p types.Proposal, policyName string) (bool, error) {
	violations, err := k.derive(p, "policy_violation")
	if err != nil {
		return false, err
	}
	for _, v := range violations {
		if v == policyName {
			return false, nil
		}
	}
	return true, nil
}

// derive evaluates the rule program over the proposal's facts plus the
// durable base facts and returns the second argument of every derived fact
// of the given binary predicate whose first argument is the proposal id.
func (k *Kernel) derive(p types.Proposal, predicate string) ([]string, error) {
	k.mu.RLock()
	program := k.program
	facts := make([]ast.Atom, len(k.baseFacts))
	copy(facts, k.baseFacts)
	k.mu.RUnlock()

	if program == nil {
		return nil, fmt.Errorf("no policy rules loaded")
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range facts {
		store.Add(f)
	}
	store.Add(ast.NewAtom("proposal", ast.String(p.ID), ast.String(p.ActorID), ast.String(string(p.Class))))
	for _, subsystem := range p.Touches {
		store.Add(ast.NewAtom("touches", ast.String(p.ID), ast.String(subsystem)))
	}

	if _, err := mengine.EvalProgramWithStats(program, store); err != nil {
		return nil, fmt.Errorf("evaluating policy rules: %w", err)
	}

	var out []string
	sym := ast.PredicateSym{Symbol: predicate, Arity: 2}
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) != 2 {
			return nil
		}
		if constantString(atom.Args[0]) != p.ID {
			return nil
		}
		out = append(out, constantString(atom.Args[1]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// constantString renders a Mangle constant as a plain string. Name constants
// drop their leading slash.
func constantString(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return term.String()
	}
	switch c.Type {
	case ast.NameType:
		return strings.TrimPrefix(c.Symbol, "/")
	case ast.StringType:
		return c.Symbol
	default:
		return c.String()
	}
}
