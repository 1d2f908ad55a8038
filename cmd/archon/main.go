// Command archon runs the governance mutation pipeline against a workspace.
// All behavior lives in the internal packages; this binary is bootstrap,
// argument parsing and output formatting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"archon/internal/adjudicate"
	"archon/internal/config"
	"archon/internal/executor"
	"archon/internal/governance"
	"archon/internal/ledger"
	"archon/internal/logging"
	"archon/internal/policy"
	"archon/internal/remediate"
	"archon/internal/staging"
	"archon/internal/state"
	"archon/internal/store"
	"archon/internal/trust"
	"archon/internal/types"
)

var (
	workspace     string
	verbose       bool
	contributions []string
	stageOnly     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archon",
	Short: "Governance mutation commit pipeline",
	Long: `archon governs architectural mutations: proposals are scored by
trust calculus, staged immutably, executed against a locked state hash and
chained into a tamper-evident ledger. Failures come back as remediation
mandates instead of silence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving workspace: %w", err)
			}
		}
		logging.Initialize(workspace, verbose)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			logger.Sync()
		}
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <proposal.json>",
	Short: "Adjudicate a proposal and, unless --stage-only, commit it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var commitCmd = &cobra.Command{
	Use:   "commit <proposal.json>",
	Short: "Run the full pipeline for a proposal: adjudicate, stage, lock state, execute, chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stageOnly = false
		return runSubmit(cmd, args)
	},
}

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Re-verify hash linkage of the full mutation ledger",
	RunE:  runVerifyChain,
}

var weightsCmd = &cobra.Command{
	Use:   "weights [actor]",
	Short: "Show trust weights, optionally for one actor",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWeights,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize chain length, staged proposals and tracked actors",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	submitCmd.Flags().StringArrayVar(&contributions, "contribution", nil, "Extra metric contribution as name=value (repeatable)")
	submitCmd.Flags().BoolVar(&stageOnly, "stage-only", false, "Stop after adjudication and staging")
	commitCmd.Flags().StringArrayVar(&contributions, "contribution", nil, "Extra metric contribution as name=value (repeatable)")

	rootCmd.AddCommand(submitCmd, commitCmd, verifyChainCmd, weightsCmd, statusCmd)
}

// runtime holds everything a command needs, torn down in reverse order.
type runtime struct {
	cfg      *config.Config
	pipeline *governance.Pipeline
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
}

func bootstrap() (*runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	audit, err := logging.OpenAudit()
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	rt.closers = append(rt.closers, audit.Close)

	var (
		chainStore   ledger.ChainStore
		snapshots    state.SnapshotStore
		weightsStore trust.WeightStore
	)
	switch cfg.Stores.Backend {
	case "sqlite":
		local, err := store.NewLocalStore(cfg.Stores.DatabasePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, local.Close)
		chainStore = local
		snapshots = local.Snapshots()
		weightsStore = local.Weights()
	case "file":
		chainStore, err = ledger.NewFileChainStore(cfg.Stores.LedgerPath)
		if err != nil {
			return nil, err
		}
		snapshots, err = state.NewFileSnapshotStore(cfg.Stores.SnapshotPath)
		if err != nil {
			return nil, err
		}
		weightsStore = trust.NewFileWeightStore(cfg.Stores.WeightsPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Stores.Backend)
	}

	led, err := ledger.New(chainStore, audit)
	if err != nil {
		return nil, err
	}

	weights, err := trust.NewStore(weightsStore, audit, trust.Options{
		InitialScore:    cfg.Trust.InitialScore,
		SmoothingFactor: cfg.Trust.SmoothingFactor,
		PenaltyBoost:    cfg.Trust.PenaltyBoost,
		AuditEpsilon:    cfg.Trust.AuditEpsilon,
		DebounceWindow:  cfg.Trust.DebounceWindow,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, weights.Close)

	remediationPolicy, err := remediate.LoadPolicy(cfg.Remediation.PolicyMapPath)
	if err != nil {
		return nil, err
	}

	kernel, err := policy.NewKernel(policy.Options{
		Thresholds: map[types.MutationClass]float64{
			types.ClassOrdinary:   cfg.Thresholds.Ordinary,
			types.ClassRetirement: cfg.Thresholds.Retirement,
			types.ClassEmergency:  cfg.Thresholds.Emergency,
		},
		Remediation: remediationPolicy,
		RulesPath:   filepath.Join(workspace, ".archon", "policy.mg"),
		FactLimit:   cfg.Policy.FactLimit,
	}, audit)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.WatchPolicy {
		watcher, err := policy.NewWatcher(kernel)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, watcher.Close)
	}

	var exec types.Executor
	switch cfg.Executor.Mode {
	case "sandbox":
		exec = executor.NewSandboxExecutor()
	default:
		exec = executor.NewRecordingExecutor()
	}

	active := &state.ActiveContext{}
	resolver := state.NewResolver(state.CodeConfigPair{
		Config: state.FileConfigHash{Path: filepath.Join(workspace, ".archon", "config.yaml")},
		Code:   state.TreeCodeHash{Root: workspace},
	}, active)

	rt.pipeline = governance.NewPipeline(governance.Deps{
		Adjudicator: adjudicate.New(kernel, audit),
		Staging:     staging.NewArea(exec, audit),
		Verifier:    state.NewVerifier(resolver, snapshots, led, audit),
		Active:      active,
		Ledger:      led,
		Trust:       weights,
		Remediation: remediate.NewEngine(remediationPolicy, nil, audit),
		Audit:       audit,
	})
	return rt, nil
}

func loadProposal(path string) (types.Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("reading proposal: %w", err)
	}
	var p types.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return types.Proposal{}, fmt.Errorf("parsing proposal: %w", err)
	}
	if p.Class == "" {
		p.Class = types.ClassOrdinary
	}
	if p.Submitted.IsZero() {
		p.Submitted = time.Now()
	}
	return p, nil
}

func parseContributions(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("contribution %q is not name=value", pair)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("contribution %q: %w", pair, err)
		}
		out[name] = f
	}
	return out, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	proposal, err := loadProposal(args[0])
	if err != nil {
		return err
	}
	extra, err := parseContributions(contributions)
	if err != nil {
		return err
	}

	result, err := rt.pipeline.SubmitProposal(proposal, extra)
	if err != nil {
		return err
	}

	fmt.Printf("decision: %s (score %.3f, threshold %.3f)\n", result.Envelope.Status, result.Envelope.Score, result.Envelope.Threshold)
	if result.Envelope.Vetoed {
		fmt.Printf("vetoed by: %s\n", result.Envelope.VetoSource)
	}
	if !result.Staged {
		printMandate(result.Mandate)
		return fmt.Errorf("proposal %s rejected", proposal.ID)
	}
	fmt.Printf("staged: %s\n", result.StagedHash)
	if stageOnly {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.Executor.Timeout)
	defer cancel()
	commit, err := rt.pipeline.CommitProposal(ctx, proposal.ID)
	if err != nil {
		return err
	}
	if !commit.Committed {
		printMandate(commit.Mandate)
		return fmt.Errorf("proposal %s failed to commit", proposal.ID)
	}
	fmt.Printf("committed: %s\nstate hash: %s\n", commit.SelfHash, commit.LockedStateHash)
	return nil
}

func printMandate(m *remediate.Mandate) {
	if m == nil {
		return
	}
	fmt.Printf("remediation mandate (new threshold target %.3f):\n", m.NewThresholdTarget)
	for _, a := range m.RequiredActions {
		line := "  - " + string(a.Type)
		if a.Target != "" {
			line += " [" + a.Target + "]"
		}
		if a.CoverageDelta > 0 {
			line += fmt.Sprintf(" +%d%%", a.CoverageDelta)
		}
		fmt.Println(line + ": " + a.Description)
	}
}

func runVerifyChain(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.pipeline.VerifyChain(); err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}
	status := rt.pipeline.Status()
	fmt.Printf("chain verified: %d records, head %s\n", status.ChainLength, status.LatestChainHash)
	return nil
}

func runWeights(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	weights := rt.pipeline.Weights()
	if len(args) == 1 {
		actor := args[0]
		if w, ok := weights[actor]; ok {
			fmt.Printf("%s\t%.4f\n", actor, w)
		} else {
			fmt.Printf("%s\t%.4f (no history)\n", actor, rt.cfg.Trust.InitialScore)
		}
		return nil
	}
	if len(weights) == 0 {
		fmt.Println("no tracked actors")
		return nil
	}
	actors := make([]string, 0, len(weights))
	for actor := range weights {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	for _, actor := range actors {
		fmt.Printf("%s\t%.4f\n", actor, weights[actor])
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := json.MarshalIndent(rt.pipeline.Status(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
