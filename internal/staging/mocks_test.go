package staging

import (
	"context"
	"sync/atomic"

	"archon/internal/types"
)

// stubExecutor records calls and returns a scripted outcome.
type stubExecutor struct {
	calls   atomic.Int64
	success bool
	err     error
}

func (e *stubExecutor) ExecuteMutation(_ context.Context, _ types.MutationPayload) (bool, error) {
	e.calls.Add(1)
	return e.success, e.err
}

// funcExecutor delegates to a closure, for tests that need to act
// mid-execution.
type funcExecutor struct {
	fn func(context.Context, types.MutationPayload) (bool, error)
}

func (e *funcExecutor) ExecuteMutation(ctx context.Context, p types.MutationPayload) (bool, error) {
	return e.fn(ctx, p)
}

type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}

func passEnvelope() types.DecisionEnvelope {
	return types.DecisionEnvelope{Status: types.DecisionPass, Score: 0.9, Threshold: 0.7}
}

func failEnvelope() types.DecisionEnvelope {
	return types.DecisionEnvelope{Status: types.DecisionFail, Score: 0.3, Threshold: 0.7}
}

func testPayload() types.MutationPayload {
	return types.MutationPayload{
		Signature: "actor-1",
		VersionID: "v1",
		Manifest:  map[string]any{"target": "scheduler", "change": "rebalance"},
	}
}
