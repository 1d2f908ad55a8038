// Package executor provides the mutation executors the commit path hands
// accepted payloads to. The recording executor applies nothing and records
// everything; the sandbox executor interprets the payload's patch program in
// a restricted Yaegi interpreter.
package executor

import (
	"context"
	"sync"

	"archon/internal/logging"
	"archon/internal/types"
)

// RecordingExecutor accepts every mutation and records what it was asked to
// execute. It is the default executor: the governance pipeline adjudicates,
// stages and chains mutations while the actual application of changes stays
// external.
type RecordingExecutor struct {
	mu       sync.Mutex
	executed []types.MutationPayload
	log      *logging.Logger
}

func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{log: logging.Get(logging.CategoryExecutor)}
}

func (r *RecordingExecutor) ExecuteMutation(ctx context.Context, payload types.MutationPayload) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	r.executed = append(r.executed, payload)
	r.mu.Unlock()
	r.log.Info("recorded mutation %s/%s", payload.Signature, payload.VersionID)
	return true, nil
}

// Executed returns the payloads recorded so far.
func (r *RecordingExecutor) Executed() []types.MutationPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.MutationPayload, len(r.executed))
	copy(out, r.executed)
	return out
}
