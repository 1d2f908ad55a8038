package governance

import (
	"context"
	"sync"

	"archon/internal/ledger"
	"archon/internal/types"
)

// ===== STATE PROVIDERS =====

type stubConfigHash struct{ hash string }

func (s stubConfigHash) ConfigHash(context.Context) (string, error) { return s.hash, nil }

type stubCodeHash struct{ hash string }

func (s stubCodeHash) CodebaseHash(context.Context) (string, error) { return s.hash, nil }

// ===== POLICY =====

type stubPolicy struct {
	thresholds map[types.MutationClass]float64
	vetoed     bool
	vetoSource string
}

func (s *stubPolicy) RequiredThreshold(class types.MutationClass) float64 {
	return s.thresholds[class]
}

func (s *stubPolicy) GlobalVetoSignal(types.Proposal) (bool, string) {
	return s.vetoed, s.vetoSource
}

// ===== PERSISTENCE =====

type memChainStore struct {
	mu      sync.Mutex
	records []ledger.MutationRecord
}

func (m *memChainStore) LoadChainHistory() ([]ledger.MutationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.MutationRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memChainStore) PersistChain(records []ledger.MutationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make([]ledger.MutationRecord, len(records))
	copy(m.records, records)
	return nil
}

type memWeightStore struct {
	mu    sync.Mutex
	saved map[string]float64
}

func (m *memWeightStore) Load() (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memWeightStore) Save(weights map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[string]float64, len(weights))
	for k, v := range weights {
		m.saved[k] = v
	}
	return nil
}

// ===== EXECUTOR =====

type scriptedExecutor struct {
	mu      sync.Mutex
	calls   int
	success bool
	err     error
}

func (e *scriptedExecutor) ExecuteMutation(context.Context, types.MutationPayload) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.success, e.err
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ===== AUDIT =====

type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}
