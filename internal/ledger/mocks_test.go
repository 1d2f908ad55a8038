package ledger

import "sync"

// memChainStore is an in-memory ChainStore with an optional failure hook.
type memChainStore struct {
	mu      sync.Mutex
	chain   []MutationRecord
	failOn  int // persist call number that fails (1-based), 0 = never
	calls   int
	persist error
}

func (m *memChainStore) LoadChainHistory() ([]MutationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MutationRecord, len(m.chain))
	copy(out, m.chain)
	return out, nil
}

func (m *memChainStore) PersistChain(records []MutationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn != 0 && m.calls >= m.failOn {
		return m.persist
	}
	m.chain = make([]MutationRecord, len(records))
	copy(m.chain, records)
	return nil
}

// nopAudit satisfies types.AuditSink and records nothing.
type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}
