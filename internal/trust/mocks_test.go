package trust

import (
	"errors"
	"sync"
	"time"
)

// memWeightStore counts saves and can be scripted to fail the next N saves.
type memWeightStore struct {
	mu       sync.Mutex
	saved    map[string]float64
	saves    int
	failNext int
	loadErr  error
}

func (m *memWeightStore) Load() (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]float64, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memWeightStore) Save(weights map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("save rejected")
	}
	m.saves++
	m.saved = make(map[string]float64, len(weights))
	for k, v := range weights {
		m.saved[k] = v
	}
	return nil
}

func (m *memWeightStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memWeightStore) savedWeight(actor string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.saved[actor]
	return w, ok
}

type nopAudit struct{}

func (nopAudit) Event(string, map[string]any)   {}
func (nopAudit) Warning(string, map[string]any) {}
func (nopAudit) Error(string, map[string]any)   {}
func (nopAudit) Fatal(string, map[string]any)   {}

// recordingAudit captures event codes for epsilon checks.
type recordingAudit struct {
	mu    sync.Mutex
	codes []string
}

func (r *recordingAudit) record(code string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
}

func (r *recordingAudit) Event(code string, _ map[string]any)   { r.record(code) }
func (r *recordingAudit) Warning(code string, _ map[string]any) { r.record(code) }
func (r *recordingAudit) Error(code string, _ map[string]any)   { r.record(code) }
func (r *recordingAudit) Fatal(code string, _ map[string]any)   { r.record(code) }

func (r *recordingAudit) count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.codes {
		if c == code {
			n++
		}
	}
	return n
}

func testOptions(window time.Duration) Options {
	return Options{
		InitialScore:    0.5,
		SmoothingFactor: 0.15,
		PenaltyBoost:    0.35,
		AuditEpsilon:    0.001,
		DebounceWindow:  window,
	}
}
