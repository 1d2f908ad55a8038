package trust

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T, persist WeightStore, window time.Duration) *Store {
	t.Helper()
	s, err := NewStore(persist, nopAudit{}, testOptions(window))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestGetWeightDefaultsToInitialScore(t *testing.T) {
	s := newTestStore(t, &memWeightStore{}, time.Hour)

	if got := s.GetWeight("nobody"); got != 0.5 {
		t.Errorf("GetWeight(nobody) = %v, want 0.5", got)
	}
	// A default read must not materialize the actor.
	if len(s.Weights()) != 0 {
		t.Errorf("Weights() has %d entries after a default read", len(s.Weights()))
	}
}

func TestRecalculateWeightBlending(t *testing.T) {
	cases := []struct {
		name   string
		metric float64
		want   float64
	}{
		{"reward uses smoothing factor", 1.0, 0.575},
		{"penalty uses boosted alpha", 0.0, 0.325},
		{"equal metric is a fixpoint", 0.5, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t, &memWeightStore{}, time.Hour)
			got := s.RecalculateWeight("actor", tc.metric)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RecalculateWeight(0.5, %v) = %v, want %v", tc.metric, got, tc.want)
			}
		})
	}
}

func TestRecalculateWeightClampsMetric(t *testing.T) {
	s := newTestStore(t, &memWeightStore{}, time.Hour)

	high := s.RecalculateWeight("a", 7.5)
	if math.Abs(high-0.575) > 1e-9 {
		t.Errorf("metric 7.5 treated as %v, want clamp to 1.0 giving 0.575", high)
	}
	low := s.RecalculateWeight("b", -3)
	if math.Abs(low-0.325) > 1e-9 {
		t.Errorf("metric -3 treated as %v, want clamp to 0.0 giving 0.325", low)
	}
}

func TestRecalculateWeightRejectsNonFiniteMetric(t *testing.T) {
	s := newTestStore(t, &memWeightStore{}, time.Hour)

	for _, metric := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got := s.RecalculateWeight("actor", metric)
		if got != 0.5 {
			t.Errorf("RecalculateWeight(%v) = %v, want unchanged 0.5", metric, got)
		}
	}
	if w := s.GetWeight("actor"); math.IsNaN(w) || w != 0.5 {
		t.Errorf("stored weight %v after non-finite metrics, want 0.5", w)
	}
	// Rejected updates must not materialize the actor either.
	if n := len(s.Weights()); n != 0 {
		t.Errorf("Weights() has %d entries after rejected updates", n)
	}

	// A poisoned read stays poisoned; the guard is what prevents this.
	s.RecalculateWeight("actor", 1.0)
	if w := s.GetWeight("actor"); math.IsNaN(w) {
		t.Error("weight is NaN after a valid update following rejected ones")
	}
}

func TestRecalculateWeightRejectsEmptyActorID(t *testing.T) {
	s := newTestStore(t, &memWeightStore{}, time.Hour)

	if got := s.RecalculateWeight("", 1.0); got != 0.5 {
		t.Errorf("RecalculateWeight(\"\") = %v, want initial 0.5", got)
	}
	if n := len(s.Weights()); n != 0 {
		t.Errorf("empty actor id materialized %d entries", n)
	}
}

func TestRecalculateWeightResultStaysInRange(t *testing.T) {
	s := newTestStore(t, &memWeightStore{}, time.Hour)
	for i := 0; i < 50; i++ {
		w := s.RecalculateWeight("actor", 1.0)
		if w < 0 || w > 1 {
			t.Fatalf("weight %v escaped [0,1] at iteration %d", w, i)
		}
	}
	if final := s.GetWeight("actor"); final <= 0.99 {
		t.Errorf("weight converged to %v, want approach to 1.0", final)
	}
}

func TestSmallDeltaNotAudited(t *testing.T) {
	audit := &recordingAudit{}
	s, err := NewStore(&memWeightStore{}, audit, testOptions(time.Hour))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	// Metric equal to the current weight produces zero delta.
	s.RecalculateWeight("actor", 0.5)
	if n := audit.count("TRUST_WEIGHT_UPDATED"); n != 0 {
		t.Errorf("zero-delta update audited %d times", n)
	}

	s.RecalculateWeight("actor", 1.0)
	if n := audit.count("TRUST_WEIGHT_UPDATED"); n != 1 {
		t.Errorf("material update audited %d times, want 1", n)
	}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	persist := &memWeightStore{}
	s := newTestStore(t, persist, 40*time.Millisecond)

	for i := 0; i < 10; i++ {
		s.RecalculateWeight("actor", 1.0)
	}

	deadline := time.Now().Add(2 * time.Second)
	for persist.saveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := persist.saveCount(); got != 1 {
		t.Errorf("burst of 10 updates produced %d saves, want 1", got)
	}
	if _, ok := persist.savedWeight("actor"); !ok {
		t.Error("persisted snapshot missing updated actor")
	}
}

func TestDebounceNotStarvedBySustainedUpdates(t *testing.T) {
	persist := &memWeightStore{}
	s := newTestStore(t, persist, 50*time.Millisecond)

	// Updates arriving faster than the window must not postpone the write:
	// the armed window fires on schedule and later updates start a new one.
	stopAt := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(stopAt) {
		s.RecalculateWeight("actor", 1.0)
		time.Sleep(10 * time.Millisecond)
	}

	if persist.saveCount() == 0 {
		t.Error("no persistence during sustained updates spanning several windows")
	}
}

func TestCloseFlushesPendingSnapshot(t *testing.T) {
	persist := &memWeightStore{}
	s, err := NewStore(persist, nopAudit{}, testOptions(time.Hour))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	want := s.RecalculateWeight("actor", 1.0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, ok := persist.savedWeight("actor")
	if !ok {
		t.Fatal("Close did not persist the pending update")
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("persisted weight %v, want %v", got, want)
	}
}

func TestPersistFailureRetriesNextWindow(t *testing.T) {
	persist := &memWeightStore{failNext: 1}
	audit := &recordingAudit{}
	s, err := NewStore(persist, audit, testOptions(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	s.RecalculateWeight("actor", 1.0)

	deadline := time.Now().Add(2 * time.Second)
	for persist.saveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if persist.saveCount() == 0 {
		t.Fatal("snapshot never persisted after a transient failure")
	}
	if audit.count("TRUST_PERSIST_FAILED") == 0 {
		t.Error("persist failure not audited")
	}
}

func TestFlushPersistsImmediately(t *testing.T) {
	persist := &memWeightStore{}
	s := newTestStore(t, persist, time.Hour)

	s.RecalculateWeight("actor", 1.0)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if persist.saveCount() == 0 {
		t.Error("Flush did not persist")
	}
}

func TestFileWeightStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	fs := NewFileWeightStore(path)

	// Missing file is an empty map, not an error.
	weights, err := fs.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(weights) != 0 {
		t.Errorf("missing file loaded %d entries", len(weights))
	}

	want := map[string]float64{"alpha": 0.62, "beta": 0.31}
	if err := fs.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("reloaded %s = %v, want %v", k, got[k], v)
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
}

func TestFileWeightStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileWeightStore(path).Load(); err == nil {
		t.Error("Load accepted corrupt weights file")
	}
}
