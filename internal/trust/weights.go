// Package trust maintains per-actor trust weights as exponential moving
// averages. Penalties are absorbed faster than rewards: a metric below the
// current weight is blended with a boosted alpha. Persistence is debounced
// through a single background worker so bursts of updates coalesce into one
// write.
package trust

import (
	"fmt"
	"math"
	"sync"
	"time"

	"archon/internal/logging"
	"archon/internal/types"
)

// WeightStore is the persistence backend for the weight map.
type WeightStore interface {
	Load() (map[string]float64, error)
	Save(map[string]float64) error
}

// Options tunes the EMA calculus and the persistence debounce.
type Options struct {
	InitialScore    float64
	SmoothingFactor float64
	PenaltyBoost    float64
	AuditEpsilon    float64
	DebounceWindow  time.Duration
}

// Store is the trust weight store. All weight reads and writes go through
// it; the backing WeightStore only ever sees coalesced snapshots.
type Store struct {
	persist WeightStore
	audit   types.AuditSink
	log     *logging.Logger
	opts    Options

	mu      sync.Mutex
	weights map[string]float64

	dirty chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// NewStore loads the persisted weight map and starts the persistence worker.
// Callers must Close the store to flush pending writes.
func NewStore(persist WeightStore, audit types.AuditSink, opts Options) (*Store, error) {
	weights, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("loading trust weights: %w", err)
	}
	if weights == nil {
		weights = make(map[string]float64)
	}

	s := &Store{
		persist: persist,
		audit:   audit,
		log:     logging.Get(logging.CategoryTrust),
		opts:    opts,
		weights: weights,
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.persistenceWorker()
	return s, nil
}

// GetWeight returns the actor's current weight, or the initial score for an
// actor with no history. Unknown actors are not inserted.
func (s *Store) GetWeight(actorID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.weights[actorID]; ok {
		return w
	}
	return s.opts.InitialScore
}

// Weights returns a copy of the full weight map.
func (s *Store) Weights() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// RecalculateWeight folds a new performance metric into the actor's weight
// and returns the updated value. A finite metric is clamped to [0,1] before
// blending; a non-finite metric or empty actor id is logged and leaves the
// weight unchanged, since a NaN that reaches the map would poison every later
// blend for that actor. An update whose delta stays within the audit epsilon
// is applied but not audited.
func (s *Store) RecalculateWeight(actorID string, metric float64) float64 {
	if actorID == "" {
		s.log.Warn("weight update with empty actor id ignored (metric %v)", metric)
		return s.opts.InitialScore
	}
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		current := s.GetWeight(actorID)
		s.log.Warn("non-finite metric %v for %s ignored, weight stays %.4f", metric, actorID, current)
		return current
	}
	metric = clamp01(metric)

	s.mu.Lock()
	current, ok := s.weights[actorID]
	if !ok {
		current = s.opts.InitialScore
	}

	alpha := s.opts.SmoothingFactor
	if metric < current {
		alpha = s.opts.PenaltyBoost
	}
	updated := clamp01(current + alpha*(metric-current))
	s.weights[actorID] = updated
	s.mu.Unlock()

	if math.Abs(updated-current) > s.opts.AuditEpsilon {
		s.audit.Event("TRUST_WEIGHT_UPDATED", map[string]any{
			"actorId":  actorID,
			"previous": current,
			"updated":  updated,
			"metric":   metric,
		})
	}
	s.log.Debug("weight %s: %.4f -> %.4f (metric %.4f alpha %.2f)", actorID, current, updated, metric, alpha)

	s.markDirty()
	return updated
}

// Flush persists the current weight map synchronously.
func (s *Store) Flush() error {
	return s.persistNow()
}

// Close stops the persistence worker and flushes any pending snapshot.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return s.persistNow()
}

// markDirty signals the worker. The channel has capacity 1, so updates during
// an armed window coalesce.
func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// persistenceWorker is the single goroutine allowed to trigger timed
// persistence. The first dirty signal arms the window; an armed window is
// never postponed, so a sustained stream of updates still produces one write
// per window. Signals arriving while armed fold into the pending write, since
// the snapshot is taken at fire time.
func (s *Store) persistenceWorker() {
	defer close(s.done)

	timer := time.NewTimer(s.opts.DebounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-s.dirty:
			if !armed {
				timer.Reset(s.opts.DebounceWindow)
				armed = true
			}

		case <-timer.C:
			armed = false
			if err := s.persistNow(); err != nil {
				s.log.Error("debounced persist failed: %v", err)
				s.audit.Error("TRUST_PERSIST_FAILED", map[string]any{"error": err.Error()})
				// Re-arm so the snapshot is retried next window.
				s.markDirty()
			}

		case <-s.stop:
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return
		}
	}
}

func (s *Store) persistNow() error {
	snapshot := s.Weights()
	if err := s.persist.Save(snapshot); err != nil {
		return fmt.Errorf("persisting trust weights: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
