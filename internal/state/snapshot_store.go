package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemorySnapshotStore is the in-process write-once snapshot map. Used by
// tests and as the base of the file-backed store.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]StateSnapshot
}

// NewMemorySnapshotStore returns an empty snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]StateSnapshot)}
}

// Save stores a snapshot, refusing overwrite.
func (s *MemorySnapshotStore) Save(proposalID string, snap StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[proposalID]; ok {
		return fmt.Errorf("%w: %s", ErrSnapshotExists, proposalID)
	}
	s.snaps[proposalID] = snap
	return nil
}

// Get returns the snapshot for a proposal id.
func (s *MemorySnapshotStore) Get(proposalID string) (StateSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[proposalID]
	return snap, ok, nil
}

// FileSnapshotStore persists the write-once snapshot map as a JSON object
// keyed by proposal id. The whole map is rewritten atomically on each save;
// snapshot volume is one per accepted proposal, so this stays cheap.
type FileSnapshotStore struct {
	mu    sync.Mutex
	path  string
	snaps map[string]StateSnapshot
}

// NewFileSnapshotStore opens (or creates) the snapshot file at path.
func NewFileSnapshotStore(path string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	snaps := make(map[string]StateSnapshot)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &snaps); err != nil {
			return nil, fmt.Errorf("parse snapshot file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	return &FileSnapshotStore{path: path, snaps: snaps}, nil
}

// Save stores a snapshot, refusing overwrite, and persists the map.
func (s *FileSnapshotStore) Save(proposalID string, snap StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[proposalID]; ok {
		return fmt.Errorf("%w: %s", ErrSnapshotExists, proposalID)
	}
	s.snaps[proposalID] = snap

	if err := s.persistLocked(); err != nil {
		delete(s.snaps, proposalID)
		return err
	}
	return nil
}

// Get returns the snapshot for a proposal id.
func (s *FileSnapshotStore) Get(proposalID string) (StateSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[proposalID]
	return snap, ok, nil
}

func (s *FileSnapshotStore) persistLocked() error {
	data, err := json.MarshalIndent(s.snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshots-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish snapshot file: %w", err)
	}
	return nil
}
