// Package store provides the SQLite persistence backend. One LocalStore
// serves all three governance stores: the ledger chain, the state snapshots
// and the trust weights. File-backed alternatives live next to the
// components that use them; this is the default backend.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"archon/internal/ledger"
	"archon/internal/logging"
	"archon/internal/state"
	"archon/internal/trust"
)

// LocalStore implements ledger.ChainStore, state.SnapshotStore and
// trust.WeightStore over a single SQLite database.
type LocalStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// NewLocalStore opens (or creates) the database at path and runs migrations.
func NewLocalStore(path string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// A single connection sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous: %w", err)
	}

	s := &LocalStore{db: db, log: logging.Get(logging.CategoryStore)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("local store open at %s", path)
	return s, nil
}

func (s *LocalStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chain_records (
		idx               INTEGER PRIMARY KEY,
		timestamp         INTEGER NOT NULL,
		mutation_id       TEXT NOT NULL UNIQUE,
		architectural_hash TEXT NOT NULL,
		state_hash        TEXT NOT NULL,
		previous_chain_hash TEXT NOT NULL,
		self_hash         TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS state_snapshots (
		proposal_id       TEXT PRIMARY KEY,
		config_hash       TEXT NOT NULL,
		codebase_hash     TEXT NOT NULL,
		system_state_hash TEXT NOT NULL,
		timestamp         INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trust_weights (
		actor_id TEXT PRIMARY KEY,
		weight   REAL NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// ===== CHAIN STORE =====

func (s *LocalStore) LoadChainHistory() ([]ledger.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT timestamp, mutation_id, architectural_hash, state_hash, previous_chain_hash, self_hash
		FROM chain_records ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("loading chain history: %w", err)
	}
	defer rows.Close()

	var records []ledger.MutationRecord
	for rows.Next() {
		var r ledger.MutationRecord
		if err := rows.Scan(&r.Timestamp, &r.MutationID, &r.ArchitecturalHash, &r.StateHash, &r.PreviousChainHash, &r.SelfHash); err != nil {
			return nil, fmt.Errorf("scanning chain record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PersistChain rewrites the chain inside one transaction. The chain is small
// and append-only; a full rewrite keeps the store contract identical to the
// file backend.
func (s *LocalStore) PersistChain(records []ledger.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting chain transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chain_records`); err != nil {
		return fmt.Errorf("clearing chain records: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO chain_records
		(idx, timestamp, mutation_id, architectural_hash, state_hash, previous_chain_hash, self_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chain insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.Exec(i, r.Timestamp, r.MutationID, r.ArchitecturalHash, r.StateHash, r.PreviousChainHash, r.SelfHash); err != nil {
			return fmt.Errorf("inserting chain record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ===== SNAPSHOT STORE =====

// Snapshots returns the state.SnapshotStore view of this store.
func (s *LocalStore) Snapshots() state.SnapshotStore {
	return snapshotView{s}
}

type snapshotView struct{ s *LocalStore }

func (v snapshotView) Save(proposalID string, snap state.StateSnapshot) error {
	return v.s.SaveSnapshot(proposalID, snap)
}

func (v snapshotView) Get(proposalID string) (state.StateSnapshot, bool, error) {
	return v.s.GetSnapshot(proposalID)
}

func (s *LocalStore) SaveSnapshot(proposalID string, snap state.StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT OR IGNORE INTO state_snapshots
		(proposal_id, config_hash, codebase_hash, system_state_hash, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		proposalID, snap.ConfigHash, snap.CodebaseHash, snap.SystemStateHash, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", proposalID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", proposalID, err)
	}
	if affected == 0 {
		return state.ErrSnapshotExists
	}
	return nil
}

func (s *LocalStore) GetSnapshot(proposalID string) (state.StateSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap state.StateSnapshot
	err := s.db.QueryRow(`SELECT proposal_id, config_hash, codebase_hash, system_state_hash, timestamp
		FROM state_snapshots WHERE proposal_id = ?`, proposalID).
		Scan(&snap.ProposalID, &snap.ConfigHash, &snap.CodebaseHash, &snap.SystemStateHash, &snap.Timestamp)
	if err == sql.ErrNoRows {
		return state.StateSnapshot{}, false, nil
	}
	if err != nil {
		return state.StateSnapshot{}, false, fmt.Errorf("loading snapshot %s: %w", proposalID, err)
	}
	return snap, true, nil
}

// ===== WEIGHT STORE =====

// Weights returns the trust.WeightStore view of this store.
func (s *LocalStore) Weights() trust.WeightStore {
	return weightView{s}
}

type weightView struct{ s *LocalStore }

func (v weightView) Load() (map[string]float64, error) { return v.s.LoadWeights() }
func (v weightView) Save(w map[string]float64) error   { return v.s.SaveWeights(w) }

func (s *LocalStore) LoadWeights() (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT actor_id, weight FROM trust_weights`)
	if err != nil {
		return nil, fmt.Errorf("loading trust weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var actor string
		var weight float64
		if err := rows.Scan(&actor, &weight); err != nil {
			return nil, fmt.Errorf("scanning trust weight: %w", err)
		}
		weights[actor] = weight
	}
	return weights, rows.Err()
}

func (s *LocalStore) SaveWeights(weights map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting weights transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO trust_weights (actor_id, weight) VALUES (?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET weight = excluded.weight`)
	if err != nil {
		return fmt.Errorf("preparing weight upsert: %w", err)
	}
	defer stmt.Close()

	for actor, weight := range weights {
		if _, err := stmt.Exec(actor, weight); err != nil {
			return fmt.Errorf("upserting weight for %s: %w", actor, err)
		}
	}
	return tx.Commit()
}
