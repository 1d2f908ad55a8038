package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileChainStore persists the chain as JSON-Lines, one record per line.
// PersistChain writes the full chain to a temp file and renames it into
// place, so a crash mid-write never leaves a truncated chain behind.
type FileChainStore struct {
	path string
}

// NewFileChainStore creates a JSONL-backed chain store at path.
func NewFileChainStore(path string) (*FileChainStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileChainStore{path: path}, nil
}

// LoadChainHistory reads all records. A missing file is a fresh chain.
func (s *FileChainStore) LoadChainHistory() ([]MutationRecord, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open chain file: %w", err)
	}
	defer file.Close()

	var records []MutationRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r MutationRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("chain file line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	return records, nil
}

// PersistChain writes the full chain atomically.
func (s *FileChainStore) PersistChain(records []MutationRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".chain-*")
	if err != nil {
		return fmt.Errorf("create temp chain file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal chain record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write chain record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush chain file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync chain file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chain file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish chain file: %w", err)
	}
	return nil
}
