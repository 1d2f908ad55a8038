package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileWeightStore persists the weight map as a single JSON object. Writes go
// through a temp file and rename so a crash mid-write leaves the previous
// snapshot intact.
type FileWeightStore struct {
	path string
}

func NewFileWeightStore(path string) *FileWeightStore {
	return &FileWeightStore{path: path}
}

func (f *FileWeightStore) Load() (map[string]float64, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	weights := make(map[string]float64)
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return weights, nil
}

func (f *FileWeightStore) Save(weights map[string]float64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating weights dir: %w", err)
	}
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}
