package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileConfigHash hashes a single configuration file. A missing file hashes
// to the digest of the empty input, so a workspace without a config file
// still has a stable identity.
type FileConfigHash struct {
	Path string
}

func (f FileConfigHash) ConfigHash(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := sha256.New()
	data, err := os.ReadFile(f.Path)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("hashing config %s: %w", f.Path, err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TreeCodeHash fingerprints the workspace tree: every regular file's path
// and content feed one digest, in sorted path order. Hidden directories and
// the governance workspace itself are skipped.
type TreeCodeHash struct {
	Root string
}

func (t TreeCodeHash) CodebaseHash(ctx context.Context) (string, error) {
	var paths []string
	err := filepath.WalkDir(t.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != t.Root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", t.Root, err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel, err := filepath.Rel(t.Root, path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", filepath.ToSlash(rel))
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
