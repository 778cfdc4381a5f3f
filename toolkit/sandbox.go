// Package toolkit hosts the leaf operations a bridge peer exposes: a
// registry of named, schema-described tools, a stdio serving runtime, and
// the built-in file/KV/tracking/alerting/workflow tools.
package toolkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sandbox confines relative tool paths beneath one root directory.
type Sandbox struct {
	root string
}

// NewSandbox creates the sandbox, creating root if needed.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps a caller-supplied path into the sandbox. Absolute paths pass
// through as-is (the watch and track layers work on canonical absolute
// paths); relative paths resolve under the root and must stay inside it.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must be non-empty")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs := filepath.Clean(filepath.Join(s.root, path))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("access denied outside sandbox: %s", path)
	}
	return abs, nil
}

// Search lists files under the root matching a glob, returned as sorted
// root-relative paths. A bare pattern without a separator matches at any
// depth, mirroring "**/pattern".
func (s *Sandbox) Search(pattern string, maxResults int) ([]string, error) {
	if filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("pattern must be relative")
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	deep := !strings.ContainsRune(pattern, '/') && !strings.ContainsRune(pattern, os.PathSeparator)

	var results []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || len(results) >= maxResults {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		target := rel
		if deep {
			target = filepath.Base(rel)
		}
		if ok, _ := filepath.Match(pattern, target); ok {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search sandbox: %w", err)
	}
	sort.Strings(results)
	return results, nil
}
