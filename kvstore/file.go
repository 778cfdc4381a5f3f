package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists the key space as a single JSON object on disk.
//
// Every read-modify-write runs under one process-wide lock so concurrent
// tools against the same backing store never lose updates. Writes go to a
// temporary file first and rename over the target, so a crash mid-write
// never leaves a corrupted file visible to readers.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the JSON file at path. The file is
// created on first write; its directory is created eagerly.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path must be non-empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("key must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := db[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("key must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return err
	}
	db[key] = value
	return s.save(db)
}

func (s *FileStore) Delete(key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := db[key]; !ok {
		return false, nil
	}
	delete(db, key)
	return true, s.save(db)
}

func (s *FileStore) List(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(db))
	for k := range db {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the backing file. A corrupted file is renamed aside and
// replaced with an empty store rather than poisoning every later call.
func (s *FileStore) load() (map[string]string, error) {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(buf) == 0 {
		return map[string]string{}, nil
	}

	db := map[string]string{}
	if err := json.Unmarshal(buf, &db); err != nil {
		backup := s.path + ".corrupt.json"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return nil, fmt.Errorf("store corrupted and could not be sidelined: %w", renameErr)
		}
		return map[string]string{}, nil
	}
	return db, nil
}

// save writes the store atomically: temp file in the same directory, then
// rename over the target.
func (s *FileStore) save(db map[string]string) error {
	buf, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
