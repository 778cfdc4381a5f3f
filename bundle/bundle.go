// Package bundle snapshots bridge state (key/value entries plus artifact
// files) into a single portable CBOR file.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/machinefabric/toolbridge-go/kvstore"
)

// Artifact is one captured file.
type Artifact struct {
	Name string `cbor:"name"`
	Data []byte `cbor:"data"`
}

// Bundle is a point-in-time export of bridge state.
type Bundle struct {
	Id        string            `cbor:"id"`
	CreatedAt time.Time         `cbor:"created_at"`
	Keys      map[string]string `cbor:"keys"`
	Artifacts []Artifact        `cbor:"artifacts"`
}

// Snapshot captures every store key under prefix plus every regular file in
// artifactsDir. An empty prefix captures all keys; an empty artifactsDir
// skips artifacts.
func Snapshot(store kvstore.Store, prefix, artifactsDir string) (*Bundle, error) {
	keys, err := store.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	entries := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := store.Get(k)
		if err != nil {
			return nil, fmt.Errorf("read key %q: %w", k, err)
		}
		if ok {
			entries[k] = v
		}
	}

	var artifacts []Artifact
	if artifactsDir != "" {
		files, err := os.ReadDir(artifactsDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(artifactsDir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read artifact %q: %w", f.Name(), err)
			}
			artifacts = append(artifacts, Artifact{Name: f.Name(), Data: data})
		}
	}

	return &Bundle{
		Id:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Keys:      entries,
		Artifacts: artifacts,
	}, nil
}

// Export writes the bundle to path. The write goes to a temp file first and
// lands via rename so readers never see a partial bundle.
func (b *Bundle) Export(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	data, err := cbor.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize bundle: %w", err)
	}
	return nil
}

// Load reads a bundle back from path.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// Restore writes the bundle's keys into store and its artifacts into dir.
// Existing keys and files are overwritten.
func (b *Bundle) Restore(store kvstore.Store, dir string) error {
	for k, v := range b.Keys {
		if err := store.Set(k, v); err != nil {
			return fmt.Errorf("restore key %q: %w", k, err)
		}
	}
	if dir != "" && len(b.Artifacts) > 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifacts dir: %w", err)
		}
		for _, a := range b.Artifacts {
			name := filepath.Base(a.Name)
			if err := os.WriteFile(filepath.Join(dir, name), a.Data, 0o644); err != nil {
				return fmt.Errorf("restore artifact %q: %w", a.Name, err)
			}
		}
	}
	return nil
}
