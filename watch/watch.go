// Package watch re-runs workflows when watched files change, using
// fingerprints persisted in the key/value store to decide. Polling is a
// bounded loop with a fixed iteration count and delay; continuing to
// monitor means calling again.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/track"
)

const stateKeyPrefix = "watch:"

// StateKey returns the store key holding the last-seen fingerprint of path.
func StateKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return stateKeyPrefix + abs
}

// DefaultSteps is the fallback per-file plan: read the file, save a copy as
// an artifact, pin the artifact path in the store.
func DefaultSteps(path string, maxBytes int) []plan.Step {
	filename := fmt.Sprintf("watch_%s.txt", filepath.Base(path))
	return []plan.Step{
		{Id: "read", Op: "read_file", Args: map[string]any{"path": path, "max_bytes": maxBytes}},
		{Id: "save", Op: "save_text", Args: map[string]any{"filename": filename, "text": "{read.text}", "overwrite": true}},
		{Id: "pin", Op: "kv_set", Args: map[string]any{"key": "artifact:last_watch", "value": "{save.path}"}},
	}
}

// Watcher gates workflow runs on file changes.
type Watcher struct {
	store    kvstore.Store
	executor *plan.Executor
	log      zerolog.Logger
}

// NewWatcher creates a watcher persisting fingerprints in store and running
// triggered plans through executor.
func NewWatcher(store kvstore.Store, executor *plan.Executor, log zerolog.Logger) *Watcher {
	return &Watcher{store: store, executor: executor, log: log}
}

// Observation is the outcome of one watch pass over one file.
type Observation struct {
	Path        string            `json:"path"`
	Changed     bool              `json:"changed"`
	Fingerprint track.Fingerprint `json:"fingerprint"`
	Plan        *plan.Report      `json:"plan,omitempty"`
}

// Once fingerprints path, compares against the stored state, and when the
// file changed (and exists) runs steps with {path} seeded into the plan
// context. The new fingerprint is persisted after a change so the next pass
// sees it as unchanged.
func (w *Watcher) Once(ctx context.Context, path string, steps []plan.Step, seed map[string]any) (*Observation, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	fp, err := track.FingerprintFile(abs)
	if err != nil {
		return nil, err
	}

	prev, found, err := w.loadState(abs)
	if err != nil {
		return nil, err
	}
	changed := !found || !prev.Equal(fp)

	obs := &Observation{Path: abs, Changed: changed, Fingerprint: fp}
	if !changed || !fp.Exists {
		return obs, nil
	}

	planSeed := map[string]any{"path": abs}
	for k, v := range seed {
		planSeed[k] = v
	}
	report, err := w.executor.Run(ctx, steps, planSeed, "")
	if err != nil {
		return nil, fmt.Errorf("run watch plan for %s: %w", abs, err)
	}
	obs.Plan = report

	if err := w.saveState(abs, fp); err != nil {
		return nil, err
	}
	w.log.Debug().Str("path", abs).Msg("watch plan ran")
	return obs, nil
}

// PollPass summarizes one iteration of Poll.
type PollPass struct {
	Iter        int               `json:"iter"`
	Changed     bool              `json:"changed"`
	Fingerprint track.Fingerprint `json:"fingerprint"`
}

// PollReport is the compact run log of a bounded poll.
type PollReport struct {
	Path        string     `json:"path"`
	Iterations  int        `json:"iterations"`
	IntervalSec int        `json:"interval_sec"`
	Runs        []PollPass `json:"runs"`
}

// Poll checks path up to iterations times, sleeping interval between
// passes, and runs steps on each detected change. The loop is bounded by
// construction; early termination is simply not being called again.
func (w *Watcher) Poll(ctx context.Context, path string, steps []plan.Step, interval time.Duration, iterations int) (*PollReport, error) {
	if iterations < 1 {
		iterations = 1
	}
	if interval < time.Second {
		interval = time.Second
	}

	report := &PollReport{
		Path:        path,
		Iterations:  iterations,
		IntervalSec: int(interval / time.Second),
	}
	for i := 0; i < iterations; i++ {
		obs, err := w.Once(ctx, path, steps, nil)
		if err != nil {
			return report, err
		}
		report.Runs = append(report.Runs, PollPass{
			Iter:        i + 1,
			Changed:     obs.Changed,
			Fingerprint: obs.Fingerprint,
		})
		if i < iterations-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return report, nil
}

// DirReport summarizes one watch pass over a directory glob.
type DirReport struct {
	Glob      string        `json:"glob"`
	Total     int           `json:"total"`
	Changed   []Observation `json:"changed"`
	Unchanged []Observation `json:"unchanged"`
}

// DirOnce enumerates files matching the glob (relative patterns resolve
// against root) and runs Once per file, capped at maxFiles.
func (w *Watcher) DirOnce(ctx context.Context, root, glob string, steps []plan.Step, maxFiles int) (*DirReport, error) {
	pattern := glob
	if !filepath.IsAbs(pattern) && root != "" {
		pattern = filepath.Join(root, glob)
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", glob, err)
	}
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}

	report := &DirReport{Glob: glob, Total: len(files)}
	for _, file := range files {
		perFile := steps
		if len(perFile) == 0 {
			perFile = DefaultSteps(file, track.DefaultMaxBytes)
		}
		obs, err := w.Once(ctx, file, perFile, nil)
		if err != nil {
			return report, err
		}
		if obs.Changed {
			report.Changed = append(report.Changed, *obs)
		} else {
			report.Unchanged = append(report.Unchanged, *obs)
		}
	}
	return report, nil
}

func (w *Watcher) loadState(abs string) (track.Fingerprint, bool, error) {
	raw, found, err := w.store.Get(StateKey(abs))
	if err != nil {
		return track.Fingerprint{}, false, err
	}
	if !found {
		return track.Fingerprint{}, false, nil
	}
	var fp track.Fingerprint
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return track.Fingerprint{}, false, nil
	}
	return fp, true, nil
}

func (w *Watcher) saveState(abs string, fp track.Fingerprint) error {
	buf, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	return w.store.Set(StateKey(abs), string(buf))
}
