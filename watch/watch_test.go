package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/rpc"
)

type recordingInvoker struct {
	calls []map[string]any
}

func (r *recordingInvoker) Invoke(ctx context.Context, op string, args map[string]any) (rpc.Result, error) {
	r.calls = append(r.calls, args)
	return rpc.StructuredResult(args), nil
}

func newWatcher(t *testing.T) (*Watcher, *recordingInvoker, string) {
	t.Helper()
	store := kvstore.NewMemStore()
	inv := &recordingInvoker{}
	w := NewWatcher(store, plan.NewExecutor(inv), zerolog.Nop())
	return w, inv, filepath.Join(t.TempDir(), "app.log")
}

func write(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

var noopSteps = []plan.Step{{Id: "s", Op: "echo", Args: map[string]any{"p": "{path}"}}}

func TestOnceFirstObservationCountsAsChange(t *testing.T) {
	w, inv, path := newWatcher(t)
	write(t, path, "v1\n")

	obs, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	assert.True(t, obs.Changed)
	require.NotNil(t, obs.Plan)
	assert.Len(t, inv.calls, 1)

	// {path} is seeded with the canonical absolute path.
	abs, _ := filepath.Abs(path)
	assert.Equal(t, abs, inv.calls[0]["p"])
}

func TestOnceUnchangedSkipsPlan(t *testing.T) {
	w, inv, path := newWatcher(t)
	write(t, path, "v1\n")

	_, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	obs, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	assert.False(t, obs.Changed)
	assert.Nil(t, obs.Plan)
	assert.Len(t, inv.calls, 1)
}

func TestOnceDetectsEdit(t *testing.T) {
	w, inv, path := newWatcher(t)
	write(t, path, "v1\n")

	_, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	write(t, path, "v2 with different content\n")
	obs, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	assert.True(t, obs.Changed)
	assert.Len(t, inv.calls, 2)
}

func TestOnceMissingFileRunsNoPlan(t *testing.T) {
	w, inv, path := newWatcher(t)

	obs, err := w.Once(context.Background(), path, noopSteps, nil)
	require.NoError(t, err)

	// A never-before-seen missing file is a "change" to nonexistence, but
	// there is nothing to run the plan against.
	assert.True(t, obs.Changed)
	assert.False(t, obs.Fingerprint.Exists)
	assert.Nil(t, obs.Plan)
	assert.Empty(t, inv.calls)
}

func TestPollBoundedIterations(t *testing.T) {
	w, inv, path := newWatcher(t)
	write(t, path, "v1\n")

	report, err := w.Poll(context.Background(), path, noopSteps, time.Second, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Iterations)
	require.Len(t, report.Runs, 2)
	assert.True(t, report.Runs[0].Changed)
	assert.False(t, report.Runs[1].Changed)
	assert.Len(t, inv.calls, 1)
}

func TestPollHonorsContextCancellation(t *testing.T) {
	w, _, path := newWatcher(t)
	write(t, path, "v1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := w.Poll(ctx, path, noopSteps, time.Second, 3)
	require.Error(t, err)
	assert.Len(t, report.Runs, 1)
}

func TestDirOnceSplitsChangedAndUnchanged(t *testing.T) {
	w, _, _ := newWatcher(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.log"), "alpha\n")
	write(t, filepath.Join(dir, "b.log"), "beta\n")
	write(t, filepath.Join(dir, "c.txt"), "ignored\n")

	report, err := w.DirOnce(context.Background(), dir, "*.log", noopSteps, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Len(t, report.Changed, 2)

	// Settle, then touch one file.
	write(t, filepath.Join(dir, "b.log"), "beta grew longer\n")
	report, err = w.DirOnce(context.Background(), dir, "*.log", noopSteps, 50)
	require.NoError(t, err)
	require.Len(t, report.Changed, 1)
	assert.Len(t, report.Unchanged, 1)
	assert.Equal(t, filepath.Join(dir, "b.log"), report.Changed[0].Path)
}

func TestDirOnceMaxFilesCap(t *testing.T) {
	w, _, _ := newWatcher(t)
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "c.log"} {
		write(t, filepath.Join(dir, name), "x\n")
	}

	report, err := w.DirOnce(context.Background(), dir, "*.log", noopSteps, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
}

func TestDefaultStepsShape(t *testing.T) {
	steps := DefaultSteps("logs/app.log", 2048)

	require.Len(t, steps, 3)
	assert.Equal(t, "read_file", steps[0].Op)
	assert.Equal(t, "save_text", steps[1].Op)
	assert.Equal(t, "kv_set", steps[2].Op)
	assert.Equal(t, "watch_app.log.txt", steps[1].Args["filename"])
	assert.Equal(t, "{read.text}", steps[1].Args["text"])
}
