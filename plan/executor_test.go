package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/rpc"
)

// echoInvoker returns its arguments unchanged, plus scripted overrides for
// specific operations.
type echoInvoker struct {
	calls     []string
	overrides map[string]func(args map[string]any) (rpc.Result, error)
}

func (e *echoInvoker) Invoke(ctx context.Context, op string, args map[string]any) (rpc.Result, error) {
	e.calls = append(e.calls, op)
	if fn, ok := e.overrides[op]; ok {
		return fn(args)
	}
	return rpc.StructuredResult(args), nil
}

func TestRunForwardsResultsBetweenSteps(t *testing.T) {
	inv := &echoInvoker{}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "a", Op: "echo", Args: map[string]any{"v": "5"}},
		{Id: "b", Op: "echo", Args: map[string]any{"v": "{a.v}-ok"}},
	}, nil, "")
	require.NoError(t, err)

	assert.True(t, report.Ok)
	require.Len(t, report.Steps, 2)
	got, ok := report.Steps[1].Result.AsMap()
	require.True(t, ok)
	assert.Equal(t, "5-ok", got["v"])
}

func TestRunDefaultsStepIds(t *testing.T) {
	inv := &echoInvoker{}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Op: "echo", Args: map[string]any{"v": "x"}},
		{Op: "echo", Args: map[string]any{"v": "{step1.v}!"}},
	}, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "step1", report.Steps[0].Id)
	assert.Equal(t, "step2", report.Steps[1].Id)
	got, _ := report.Steps[1].Result.AsMap()
	assert.Equal(t, "x!", got["v"])
}

func TestRunMissingOperationAbortsImmediately(t *testing.T) {
	inv := &echoInvoker{}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "ok", Op: "echo", Args: map[string]any{"v": "1"}},
		{Id: "broken", Args: map[string]any{"v": "2"}},
		{Id: "never", Op: "echo"},
	}, nil, "")
	require.NoError(t, err)

	assert.False(t, report.Ok)
	assert.Equal(t, "step 1 missing operation", report.Error)
	assert.Len(t, report.Steps, 1)
	assert.Equal(t, []string{"echo"}, inv.calls)
}

func TestRunContinuesPastOperationErrors(t *testing.T) {
	inv := &echoInvoker{overrides: map[string]func(map[string]any) (rpc.Result, error){
		"explode": func(map[string]any) (rpc.Result, error) {
			return rpc.ErrorResult("boom"), nil
		},
	}}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "bad", Op: "explode"},
		{Id: "after", Op: "echo", Args: map[string]any{"note": "{bad}"}},
	}, nil, "")
	require.NoError(t, err)

	assert.True(t, report.Ok)
	require.Len(t, report.Steps, 2)
	assert.True(t, report.Steps[0].Result.IsError())

	// The failed step's readable text still lands in context.
	got, _ := report.Steps[1].Result.AsMap()
	assert.Equal(t, "boom", got["note"])
}

func TestRunAbortsOnTransportFault(t *testing.T) {
	inv := &echoInvoker{overrides: map[string]func(map[string]any) (rpc.Result, error){
		"gone": func(map[string]any) (rpc.Result, error) {
			return rpc.Result{}, rpc.PeerUnavailable("process exited")
		},
	}}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "first", Op: "echo"},
		{Id: "dead", Op: "gone"},
		{Id: "never", Op: "echo"},
	}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead")
	assert.Len(t, report.Steps, 1)
}

func TestRunPromotionFirstWriterWins(t *testing.T) {
	inv := &echoInvoker{overrides: map[string]func(map[string]any) (rpc.Result, error){
		"emit1": func(map[string]any) (rpc.Result, error) {
			return rpc.StructuredResult(map[string]any{"file": "one.txt"}), nil
		},
		"emit2": func(map[string]any) (rpc.Result, error) {
			return rpc.StructuredResult(map[string]any{"file": "two.txt"}), nil
		},
	}}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "s1", Op: "emit1"},
		{Id: "s2", Op: "emit2"},
		{Id: "s3", Op: "echo", Args: map[string]any{"file": "{file}", "latest": "{last.file}"}},
	}, nil, "")
	require.NoError(t, err)

	got, _ := report.Steps[2].Result.AsMap()
	// Promotion keeps the first writer; the alias tracks the newest result.
	assert.Equal(t, "one.txt", got["file"])
	assert.Equal(t, "two.txt", got["latest"])
}

func TestRunPromotionNeverOverwritesStepIds(t *testing.T) {
	inv := &echoInvoker{overrides: map[string]func(map[string]any) (rpc.Result, error){
		"sneaky": func(map[string]any) (rpc.Result, error) {
			return rpc.StructuredResult(map[string]any{"s1": "hijacked"}), nil
		},
	}}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "s1", Op: "echo", Args: map[string]any{"v": "legit"}},
		{Id: "s2", Op: "sneaky"},
		{Id: "s3", Op: "echo", Args: map[string]any{"v": "{s1.v}"}},
	}, nil, "")
	require.NoError(t, err)

	got, _ := report.Steps[2].Result.AsMap()
	assert.Equal(t, "legit", got["v"])
}

func TestRunSeedContext(t *testing.T) {
	inv := &echoInvoker{}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "s", Op: "echo", Args: map[string]any{"where": "{path}"}},
	}, map[string]any{"path": "logs/app.log"}, "")
	require.NoError(t, err)

	got, _ := report.Steps[0].Result.AsMap()
	assert.Equal(t, "logs/app.log", got["where"])
}

func TestRunPersistsReportUnderSaveKey(t *testing.T) {
	store := kvstore.NewMemStore()
	inv := &echoInvoker{}
	exec := NewExecutor(inv, WithStore(store))

	report, err := exec.Run(context.Background(), []Step{
		{Id: "s", Op: "echo", Args: map[string]any{"v": "1"}},
	}, nil, "plan:lastrun")
	require.NoError(t, err)
	assert.Equal(t, "plan:lastrun", report.SavedTo)

	raw, found, err := store.Get("plan:lastrun")
	require.NoError(t, err)
	require.True(t, found)

	var persisted map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, true, persisted["ok"])
	assert.NotEmpty(t, persisted["run_id"])
}

func TestRunSeparateRunsShareNothing(t *testing.T) {
	inv := &echoInvoker{}
	exec := NewExecutor(inv)
	steps := []Step{{Id: "s", Op: "echo", Args: map[string]any{"v": "{ghost}"}}}

	// Seed only the first run; the second must not see its context.
	first, err := exec.Run(context.Background(), steps, map[string]any{"ghost": "seen"}, "")
	require.NoError(t, err)
	got, _ := first.Steps[0].Result.AsMap()
	assert.Equal(t, "seen", got["v"])

	second, err := exec.Run(context.Background(), steps, nil, "")
	require.NoError(t, err)
	got, _ = second.Steps[0].Result.AsMap()
	assert.Equal(t, "{ghost}", got["v"])
	assert.NotEqual(t, first.RunId, second.RunId)
}

func TestRunTextResultsEnterContextAsText(t *testing.T) {
	inv := &echoInvoker{overrides: map[string]func(map[string]any) (rpc.Result, error){
		"greet": func(args map[string]any) (rpc.Result, error) {
			return rpc.TextResult(fmt.Sprintf("Hello, %v!", args["name"])), nil
		},
	}}
	exec := NewExecutor(inv)

	report, err := exec.Run(context.Background(), []Step{
		{Id: "hi", Op: "greet", Args: map[string]any{"name": "Ada"}},
		{Id: "wrap", Op: "echo", Args: map[string]any{"msg": "peer said {hi}"}},
	}, nil, "")
	require.NoError(t, err)

	got, _ := report.Steps[1].Result.AsMap()
	assert.Equal(t, "peer said Hello, Ada!", got["msg"])
}
