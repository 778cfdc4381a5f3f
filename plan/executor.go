package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/rpc"
)

// Executor runs workflows through an Invoker, strictly sequentially: each
// step may depend on the previous step's context, and the underlying
// protocol is request-then-response over one shared stream.
type Executor struct {
	invoker rpc.Invoker
	store   kvstore.Store
	log     zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStore enables run-report persistence via Run's saveKey.
func WithStore(store kvstore.Store) ExecutorOption {
	return func(e *Executor) { e.store = store }
}

// WithExecutorLogger attaches a logger for per-step progress.
func WithExecutorLogger(log zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor that invokes operations through inv.
func NewExecutor(inv rpc.Invoker, opts ...ExecutorOption) *Executor {
	e := &Executor{invoker: inv, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes steps in declared order against a fresh context seeded with
// seed. Per step: resolve templated arguments, invoke the operation, record
// the result under the step's identifier, refresh the "last" alias, and
// promote the result's top-level fields into context (first writer wins,
// step identifiers are never overwritten).
//
// A step without an operation name fails the whole run immediately; an
// operation that reports failure inside its result does not — the run
// continues so later steps and the caller can react to it. Only transport
// faults abort mid-run.
//
// When saveKey is non-empty and the executor has a store, the full report
// is JSON-encoded and persisted under that key.
func (e *Executor) Run(ctx context.Context, steps []Step, seed map[string]any, saveKey string) (*Report, error) {
	report := &Report{RunId: uuid.NewString()}
	ectx := make(map[string]any, len(seed)+len(steps)+1)
	for k, v := range seed {
		ectx[k] = v
	}

	for i, step := range steps {
		if step.Op == "" {
			report.Ok = false
			report.Error = fmt.Sprintf("step %d missing operation", i)
			return report, nil
		}

		id := step.EffectiveId(i)
		args := ResolveArgs(step.Args, ectx)

		e.log.Debug().Str("run", report.RunId).Str("step", id).Str("op", step.Op).Msg("invoking step")
		result, err := e.invoker.Invoke(ctx, step.Op, args)
		if err != nil {
			return report, fmt.Errorf("step %s (%s): %w", id, step.Op, err)
		}

		report.Steps = append(report.Steps, StepResult{
			Id:          id,
			Op:          step.Op,
			Args:        args,
			Result:      result,
			ResultValue: result.Value(),
		})

		// Step identifiers claim their slot unconditionally; the alias
		// tracks the newest result.
		value := result.Value()
		ectx[id] = value
		ectx[LastAlias] = value

		// Promote top-level fields of mapping results for convenient
		// reference in later steps. First writer wins: an occupied key,
		// step identifier or earlier promotion alike, is never displaced.
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				if _, exists := ectx[k]; !exists {
					ectx[k] = v
				}
			}
		}
	}

	report.Ok = true

	if saveKey != "" && e.store != nil {
		buf, err := json.Marshal(report)
		if err != nil {
			return report, fmt.Errorf("encode run report: %w", err)
		}
		if err := e.store.Set(saveKey, string(buf)); err != nil {
			return report, fmt.Errorf("persist run report: %w", err)
		}
		report.SavedTo = saveKey
	}
	return report, nil
}
