package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/alert"
	"github.com/machinefabric/toolbridge-go/bundle"
	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/track"
	"github.com/machinefabric/toolbridge-go/watch"
)

// DefaultReadMaxBytes caps read_file and incremental reads when the caller
// does not say otherwise.
const DefaultReadMaxBytes = 65536

// Env wires the built-in tools to their backing state: the sandbox,
// artifacts directory, key/value store, and the tracking, workflow,
// alerting and watching layers built on top of them.
type Env struct {
	Sandbox   *Sandbox
	Artifacts *Artifacts
	Store     kvstore.Store
	Tracker   *track.Tracker
	Executor  *plan.Executor
	Monitor   *alert.Monitor
	Watcher   *watch.Watcher

	ReadMaxBytes int
	log          zerolog.Logger
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithEnvLogger installs a logger on the environment.
func WithEnvLogger(log zerolog.Logger) EnvOption {
	return func(e *Env) { e.log = log }
}

// WithReadMaxBytes changes the default read cap.
func WithReadMaxBytes(n int) EnvOption {
	return func(e *Env) {
		if n > 0 {
			e.ReadMaxBytes = n
		}
	}
}

// NewEnv builds the tool environment. The registry is the invoker the plan
// executor dispatches through, so plan steps can call any registered tool,
// built-in or custom.
func NewEnv(sandboxRoot, artifactsDir string, store kvstore.Store, registry *Registry, opts ...EnvOption) (*Env, error) {
	sandbox, err := NewSandbox(sandboxRoot)
	if err != nil {
		return nil, err
	}
	artifacts, err := NewArtifacts(artifactsDir)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Sandbox:      sandbox,
		Artifacts:    artifacts,
		Store:        store,
		ReadMaxBytes: DefaultReadMaxBytes,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(env)
	}

	env.Tracker = track.NewTracker(store)
	env.Executor = plan.NewExecutor(registry, plan.WithStore(store), plan.WithExecutorLogger(env.log))
	env.Monitor = alert.NewMonitor(env.Tracker, store, env.Executor, artifacts, env.log)
	env.Watcher = watch.NewWatcher(store, env.Executor, env.log)
	return env, nil
}

// RegisterBuiltin registers the built-in tool set on registry.
func RegisterBuiltin(registry *Registry, env *Env) error {
	tools := []Tool{
		{
			Name:        "echo",
			Description: "Return the supplied arguments unchanged.",
			InputSchema: objectSchema(map[string]any{}, nil),
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return args, nil
			},
		},
		{
			Name:        "say_hello",
			Description: "Greet a caller by name.",
			InputSchema: objectSchema(map[string]any{
				"name": map[string]any{"type": "string"},
			}, nil),
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				name := argString(args, "name", "world")
				return map[string]any{"greeting": fmt.Sprintf("Hello, %s!", name)}, nil
			},
		},
		{
			Name:        "read_file",
			Description: "Read a text file from the sandbox, capped at max_bytes.",
			InputSchema: objectSchema(map[string]any{
				"path":      map[string]any{"type": "string"},
				"max_bytes": map[string]any{"type": "integer"},
			}, []string{"path"}),
			Handler: env.readFile,
		},
		{
			Name:        "save_text",
			Description: "Save text as a named artifact.",
			InputSchema: objectSchema(map[string]any{
				"filename":  map[string]any{"type": "string"},
				"text":      map[string]any{"type": "string"},
				"overwrite": map[string]any{"type": "boolean"},
			}, []string{"filename", "text"}),
			Handler: env.saveText,
		},
		{
			Name:        "read_artifact",
			Description: "Read a previously saved artifact back by name.",
			InputSchema: objectSchema(map[string]any{
				"filename": map[string]any{"type": "string"},
			}, []string{"filename"}),
			Handler: env.readArtifact,
		},
		{
			Name:        "list_artifacts",
			Description: "List saved artifacts, most recent first.",
			InputSchema: objectSchema(map[string]any{}, nil),
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				names, err := env.Artifacts.List()
				if err != nil {
					return nil, err
				}
				return map[string]any{"artifacts": names, "dir": env.Artifacts.Dir()}, nil
			},
		},
		{
			Name:        "search_files",
			Description: "Find sandbox files matching a glob pattern.",
			InputSchema: objectSchema(map[string]any{
				"pattern":     map[string]any{"type": "string"},
				"max_results": map[string]any{"type": "integer"},
			}, []string{"pattern"}),
			Handler: env.searchFiles,
		},
		{
			Name:        "kv_set",
			Description: "Store a string value under a key.",
			InputSchema: objectSchema(map[string]any{
				"key":   map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			}, []string{"key", "value"}),
			Handler: env.kvSet,
		},
		{
			Name:        "kv_get",
			Description: "Read a stored value by key.",
			InputSchema: objectSchema(map[string]any{
				"key": map[string]any{"type": "string"},
			}, []string{"key"}),
			Handler: env.kvGet,
		},
		{
			Name:        "kv_del",
			Description: "Delete a stored key.",
			InputSchema: objectSchema(map[string]any{
				"key": map[string]any{"type": "string"},
			}, []string{"key"}),
			Handler: env.kvDel,
		},
		{
			Name:        "kv_list",
			Description: "List stored keys, optionally filtered by prefix.",
			InputSchema: objectSchema(map[string]any{
				"prefix": map[string]any{"type": "string"},
			}, nil),
			Handler: env.kvList,
		},
		{
			Name:        "fingerprint",
			Description: "Compute a cheap change-detection fingerprint for a file.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: env.fingerprint,
		},
		{
			Name:        "track_read",
			Description: "Read only the bytes appended since the last tracked read.",
			InputSchema: objectSchema(map[string]any{
				"path":      map[string]any{"type": "string"},
				"max_bytes": map[string]any{"type": "integer"},
			}, []string{"path"}),
			Handler: env.trackRead,
		},
		{
			Name:        "offset_get",
			Description: "Report the stored read offset for a file.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: env.offsetGet,
		},
		{
			Name:        "offset_set",
			Description: "Set the stored read offset for a file.",
			InputSchema: objectSchema(map[string]any{
				"path":   map[string]any{"type": "string"},
				"offset": map[string]any{"type": "integer"},
			}, []string{"path", "offset"}),
			Handler: env.offsetSet,
		},
		{
			Name:        "offset_reset",
			Description: "Reset the stored read offset for a file to zero.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: env.offsetReset,
		},
		{
			Name:        "run_plan",
			Description: "Execute a sequence of tool steps with templated arguments.",
			InputSchema: objectSchema(map[string]any{
				"steps":    map[string]any{"type": "array"},
				"seed":     map[string]any{"type": "object"},
				"save_key": map[string]any{"type": "string"},
			}, []string{"steps"}),
			Handler: env.runPlan,
		},
		{
			Name:        "alert_count_text",
			Description: "Count pattern matches in text and compare against a threshold.",
			InputSchema: objectSchema(map[string]any{
				"text":           map[string]any{"type": "string"},
				"pattern":        map[string]any{"type": "string"},
				"threshold":      map[string]any{"type": "integer"},
				"comparator":     map[string]any{"type": "string"},
				"case_sensitive": map[string]any{"type": "boolean"},
			}, []string{"text", "pattern"}),
			Handler: env.alertCountText,
		},
		{
			Name:        "alert_track_and_save",
			Description: "Scan new file bytes against an alert rule and save a report when it fires.",
			InputSchema: objectSchema(map[string]any{
				"path":           map[string]any{"type": "string"},
				"pattern":        map[string]any{"type": "string"},
				"threshold":      map[string]any{"type": "integer"},
				"comparator":     map[string]any{"type": "string"},
				"case_sensitive": map[string]any{"type": "boolean"},
				"max_bytes":      map[string]any{"type": "integer"},
				"key":            map[string]any{"type": "string"},
				"filename":       map[string]any{"type": "string"},
			}, []string{"path", "pattern"}),
			Handler: env.alertTrackAndSave,
		},
		{
			Name:        "alert_run_plan_if",
			Description: "Scan new file bytes against an alert rule and run a plan when it fires.",
			InputSchema: objectSchema(map[string]any{
				"path":           map[string]any{"type": "string"},
				"pattern":        map[string]any{"type": "string"},
				"threshold":      map[string]any{"type": "integer"},
				"comparator":     map[string]any{"type": "string"},
				"case_sensitive": map[string]any{"type": "boolean"},
				"max_bytes":      map[string]any{"type": "integer"},
				"steps":          map[string]any{"type": "array"},
			}, []string{"path", "pattern", "steps"}),
			Handler: env.alertRunPlanIf,
		},
		{
			Name:        "watch_file_once",
			Description: "Check a file for changes and run a plan if it changed.",
			InputSchema: objectSchema(map[string]any{
				"path":      map[string]any{"type": "string"},
				"steps":     map[string]any{"type": "array"},
				"max_bytes": map[string]any{"type": "integer"},
			}, []string{"path"}),
			Handler: env.watchFileOnce,
		},
		{
			Name:        "watch_file_poll",
			Description: "Poll a file for changes a bounded number of times.",
			InputSchema: objectSchema(map[string]any{
				"path":         map[string]any{"type": "string"},
				"steps":        map[string]any{"type": "array"},
				"interval_sec": map[string]any{"type": "integer"},
				"iterations":   map[string]any{"type": "integer"},
				"max_bytes":    map[string]any{"type": "integer"},
			}, []string{"path"}),
			Handler: env.watchFilePoll,
		},
		{
			Name:        "watch_dir",
			Description: "Check every file matching a glob for changes in one pass.",
			InputSchema: objectSchema(map[string]any{
				"glob":      map[string]any{"type": "string"},
				"root":      map[string]any{"type": "string"},
				"max_files": map[string]any{"type": "integer"},
				"max_bytes": map[string]any{"type": "integer"},
			}, []string{"glob"}),
			Handler: env.watchDir,
		},
		{
			Name:        "bundle_export",
			Description: "Export stored keys and artifacts into a portable bundle file.",
			InputSchema: objectSchema(map[string]any{
				"path":   map[string]any{"type": "string"},
				"prefix": map[string]any{"type": "string"},
			}, nil),
			Handler: env.bundleExport,
		},
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) readFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	maxBytes := argInt(args, "max_bytes", e.ReadMaxBytes)
	text, truncated, err := readHead(path, maxBytes)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"path":      path,
		"text":      text,
		"truncated": truncated,
	}, nil
}

func (e *Env) saveText(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename := argString(args, "filename", "")
	if filename == "" {
		return nil, fmt.Errorf("filename must be non-empty")
	}
	text := argString(args, "text", "")
	overwrite := argBool(args, "overwrite", false)
	path, err := e.Artifacts.SaveText(filename, text, overwrite)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"path":    path,
		"bytes":   len(text),
		"preview": Preview(text),
	}, nil
}

func (e *Env) readArtifact(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename := argString(args, "filename", "")
	if filename == "" {
		return nil, fmt.Errorf("filename must be non-empty")
	}
	text, err := e.Artifacts.ReadText(filename)
	if err != nil {
		return nil, err
	}
	return map[string]any{"filename": safeName(filename), "text": text}, nil
}

func (e *Env) searchFiles(ctx context.Context, args map[string]any) (map[string]any, error) {
	pattern := argString(args, "pattern", "")
	if pattern == "" {
		return nil, fmt.Errorf("pattern must be non-empty")
	}
	matches, err := e.Sandbox.Search(pattern, argInt(args, "max_results", 50))
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

func (e *Env) kvSet(ctx context.Context, args map[string]any) (map[string]any, error) {
	key := argString(args, "key", "")
	if err := e.Store.Set(key, argString(args, "value", "")); err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "ok": true}, nil
}

func (e *Env) kvGet(ctx context.Context, args map[string]any) (map[string]any, error) {
	key := argString(args, "key", "")
	value, found, err := e.Store.Get(key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "value": value, "found": found}, nil
}

func (e *Env) kvDel(ctx context.Context, args map[string]any) (map[string]any, error) {
	key := argString(args, "key", "")
	deleted, err := e.Store.Delete(key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "deleted": deleted}, nil
}

func (e *Env) kvList(ctx context.Context, args map[string]any) (map[string]any, error) {
	keys, err := e.Store.List(argString(args, "prefix", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"keys": keys, "count": len(keys)}, nil
}

func (e *Env) fingerprint(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	fp, err := track.FingerprintFile(path)
	if err != nil {
		return nil, err
	}
	out, err := toMap(fp)
	if err != nil {
		return nil, err
	}
	out["path"] = path
	return out, nil
}

func (e *Env) trackRead(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	chunk, err := e.Tracker.ReadIncremental(path, argInt(args, "max_bytes", e.ReadMaxBytes))
	if err != nil {
		return nil, err
	}
	return toMap(chunk)
}

func (e *Env) offsetGet(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	rec, found, err := e.Tracker.Offset(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"path":   path,
		"offset": rec.Offset,
		"size":   rec.Size,
		"found":  found,
	}, nil
}

func (e *Env) offsetSet(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	offset := int64(argInt(args, "offset", 0))
	if offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative")
	}
	rec, err := e.Tracker.SetOffset(path, offset)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "offset": rec.Offset, "size": rec.Size}, nil
}

func (e *Env) offsetReset(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	rec, err := e.Tracker.ResetOffset(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "offset": rec.Offset, "size": rec.Size}, nil
}

func (e *Env) runPlan(ctx context.Context, args map[string]any) (map[string]any, error) {
	steps, err := argSteps(args, "steps")
	if err != nil {
		return nil, err
	}
	seed, _ := args["seed"].(map[string]any)
	report, err := e.Executor.Run(ctx, steps, seed, argString(args, "save_key", ""))
	if err != nil {
		return nil, err
	}
	return toMap(report)
}

func (e *Env) alertCountText(ctx context.Context, args map[string]any) (map[string]any, error) {
	eval, err := alert.Evaluate(argString(args, "text", ""), argRule(args))
	if err != nil {
		return nil, err
	}
	return toMap(eval)
}

func (e *Env) alertTrackAndSave(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	out, err := e.Monitor.TrackAndReport(ctx, path, argRule(args),
		argInt(args, "max_bytes", e.ReadMaxBytes),
		argString(args, "key", ""),
		argString(args, "filename", ""))
	if err != nil {
		return nil, err
	}
	return toMap(out)
}

func (e *Env) alertRunPlanIf(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	steps, err := argSteps(args, "steps")
	if err != nil {
		return nil, err
	}
	out, err := e.Monitor.TrackAndRun(ctx, path, argRule(args),
		argInt(args, "max_bytes", e.ReadMaxBytes), steps)
	if err != nil {
		return nil, err
	}
	return toMap(out)
}

func (e *Env) watchFileOnce(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	steps, err := optionalSteps(args, path, argInt(args, "max_bytes", e.ReadMaxBytes))
	if err != nil {
		return nil, err
	}
	obs, err := e.Watcher.Once(ctx, path, steps, nil)
	if err != nil {
		return nil, err
	}
	return toMap(obs)
}

func (e *Env) watchFilePoll(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, err := e.Sandbox.Resolve(argString(args, "path", ""))
	if err != nil {
		return nil, err
	}
	steps, err := optionalSteps(args, path, argInt(args, "max_bytes", e.ReadMaxBytes))
	if err != nil {
		return nil, err
	}
	interval := time.Duration(argInt(args, "interval_sec", 2)) * time.Second
	report, err := e.Watcher.Poll(ctx, path, steps, interval, argInt(args, "iterations", 3))
	if err != nil {
		return nil, err
	}
	return toMap(report)
}

func (e *Env) watchDir(ctx context.Context, args map[string]any) (map[string]any, error) {
	glob := argString(args, "glob", "")
	if glob == "" {
		return nil, fmt.Errorf("glob must be non-empty")
	}
	root := argString(args, "root", e.Sandbox.Root())
	if !filepath.IsAbs(root) {
		resolved, err := e.Sandbox.Resolve(root)
		if err != nil {
			return nil, err
		}
		root = resolved
	}
	report, err := e.Watcher.DirOnce(ctx, root, glob, nil, argInt(args, "max_files", 20))
	if err != nil {
		return nil, err
	}
	return toMap(report)
}

func (e *Env) bundleExport(ctx context.Context, args map[string]any) (map[string]any, error) {
	path := argString(args, "path", "")
	if path == "" {
		path = filepath.Join(e.Sandbox.Root(), "state.bundle")
	} else {
		resolved, err := e.Sandbox.Resolve(path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	b, err := bundle.Snapshot(e.Store, argString(args, "prefix", ""), e.Artifacts.Dir())
	if err != nil {
		return nil, err
	}
	if err := b.Export(path); err != nil {
		return nil, err
	}
	return map[string]any{
		"path":      path,
		"bundle_id": b.Id,
		"keys":      len(b.Keys),
		"artifacts": len(b.Artifacts),
	}, nil
}

func objectSchema(props map[string]any, required []string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func argString(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// argInt accepts JSON numbers, which arrive as float64, alongside native
// ints from in-process callers.
func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return fallback
}

func argRule(args map[string]any) alert.Rule {
	return alert.Rule{
		Pattern:       argString(args, "pattern", ""),
		Threshold:     argInt(args, "threshold", 1),
		Comparator:    argString(args, "comparator", ">="),
		CaseSensitive: argBool(args, "case_sensitive", false),
	}
}

// argSteps decodes a steps argument through JSON so both wire payloads and
// in-process literals land in the same Step shape.
func argSteps(args map[string]any, key string) ([]plan.Step, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("%s must be a list of steps", key)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	var steps []plan.Step
	if err := json.Unmarshal(buf, &steps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty list of steps", key)
	}
	return steps, nil
}

func optionalSteps(args map[string]any, path string, maxBytes int) ([]plan.Step, error) {
	if _, ok := args["steps"]; !ok {
		return watch.DefaultSteps(path, maxBytes), nil
	}
	return argSteps(args, "steps")
}

// readHead reads at most maxBytes from the start of path and reports
// whether the file held more.
func readHead(path string, maxBytes int) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()
	if maxBytes <= 0 {
		maxBytes = DefaultReadMaxBytes
	}
	buf, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
	if err != nil {
		return "", false, err
	}
	info, err := f.Stat()
	if err != nil {
		return "", false, err
	}
	return string(buf), info.Size() > int64(len(buf)), nil
}

// toMap renders a struct through its JSON tags into the generic mapping
// shape tool results use.
func toMap(v any) (map[string]any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
