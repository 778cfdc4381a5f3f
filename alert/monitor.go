package alert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/track"
)

// LastPathKey is where the monitor pins the location of the most recent
// triggering report artifact. A caller-supplied key suffixes it.
const LastPathKey = "alert:last_path"

// ArtifactWriter saves report text somewhere retrievable and returns its
// location.
type ArtifactWriter interface {
	SaveText(name, text string, overwrite bool) (string, error)
}

// Monitor composes the evaluator with the offset tracker: it scans only the
// newly-read increment of a file, and when a rule triggers it saves a report
// artifact, pins its location, or runs a caller-supplied workflow.
type Monitor struct {
	tracker   *track.Tracker
	store     kvstore.Store
	executor  *plan.Executor
	artifacts ArtifactWriter
	log       zerolog.Logger
}

// NewMonitor wires a monitor. executor and artifacts may be nil when the
// corresponding trigger actions are not used.
func NewMonitor(tracker *track.Tracker, store kvstore.Store, executor *plan.Executor, artifacts ArtifactWriter, log zerolog.Logger) *Monitor {
	return &Monitor{tracker: tracker, store: store, executor: executor, artifacts: artifacts, log: log}
}

// Outcome reports one monitor pass: the increment boundaries from the
// tracker, the evaluation, and whatever trigger action ran.
type Outcome struct {
	Path         string       `json:"path"`
	Start        int64        `json:"start"`
	End          int64        `json:"end"`
	EOF          bool         `json:"eof"`
	BytesRead    int          `json:"bytes_read"`
	Evaluation   *Evaluation  `json:"evaluation,omitempty"`
	Note         string       `json:"note,omitempty"`
	ArtifactPath string       `json:"artifact_path,omitempty"`
	Plan         *plan.Report `json:"plan,omitempty"`
}

// TrackAndReport reads the new bytes of path, evaluates them against rule,
// and on trigger saves a short report artifact under filename and pins its
// path in the store at LastPathKey (suffixed with key when given).
func (m *Monitor) TrackAndReport(ctx context.Context, path string, rule Rule, maxBytes int, key, filename string) (*Outcome, error) {
	chunk, eval, out, err := m.trackAndEvaluate(path, rule, maxBytes)
	if err != nil || eval == nil || !eval.Triggered {
		return out, err
	}
	if m.artifacts == nil {
		return nil, fmt.Errorf("no artifact writer configured")
	}

	if filename == "" {
		filename = "alert_report.txt"
	}
	report := renderReport(chunk, rule, eval)
	saved, err := m.artifacts.SaveText(filename, report, true)
	if err != nil {
		return nil, fmt.Errorf("save alert report: %w", err)
	}
	out.ArtifactPath = saved

	pin := LastPathKey
	if key != "" {
		pin = LastPathKey + ":" + key
	}
	if err := m.store.Set(pin, saved); err != nil {
		return nil, fmt.Errorf("pin alert artifact: %w", err)
	}
	m.log.Info().Str("path", chunk.Path).Int("count", eval.Count).Str("artifact", saved).Msg("alert triggered")
	return out, nil
}

// TrackAndRun reads the new bytes of path, evaluates them against rule, and
// on trigger runs the caller-supplied workflow steps.
func (m *Monitor) TrackAndRun(ctx context.Context, path string, rule Rule, maxBytes int, steps []plan.Step) (*Outcome, error) {
	_, eval, out, err := m.trackAndEvaluate(path, rule, maxBytes)
	if err != nil || eval == nil || !eval.Triggered {
		return out, err
	}
	if m.executor == nil {
		return nil, fmt.Errorf("no workflow executor configured")
	}

	planOut, err := m.executor.Run(ctx, steps, map[string]any{"path": out.Path}, "")
	if err != nil {
		return nil, fmt.Errorf("run triggered workflow: %w", err)
	}
	out.Plan = planOut
	return out, nil
}

// trackAndEvaluate is the shared read-then-scan front half. A nil
// Evaluation in the return means there were no new bytes to scan.
func (m *Monitor) trackAndEvaluate(path string, rule Rule, maxBytes int) (*track.Chunk, *Evaluation, *Outcome, error) {
	// Rule problems are caller errors; reject them before touching disk.
	if _, err := Evaluate("", rule); err != nil {
		return nil, nil, nil, err
	}

	chunk, err := m.tracker.ReadIncremental(path, maxBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("incremental read: %w", err)
	}

	out := &Outcome{
		Path:      chunk.Path,
		Start:     chunk.Start,
		End:       chunk.End,
		EOF:       chunk.EOF,
		BytesRead: chunk.BytesRead,
	}
	if chunk.BytesRead == 0 {
		out.Note = "no new bytes"
		return chunk, nil, out, nil
	}

	eval, err := Evaluate(chunk.Data, rule)
	if err != nil {
		return nil, nil, nil, err
	}
	out.Evaluation = eval
	return chunk, eval, out, nil
}

func renderReport(chunk *track.Chunk, rule Rule, eval *Evaluation) string {
	ts := time.Now().UTC().Format("2006-01-02 15:04:05 UTC")
	lines := []string{
		fmt.Sprintf("[%s] ALERT for %s", ts, filepath.Base(chunk.Path)),
		fmt.Sprintf("Range: %d..%d  bytes=%d", chunk.Start, chunk.End, chunk.BytesRead),
		fmt.Sprintf("Pattern: %q  comparator: %s  threshold: %d", rule.Pattern, eval.Comparator, eval.Threshold),
		fmt.Sprintf("Count: %d", eval.Count),
		"",
		"Samples (up to 5):",
	}
	lines = append(lines, eval.Samples...)
	return strings.Join(lines, "\n")
}
