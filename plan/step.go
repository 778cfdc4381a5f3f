// Package plan runs ordered lists of tool invocations against an
// accumulating execution context: each step names an operation, its string
// arguments may carry {id.field} placeholders resolved from earlier results,
// and every result feeds the context for the steps after it.
package plan

import (
	"fmt"

	"github.com/machinefabric/toolbridge-go/rpc"
)

// LastAlias is the reserved context key pointing at the most recently
// completed step's result.
const LastAlias = "last"

// Step is one entry of a workflow: an optional identifier, the operation to
// invoke, and an argument map whose string values may be templated. Steps
// are immutable once defined.
type Step struct {
	Id   string         `json:"id,omitempty" yaml:"id,omitempty"`
	Op   string         `json:"op" yaml:"op"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// EffectiveId returns the step's identifier, defaulting to its 1-based
// position ("step3") when none was declared.
func (s Step) EffectiveId(index int) string {
	if s.Id != "" {
		return s.Id
	}
	return fmt.Sprintf("step%d", index+1)
}

// StepResult records one executed step: the identifier it ran under, the
// operation, the arguments after template resolution, and the normalized
// result.
type StepResult struct {
	Id     string         `json:"id"`
	Op     string         `json:"op"`
	Args   map[string]any `json:"args"`
	Result rpc.Result     `json:"-"`

	// ResultValue is the JSON-friendly rendering of Result, kept alongside
	// it so persisted reports stay readable.
	ResultValue any `json:"result"`
}

// Report is the outcome of one workflow run. A run that aborted early keeps
// the step results accumulated so far.
type Report struct {
	Ok      bool         `json:"ok"`
	Error   string       `json:"error,omitempty"`
	RunId   string       `json:"run_id"`
	Steps   []StepResult `json:"results"`
	SavedTo string       `json:"saved_to,omitempty"`
}
