package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	toolbridge "github.com/machinefabric/toolbridge-go"
	"github.com/machinefabric/toolbridge-go/rpc"
)

// Handler executes one tool call. A returned error becomes an error-flagged
// result rather than a transport failure.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs an operation descriptor with its handler.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Registry is an in-process tool dispatcher. It satisfies rpc.Invoker so the
// plan executor and alert monitor can run against local tools without a
// child process on the other end.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must be non-empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Descriptors returns the exported operation descriptors sorted by name.
func (r *Registry) Descriptors() []toolbridge.OperationDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolbridge.OperationDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, toolbridge.OperationDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke dispatches a call to the named tool. Unknown tools and handler
// failures come back as error-flagged results, matching how a remote peer
// surfaces operation errors.
func (r *Registry) Invoke(ctx context.Context, op string, args map[string]any) (rpc.Result, error) {
	r.mu.RLock()
	t, ok := r.tools[op]
	r.mu.RUnlock()
	if !ok {
		return rpc.ErrorResult(fmt.Sprintf("unknown tool: %s", op)), nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ctx.Err(); err != nil {
		return rpc.Result{}, err
	}
	out, err := t.Handler(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err.Error()), nil
	}
	if out == nil {
		out = map[string]any{}
	}
	return rpc.StructuredResult(out), nil
}

var _ rpc.Invoker = (*Registry)(nil)
