package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveStringFieldLookup(t *testing.T) {
	ctx := map[string]any{
		"read": map[string]any{"text": "payload", "size": float64(42)},
	}

	assert.Equal(t, "got payload", ResolveString("got {read.text}", ctx))
	assert.Equal(t, "size=42", ResolveString("size={read.size}", ctx))
}

func TestResolveStringBareIdentifier(t *testing.T) {
	ctx := map[string]any{"path": "/var/log/app.log"}

	assert.Equal(t, "/var/log/app.log", ResolveString("{path}", ctx))
}

func TestResolveStringMissingStaysLiteral(t *testing.T) {
	ctx := map[string]any{
		"a": map[string]any{"v": "5"},
	}

	// Unknown identifier, unknown field, and field lookup into a non-map
	// all keep the placeholder verbatim.
	assert.Equal(t, "{b.v}", ResolveString("{b.v}", ctx))
	assert.Equal(t, "{a.missing}", ResolveString("{a.missing}", ctx))

	ctx["text"] = "plain"
	assert.Equal(t, "{text.field}", ResolveString("{text.field}", ctx))
}

func TestResolveStringMixedContent(t *testing.T) {
	ctx := map[string]any{"a": map[string]any{"v": "5"}}

	assert.Equal(t, "5-ok and {z.q}", ResolveString("{a.v}-ok and {z.q}", ctx))
}

func TestResolveStringCompositeRendersJSON(t *testing.T) {
	ctx := map[string]any{"res": map[string]any{"files": []any{"a", "b"}}}

	assert.Equal(t, `["a","b"]`, ResolveString("{res.files}", ctx))
}

func TestResolveArgsOnlyTouchesStrings(t *testing.T) {
	ctx := map[string]any{"path": "x.log"}
	args := map[string]any{
		"path":      "{path}",
		"max_bytes": 2048,
		"flags":     []any{"{path}"},
	}

	resolved := ResolveArgs(args, ctx)
	assert.Equal(t, "x.log", resolved["path"])
	assert.Equal(t, 2048, resolved["max_bytes"])
	assert.Equal(t, []any{"{path}"}, resolved["flags"])
}

func TestResolveStringLastAlias(t *testing.T) {
	ctx := map[string]any{LastAlias: map[string]any{"path": "/tmp/out.txt"}}

	assert.Equal(t, "/tmp/out.txt", ResolveString("{last.path}", ctx))
}
