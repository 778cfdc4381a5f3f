package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {identifier} and {identifier.field}: one level
// of lookup, no nested expressions. This stays a deliberately minimal
// substitution language, not a scripting language.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_-]*)(?:\.([A-Za-z0-9_-]+))?\}`)

// ResolveString substitutes placeholders in s against ctx. A placeholder
// whose identifier or field is absent stays as literal text — partial
// context is left visibly debuggable instead of failing the step.
func ResolveString(s string, ctx map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		ident, field := groups[1], groups[2]

		value, ok := ctx[ident]
		if !ok {
			return match
		}
		if field != "" {
			m, ok := value.(map[string]any)
			if !ok {
				return match
			}
			value, ok = m[field]
			if !ok {
				return match
			}
		}
		return stringify(value)
	})
}

// ResolveArgs resolves every string-valued argument. Non-string values pass
// through untouched.
func ResolveArgs(args map[string]any, ctx map[string]any) map[string]any {
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			resolved[k] = ResolveString(s, ctx)
		} else {
			resolved[k] = v
		}
	}
	return resolved
}

// stringify renders a context value for splicing into an argument string:
// strings verbatim, scalars via Sprint, composites as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, float32, int, int64, int32, uint, uint64, bool:
		return strings.TrimSpace(fmt.Sprint(t))
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	}
}
