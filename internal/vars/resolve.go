// Package vars provides template variable resolution and condition
// evaluation over a run's execution context.
//
// Templates reference context values with ${dotted.path} placeholders.
// Resolution is explicitly non-failing: an unresolved placeholder is left
// as the literal ${path} token so callers can detect it, rather than being
// silently replaced with an empty string.
package vars

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRE matches ${dotted.path} template tokens.
var placeholderRE = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolve replaces every ${path} occurrence in template with the string
// form of the value found by dotted-path traversal of ctx.
//
// Unresolved paths are left as the literal ${path} token. Callers must
// treat a surviving placeholder as a signal, not assume empty string.
func Resolve(template string, ctx map[string]any) string {
	return placeholderRE.ReplaceAllStringFunc(template, func(tok string) string {
		path := tok[2 : len(tok)-1]
		val, ok := Lookup(ctx, path)
		if !ok {
			return tok
		}
		return Format(val)
	})
}

// ResolveDeep applies Resolve recursively through nested maps and slices.
// Non-string scalars are returned untouched.
func ResolveDeep(v any, ctx map[string]any) any {
	switch t := v.(type) {
	case string:
		return Resolve(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ResolveDeep(e, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ResolveDeep(e, ctx)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = Resolve(s, ctx)
		}
		return out
	default:
		return v
	}
}

// Lookup traverses ctx by a dotted path ("item.content", "results.draft").
// Map values are traversed by key; slices by a numeric segment.
// Returns (nil, false) if any segment is missing.
func Lookup(ctx map[string]any, path string) (any, bool) {
	var cur any = ctx
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Format renders a context value to its template string form.
// Composite values (maps, slices) render as compact JSON so that a
// resolved placeholder is still parseable by downstream consumers.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// Avoid "42.000000" for integral floats decoded from JSON/YAML.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any, []string:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// HasPlaceholder reports whether s still contains an unresolved ${path}
// token after resolution.
func HasPlaceholder(s string) bool {
	return placeholderRE.MatchString(s)
}
