package waf

import (
	"fmt"
	"sort"
)

// MaxJSONWalkDepth bounds the recursive body walk against pathological
// payloads (spec §9).
const MaxJSONWalkDepth = 32

// JSONField is one string leaf found while walking a decoded JSON body,
// with its dotted path (e.g. "user.comment", "items.0.name").
type JSONField struct {
	Path  string
	Value string
}

// WalkJSON performs a depth-first walk over a decoded JSON value (as
// produced by encoding/json's generic unmarshal: map[string]any, []any,
// string, float64, bool, nil) and returns every string leaf with its
// dotted path. Traversal stops at MaxJSONWalkDepth.
func WalkJSON(v any) []JSONField {
	var out []JSONField
	walk(v, "", 0, &out)
	return out
}

func walk(v any, path string, depth int, out *[]JSONField) {
	if depth > MaxJSONWalkDepth {
		return
	}
	switch t := v.(type) {
	case string:
		*out = append(*out, JSONField{Path: path, Value: t})
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(t[k], joinPath(path, k), depth+1, out)
		}
	case []any:
		for i, elem := range t {
			walk(elem, joinPath(path, fmt.Sprintf("%d", i)), depth+1, out)
		}
	default:
		// numbers, bools, nil carry no injectable string content
	}
}

func joinPath(base, next string) string {
	if base == "" {
		return next
	}
	return base + "." + next
}
