// Package jsontree works with the map[string]any / []any trees produced by
// unmarshaling unknown JSON.
package jsontree

import (
	"sort"
)

// Map reports v as a JSON object.
func Map(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// List reports v as a JSON array.
func List(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// Str reports v as a JSON string.
func Str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Number reports v as a JSON number.
func Number(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// Get resolves a chain of object keys starting at root. It fails when any
// intermediate value is not an object or the key is missing.
func Get(root any, path ...string) (any, bool) {
	cur := root
	for _, key := range path {
		m, ok := Map(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Keys returns up to limit keys of an object, sorted for stable output.
// Non-objects yield nil.
func Keys(v any, limit int) []string {
	m, ok := Map(v)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

// SortedValues returns an object's values ordered by key, so callers that
// treat an object as a collection see a stable order.
func SortedValues(m map[string]any) []any {
	keys := Keys(m, 0)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Walk visits every node reachable from root in depth-first order using an
// explicit stack, so arbitrarily deep payloads cannot overflow the goroutine
// stack. Object children extend the path by their key; array elements keep
// the parent path. Nodes deeper than maxDepth are skipped.
func Walk(root any, maxDepth int, visit func(path []string, value any)) {
	type frame struct {
		value any
		path  []string
		depth int
	}
	stack := []frame{{value: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxDepth {
			continue
		}
		visit(f.path, f.value)
		switch v := f.value.(type) {
		case map[string]any:
			for key, child := range v {
				childPath := make([]string, len(f.path)+1)
				copy(childPath, f.path)
				childPath[len(f.path)] = key
				stack = append(stack, frame{value: child, path: childPath, depth: f.depth + 1})
			}
		case []any:
			for _, child := range v {
				stack = append(stack, frame{value: child, path: f.path, depth: f.depth + 1})
			}
		}
	}
}
