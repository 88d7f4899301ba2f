// Package dotpath resolves dot-separated paths such as "order.items.0.sku"
// against decoded JSON values.
package dotpath

import (
	"strconv"
	"strings"
)

// Resolve walks path through data and returns the value it points at. Map
// segments are looked up by key; a segment that parses as a non-negative
// integer indexes into a slice. Any missing intermediate, type mismatch or
// out-of-range index reports ok=false. Resolve never panics.
//
// An empty path resolves to data itself.
func Resolve(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, exists := node[part]
			if !exists {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Lookup is Resolve for callers that treat a missing value as nil.
func Lookup(data map[string]any, path string) any {
	v, _ := Resolve(data, path)
	return v
}
