package probe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"klineKit/internal/ports"
)

// Extract walks a decoded JSON document along a dotted path. Numeric
// segments index into arrays. An empty path returns doc itself.
func Extract(doc interface{}, path string) (interface{}, error) {
	if path == "" {
		return doc, nil
	}
	segs := strings.Split(path, ".")
	cur := doc
	for i, seg := range segs {
		at := strings.Join(segs[:i+1], ".")
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("%s: %w", at, ports.ErrNotFound)
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an array index: %w", at, seg, ports.ErrInvalidRequest)
			}
			if idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%s: index %d out of range (len %d): %w", at, idx, len(node), ports.ErrNotFound)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%s: cannot descend into %T: %w", at, cur, ports.ErrNotFound)
		}
	}
	return cur, nil
}

// FormatValue renders an extracted value for display and comparison.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
