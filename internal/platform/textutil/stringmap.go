package textutil

import "strings"

// CompactMap trims keys and values and drops pairs where either side ends up empty.
// It returns nil rather than an empty map so callers can omit the field entirely.
func CompactMap(values map[string]string) map[string]string {
	var out map[string]string
	for key, value := range values {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[key] = value
	}
	return out
}
