// Package strings holds list helpers for configuration values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops empties and repeats. Order is
// preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// SplitList splits a comma separated setting such as a broker list.
func SplitList(v string) []string {
	return DedupeAndTrim(strings.Split(v, ","))
}
