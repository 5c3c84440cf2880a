// Package tagset normalizes the free-text labels attached to conversations
// and deliverables.
package tagset

import "strings"

// Max is the number of distinct tags kept on a record.
const Max = 10

// Parse splits a comma-separated tag string and normalizes the result.
func Parse(csv string) []string {
	return Normalize(strings.Split(csv, ","))
}

// Normalize trims tags, drops empty ones and duplicates (case-sensitive) and
// keeps the first Max tags in first-seen order.
func Normalize(in []string) []string {
	out := make([]string, 0, Max)
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == Max {
			break
		}
	}
	return out
}
