// Package strings parses the comma separated lists used in configuration.
package strings

import (
	"strings"
)

// SplitList splits a comma or semicolon separated value into trimmed,
// de-duplicated entries. Order is preserved.
func SplitList(raw string) []string {
	return DedupeAndTrim(strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	}))
}

// SplitAddresses is SplitList for email addresses, which compare
// case-insensitively.
func SplitAddresses(raw string) []string {
	return DedupeAndTrimLower(strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	}))
}

// DedupeAndTrim drops empty and repeated values after trimming.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with lowercasing.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
