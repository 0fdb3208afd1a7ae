package testbase

import (
	"slices"
	"strings"
)

// Selection decides which scenarios run. An empty Run list, or one that
// contains "all", selects every scenario; Exclude always wins.
type Selection struct {
	Run     []string
	Exclude []string
}

// ParseList splits a comma separated list, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Enabled reports whether the scenario called name should run.
func (s Selection) Enabled(name string) bool {
	if slices.ContainsFunc(s.Exclude, func(x string) bool { return strings.EqualFold(x, name) }) {
		return false
	}
	if len(s.Run) == 0 {
		return true
	}
	return slices.ContainsFunc(s.Run, func(x string) bool {
		return strings.EqualFold(x, "all") || strings.EqualFold(x, name)
	})
}

// Filter returns the names that are enabled, keeping their order.
func (s Selection) Filter(names []string) []string {
	var out []string
	for _, n := range names {
		if s.Enabled(n) {
			out = append(out, n)
		}
	}
	return out
}
