// Package strings provides string helpers shared by the CLI renderers and the dashboard.
package strings

import (
	"strings"
)

// Truncate shortens a string to n characters with ellipsis.
// If n < 4, uses n = 4 to ensure room for "...".
func Truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// TruncateLeft keeps the last n runes of s, prefixing "…" when it cut.
// Long paths stay recognizable by their tail.
func TruncateLeft(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return "…" + string(runes[len(runes)-n+1:])
}

// Tail returns the last n non-empty lines of s.
func Tail(s string, n int) []string {
	if n <= 0 {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// OneLine collapses whitespace runs, newlines included, to single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
