// Package utils provides shared helpers for logging, text, and vectors.
package utils

// Truncate returns s cut to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// ShortLabel abbreviates a hex label for terminal output.
func ShortLabel(label string) string {
	if len(label) <= 12 {
		return label
	}
	return label[:12]
}
