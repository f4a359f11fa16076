// Package strings holds small formatting helpers for CLI output.
package strings

import "fmt"

// Pluralize returns word, or word+"s" unless count is 1.
func Pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

// Count renders "1 file", "3 files".
func Count(count int, word string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(word, count))
}
