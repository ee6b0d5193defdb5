// Package strings provides string helpers for user-facing messages.
package strings

import "strconv"

// Pluralize returns singular or plural form based on count.
// Example: Pluralize("file", 1) returns "file", Pluralize("file", 2) returns "files"
func Pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

// Count formats a count with its noun: Count(3, "resource") is "3 resources".
func Count(n int, word string) string {
	return strconv.Itoa(n) + " " + Pluralize(word, n)
}
