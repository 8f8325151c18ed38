// Package statusutil normalizes the free-form task status strings.
package statusutil

import "strings"

// Normalize trims s and folds the well-known statuses to their canonical ids ("TODO" -> "todo",
// "In Progress" -> "in_progress"). "none" clears the status. Anything else is kept as typed.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	key := strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
	switch key {
	case "", "none":
		return ""
	case "todo", "to_do":
		return "todo"
	case "doing":
		return "doing"
	case "in_progress", "wip":
		return "in_progress"
	case "done", "complete", "completed", "closed":
		return "done"
	case "cancelled", "canceled":
		return "cancelled"
	}
	return s
}

// IsEndState reports whether status marks finished work.
func IsEndState(status string) bool {
	switch Normalize(status) {
	case "done", "cancelled":
		return true
	}
	return false
}
