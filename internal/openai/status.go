package openai

import "strings"

// FileStatus is the normalized indexing state of a store file.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusProcessed  FileStatus = "processed"
	StatusFailed     FileStatus = "failed"
	StatusTimeout    FileStatus = "timeout"
)

// NormalizeStatus maps the vocabulary of the different API surfaces onto
// FileStatus. Unrecognized values are treated as pending.
func NormalizeStatus(raw string) FileStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "processed", "indexed", "ready":
		return StatusProcessed
	case "in_progress", "processing":
		return StatusProcessing
	case "failed", "error", "cancelled", "canceled", "expired":
		return StatusFailed
	case "timeout":
		return StatusTimeout
	default:
		return StatusPending
	}
}

// Terminal reports whether no further transition is expected.
func (s FileStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusTimeout
}
