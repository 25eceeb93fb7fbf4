package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JournalEntry is one append-only journal row. DataJSON holds the
// phase-specific payload.
type JournalEntry struct {
	ID        int64
	CreatedAt time.Time
	Phase     string
	StoreID   string
	Model     string
	DataJSON  string
}

// Store registry statuses.
const (
	StoreActive           = "active"
	StoreCleanupScheduled = "cleanup_scheduled"
	StoreDeleted          = "deleted"
)

// StoreRecord is the local registry entry of a remote vector store.
type StoreRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	FileCount    int       `json:"file_count"`
	CleanupAfter time.Time `json:"cleanup_after"` // zero when no cleanup is scheduled
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
