// Package journal records the phases of every extraction run.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/kalambet/vsextract/internal/storage"
)

type Phase string

const (
	PhaseUpload          Phase = "upload"
	PhaseResponse        Phase = "response"
	PhaseResult          Phase = "result"
	PhaseValidationError Phase = "validation_error"
	PhaseCleanup         Phase = "cleanup"
)

// Entry is one journal record.
type Entry struct {
	TS      time.Time       `json:"ts"`
	Phase   Phase           `json:"phase"`
	StoreID string          `json:"store_id,omitempty"`
	Model   string          `json:"model,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Journal appends entries. Implementations must be safe for concurrent use.
type Journal interface {
	Append(ctx context.Context, e Entry) error
}

// Reader lists recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int, storeID string) ([]Entry, error)
}

// Nop discards every entry. It is used when storage is disabled.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }

// SQLite persists entries in the local database.
type SQLite struct {
	store *storage.Store
}

func NewSQLite(store *storage.Store) *SQLite {
	return &SQLite{store: store}
}

func (j *SQLite) Append(ctx context.Context, e Entry) error {
	data := "{}"
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := j.store.AppendJournal(ctx, storage.JournalEntry{
		CreatedAt: e.TS,
		Phase:     string(e.Phase),
		StoreID:   e.StoreID,
		Model:     e.Model,
		DataJSON:  data,
	})
	if err != nil {
		return fmt.Errorf("appending journal entry: %w", err)
	}
	return nil
}

func (j *SQLite) Recent(ctx context.Context, limit int, storeID string) ([]Entry, error) {
	rows, err := j.store.RecentJournal(ctx, limit, storeID)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			TS:      r.CreatedAt,
			Phase:   Phase(r.Phase),
			StoreID: r.StoreID,
			Model:   r.Model,
			Data:    json.RawMessage(r.DataJSON),
		})
	}
	return out, nil
}

// File describes one uploaded file in an upload entry.
type File struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Usage is the token accounting of a response entry.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func newEntry(phase Phase, storeID, model string, data any) Entry {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	return Entry{TS: time.Now(), Phase: phase, StoreID: storeID, Model: model, Data: raw}
}

// UploadEntry records the upload phase. Paths are reduced to base names.
func UploadEntry(storeID string, files []File, attached int, elapsed time.Duration) Entry {
	var total int64
	named := make([]File, len(files))
	for i, f := range files {
		named[i] = File{Name: filepath.Base(f.Name), SizeBytes: f.SizeBytes}
		total += f.SizeBytes
	}
	return newEntry(PhaseUpload, storeID, "", map[string]any{
		"files":    named,
		"attached": attached,
		"upload": map[string]any{
			"elapsed_sec": round(elapsed.Seconds(), 3),
			"total_bytes": total,
		},
	})
}

// ResponseEntry records a Responses API call with its estimated cost.
func ResponseEntry(storeID, model, responseID string, usage Usage, elapsed time.Duration) Entry {
	data := map[string]any{
		"response_id": responseID,
		"elapsed_sec": round(elapsed.Seconds(), 3),
		"usage":       usage,
	}
	if cost, ok := EstimateCost(model, usage.InputTokens, usage.OutputTokens); ok {
		data["cost_usd"] = cost
	}
	return newEntry(PhaseResponse, storeID, model, data)
}

// ResultEntry records a validated result.
func ResultEntry(storeID string, result json.RawMessage) Entry {
	return newEntry(PhaseResult, storeID, "", map[string]any{
		"result": result,
		"note":   "validated",
	})
}

// ValidationErrorEntry records an answer that failed validation.
func ValidationErrorEntry(storeID, rawText string, reason error) Entry {
	return newEntry(PhaseValidationError, storeID, "", map[string]any{
		"raw_text": rawText,
		"error":    reason.Error(),
	})
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// CleanupEntry records a store deletion. report is the deletion report.
func CleanupEntry(storeID string, report any) Entry {
	return newEntry(PhaseCleanup, storeID, "", report)
}
