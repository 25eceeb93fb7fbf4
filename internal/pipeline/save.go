package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type savedCopy struct {
	TS      string          `json:"ts"`
	Phase   string          `json:"phase"`
	StoreID string          `json:"store_id"`
	Result  json.RawMessage `json:"result"`
	Note    string          `json:"note"`
}

// CopyName returns the file name of a saved result:
// extract_<stamp>_<store>_<6 hex>.json.
func CopyName(storeID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("extract_%s_%s_%s.json",
		now.Format("20060102-150405"), strings.ReplaceAll(storeID, "/", "_"), suffix)
}

// SaveCopy writes a validated result into dir, creating it when needed, and
// returns the file path.
func SaveCopy(dir, storeID, cleanJSON string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	rec := savedCopy{
		TS:      now.Format("2006-01-02T15:04:05"),
		Phase:   "result",
		StoreID: storeID,
		Result:  json.RawMessage(cleanJSON),
		Note:    "validated",
	}
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("encoding result copy: %w", err)
	}

	path := filepath.Join(dir, CopyName(storeID, now))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
