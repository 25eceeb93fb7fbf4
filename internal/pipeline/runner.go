// Package pipeline runs the full upload, index, extract and validate flow.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/extract"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/schema"
	"github.com/kalambet/vsextract/internal/storage"
	"github.com/kalambet/vsextract/internal/uploader"
)

// ErrMissingStoreID is returned when the upload produced no usable store id.
var ErrMissingStoreID = errors.New("pipeline: upload produced no store id")

// Uploader fills a new store with files.
type Uploader interface {
	Upload(ctx context.Context, req uploader.Request) (uploader.Summary, error)
}

// Extractor asks the model about one store.
type Extractor interface {
	Extract(ctx context.Context, storeID, instruction, model, systemPrompt string) (extract.Answer, error)
}

// CleanupScheduler defers the deletion of a store. Both cleanup.Scheduler
// and cleanup.Queue satisfy it.
type CleanupScheduler interface {
	Schedule(storeID string, delay time.Duration, onDone func(storeID string), onError func(storeID string, err error)) error
}

// Registry remembers stores created by this client.
type Registry interface {
	RecordStore(ctx context.Context, r storage.StoreRecord) error
}

// Options holds the optional collaborators of a Runner.
type Options struct {
	Cleanup  CleanupScheduler
	Journal  journal.Journal
	Registry Registry
	Logger   *slog.Logger
}

// Runner composes the uploader, the extraction client and the validator.
type Runner struct {
	uploader  Uploader
	extractor Extractor
	cleanup   CleanupScheduler
	journal   journal.Journal
	registry  Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. A nil journal discards entries; a nil cleanup
// scheduler ignores AutoCleanupMinutes.
func NewRunner(up Uploader, ex Extractor, opts Options) *Runner {
	r := &Runner{
		uploader:  up,
		extractor: ex,
		cleanup:   opts.Cleanup,
		journal:   opts.Journal,
		registry:  opts.Registry,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if r.journal == nil {
		r.journal = journal.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Request describes one run. Blank Instruction, Model and SystemPrompt
// select the extraction defaults.
type Request struct {
	Paths        []string
	WaitForIndex bool
	StoreName    string
	SaveDir      string
	Instruction  string
	Model        string
	SystemPrompt string

	// AutoCleanupMinutes schedules deletion of the store when > 0. Values
	// below cleanup.MinDelayMinutes are raised to it.
	AutoCleanupMinutes int

	Progress uploader.Progress
}

// Result is the outcome of a run. CleanJSON is empty when indexing was not
// awaited.
type Result struct {
	StoreID       string           `json:"store_id"`
	CleanJSON     string           `json:"clean_json,omitempty"`
	RawText       string           `json:"raw_text,omitempty"`
	SavedCopyPath string           `json:"saved_copy_path,omitempty"`
	ResponseID    string           `json:"response_id,omitempty"`
	Model         string           `json:"model,omitempty"`
	Usage         extract.Usage    `json:"usage"`
	Upload        uploader.Summary `json:"upload"`
}

// Run uploads req.Paths, then extracts and validates unless WaitForIndex is
// false. Cleanup scheduling and the saved copy are best effort: their
// failures go to the progress sink only. On a validation failure the
// returned Result still carries the store id and raw answer.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	progress := serialize(req.Progress)
	emit := emitter(progress)

	emit("upload started: %d files", len(req.Paths))
	sum, err := r.uploader.Upload(ctx, uploader.Request{
		Paths:        req.Paths,
		WaitForIndex: req.WaitForIndex,
		StoreName:    req.StoreName,
		Progress:     progress,
	})
	if errors.Is(err, uploader.ErrBlankStoreID) {
		return Result{}, ErrMissingStoreID
	}
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	if sum.StoreID == "" {
		return Result{Upload: sum}, ErrMissingStoreID
	}
	emit("upload complete: store %s, %d attached", sum.StoreID, sum.AttachedCount)

	res := Result{StoreID: sum.StoreID, Upload: sum}
	r.recordUpload(ctx, sum)
	r.scheduleCleanup(sum.StoreID, req.AutoCleanupMinutes, emit)

	if !req.WaitForIndex {
		return res, nil
	}

	return r.extractInto(ctx, res, req, emit)
}

// Extract runs the extraction half of Run against an existing store. Paths,
// WaitForIndex, StoreName and AutoCleanupMinutes of req are ignored.
func (r *Runner) Extract(ctx context.Context, storeID string, req Request) (Result, error) {
	if strings.TrimSpace(storeID) == "" {
		return Result{}, ErrMissingStoreID
	}
	return r.extractInto(ctx, Result{StoreID: storeID}, req, emitter(serialize(req.Progress)))
}

func (r *Runner) extractInto(ctx context.Context, res Result, req Request, emit func(string, ...any)) (Result, error) {
	storeID := res.StoreID
	emit("processing started")
	started := r.now()
	ans, err := r.extractor.Extract(ctx, storeID, req.Instruction, req.Model, req.SystemPrompt)
	if err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}
	res.RawText = ans.Text
	res.ResponseID = ans.ResponseID
	res.Model = ans.Model
	res.Usage = ans.Usage
	r.append(ctx, journal.ResponseEntry(storeID, ans.Model, ans.ResponseID, journal.Usage(ans.Usage), r.now().Sub(started)))

	clean, err := schema.Recover(ans.Text)
	if err != nil {
		r.append(ctx, journal.ValidationErrorEntry(storeID, ans.Text, err))
		return res, err
	}
	res.CleanJSON = clean
	r.append(ctx, journal.ResultEntry(storeID, json.RawMessage(clean)))
	emit("processing done")

	if req.SaveDir != "" {
		path, err := SaveCopy(req.SaveDir, storeID, clean, r.now())
		if err != nil {
			emit("save failed: %v", err)
			r.logger.Warn("saving result copy failed", "store_id", storeID, "error", err)
		} else {
			res.SavedCopyPath = path
			emit("saved copy: %s", path)
		}
	}
	return res, nil
}

func (r *Runner) recordUpload(ctx context.Context, sum uploader.Summary) {
	files := make([]journal.File, 0, len(sum.Outcomes))
	for _, o := range sum.Outcomes {
		if o.FileID != "" {
			files = append(files, journal.File{Name: o.Path, SizeBytes: o.Size})
		}
	}
	r.append(ctx, journal.UploadEntry(sum.StoreID, files, sum.AttachedCount, sum.Elapsed))

	if r.registry == nil {
		return
	}
	rec := storage.StoreRecord{ID: sum.StoreID, Name: sum.StoreName, FileCount: sum.AttachedCount}
	if err := r.registry.RecordStore(ctx, rec); err != nil {
		r.logger.Warn("recording store failed", "store_id", sum.StoreID, "error", err)
	}
}

func (r *Runner) scheduleCleanup(storeID string, minutes int, emit func(string, ...any)) {
	if minutes <= 0 || r.cleanup == nil {
		return
	}
	minutes = cleanup.ClampMinutes(minutes, cleanup.MinDelayMinutes)
	err := r.cleanup.Schedule(storeID, time.Duration(minutes)*time.Minute,
		func(id string) { emit("cleanup done: %s", id) },
		func(id string, err error) { emit("cleanup error for %s: %v", id, err) },
	)
	if err != nil {
		emit("cleanup failed to schedule: %v", err)
		r.logger.Warn("scheduling cleanup failed", "store_id", storeID, "error", err)
		return
	}
	emit("cleanup scheduled in %d min", minutes)
}

func emitter(progress uploader.Progress) func(string, ...any) {
	return func(format string, args ...any) {
		if progress != nil {
			progress(fmt.Sprintf(format, args...))
		}
	}
}

// serialize guards fn so cleanup callbacks firing later never interleave
// with the run's own lines.
func serialize(fn uploader.Progress) uploader.Progress {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	return func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fn(line)
	}
}

func (r *Runner) append(ctx context.Context, e journal.Entry) {
	if err := r.journal.Append(ctx, e); err != nil {
		r.logger.Warn("journal append failed", "phase", e.Phase, "store_id", e.StoreID, "error", err)
	}
}
