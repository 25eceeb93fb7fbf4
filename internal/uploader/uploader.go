// Package uploader turns a batch of local files into an indexed vector store.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vsextract/internal/openai"
)

// ErrNoFiles is returned when the request names no files.
var ErrNoFiles = errors.New("uploader: file list is empty")

// ErrBlankStoreID is returned when the service created a store but sent no
// usable id for it.
var ErrBlankStoreID = errors.New("uploader: service returned no store id")

const (
	DefaultWorkers      = 4
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 300 * time.Second
)

// StoreClient is the subset of the OpenAI client the uploader drives.
type StoreClient interface {
	CreateStore(ctx context.Context, name string) (openai.Store, error)
	UploadFile(ctx context.Context, path string) (openai.File, error)
	AttachFile(ctx context.Context, storeID, fileID string) (openai.StoreFile, error)
	GetFileStatus(ctx context.Context, storeID, fileID string) (openai.FileStatus, error)
}

// Progress receives one human-readable line per call. It may be nil.
type Progress func(line string)

// Options tunes an Uploader. Zero values select the defaults.
type Options struct {
	Workers      int
	PollInterval time.Duration
	MaxWait      time.Duration
	Logger       *slog.Logger
}

// Uploader creates stores and fills them with files.
type Uploader struct {
	client       StoreClient
	workers      int
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *slog.Logger
}

// New creates an Uploader over client.
func New(client StoreClient, opts Options) *Uploader {
	u := &Uploader{
		client:       client,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		logger:       opts.Logger,
	}
	if u.workers <= 0 {
		u.workers = DefaultWorkers
	}
	if u.pollInterval <= 0 {
		u.pollInterval = DefaultPollInterval
	}
	if u.maxWait <= 0 {
		u.maxWait = DefaultMaxWait
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u
}

// Request describes one upload batch.
type Request struct {
	Paths        []string
	WaitForIndex bool
	StoreName    string
	Progress     Progress
}

// Outcome is the per-file result of an upload batch.
type Outcome struct {
	Path     string            `json:"path"`
	FileID   string            `json:"file_id,omitempty"`
	Attached bool              `json:"attached"`
	Status   openai.FileStatus `json:"status,omitempty"`
	Size     int64             `json:"size_bytes"`
	Pages    int               `json:"pages,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Summary aggregates a batch. FileIDs and Outcomes follow input order.
type Summary struct {
	StoreID       string        `json:"store_id"`
	StoreName     string        `json:"store_name"`
	FileIDs       []string      `json:"file_ids"`
	AttachedCount int           `json:"attached_count"`
	Outcomes      []Outcome     `json:"outcomes"`
	Elapsed       time.Duration `json:"elapsed"`
	Text          string        `json:"text"`
}

// Upload creates a store, uploads and attaches every path and optionally
// waits for indexing. Only an empty path list or a failed store creation
// fail the call; per-file failures are recorded in the summary.
func (u *Uploader) Upload(ctx context.Context, req Request) (Summary, error) {
	paths := cleanPaths(req.Paths)
	if len(paths) == 0 {
		return Summary{}, ErrNoFiles
	}

	started := time.Now()
	p := newSink(req.Progress)

	p.emit("creating store")
	store, err := u.client.CreateStore(ctx, req.StoreName)
	if errors.Is(err, openai.ErrNoStoreID) || (err == nil && strings.TrimSpace(store.ID) == "") {
		return Summary{}, fmt.Errorf("creating store: %w", ErrBlankStoreID)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("creating store: %w", err)
	}
	p.emit("created store %s %q", store.ID, store.Name)
	u.logger.Info("store created", "store_id", store.ID, "files", len(paths))

	outcomes := make([]Outcome, len(paths))
	var g errgroup.Group
	g.SetLimit(u.workers)
	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = u.uploadOne(ctx, store.ID, path, p)
			return nil
		})
	}
	_ = g.Wait()

	if req.WaitForIndex {
		u.waitForIndex(ctx, store.ID, outcomes, p)
	}

	sum := Summary{
		StoreID:   store.ID,
		StoreName: store.Name,
		FileIDs:   []string{},
		Outcomes:  outcomes,
		Elapsed:   time.Since(started),
	}
	for _, o := range outcomes {
		if o.FileID != "" {
			sum.FileIDs = append(sum.FileIDs, o.FileID)
		}
		if o.Attached {
			sum.AttachedCount++
		}
	}
	sum.Text = summaryText(sum)
	p.emit("uploaded %d of %d files, attached %d", len(sum.FileIDs), len(paths), sum.AttachedCount)
	return sum, nil
}

func (u *Uploader) uploadOne(ctx context.Context, storeID, path string, p *sink) Outcome {
	o := Outcome{Path: path}
	base := filepath.Base(path)
	if info, err := os.Stat(path); err == nil {
		o.Size = info.Size()
	}
	o.Pages = pdfPages(path)

	p.emit("[%s] uploading (%s)", base, humanSize(o.Size))
	f, err := u.client.UploadFile(ctx, path)
	if err != nil {
		o.Error = "upload: " + err.Error()
		p.emit("[%s] upload failed: %v; skipping", base, err)
		u.logger.Warn("upload failed", "store_id", storeID, "path", path, "error", err)
		return o
	}
	o.FileID = f.ID

	p.emit("[%s] file_id=%s, attaching", base, f.ID)
	if _, err := u.client.AttachFile(ctx, storeID, f.ID); err != nil {
		o.Error = "attach: " + err.Error()
		p.emit("[%s] attach failed: %v", base, err)
		u.logger.Warn("attach failed", "store_id", storeID, "file_id", f.ID, "error", err)
		return o
	}
	o.Attached = true
	o.Status = openai.StatusPending
	p.emit("[%s] attached", base)
	return o
}

// waitForIndex polls every attached file until all are terminal or maxWait
// elapses. Files still pending at the deadline become timeout.
func (u *Uploader) waitForIndex(ctx context.Context, storeID string, outcomes []Outcome, p *sink) {
	var pending []int
	for i, o := range outcomes {
		if o.Attached {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	p.emit("waiting for indexing of %d files in %s", len(pending), storeID)
	deadline := time.Now().Add(u.maxWait)

	for {
		next := pending[:0]
		for _, i := range pending {
			o := &outcomes[i]
			st, err := u.client.GetFileStatus(ctx, storeID, o.FileID)
			if err != nil {
				p.emit("[%s] status check failed: %v", filepath.Base(o.Path), err)
				next = append(next, i)
				continue
			}
			if st != o.Status {
				p.emit("[%s] status: %s", filepath.Base(o.Path), st)
				o.Status = st
			}
			if st == openai.StatusFailed {
				o.Error = "indexing failed"
			}
			if !st.Terminal() {
				next = append(next, i)
			}
		}
		pending = next
		if len(pending) == 0 {
			p.emit("indexing complete")
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		t := time.NewTimer(min(u.pollInterval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, i := range pending {
		outcomes[i].Status = openai.StatusTimeout
		p.emit("[%s] not indexed in time", filepath.Base(outcomes[i].Path))
	}
	u.logger.Warn("indexing wait ended with pending files", "store_id", storeID, "pending", len(pending))
}

func cleanPaths(in []string) []string {
	var out []string
	for _, p := range in {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// sink serializes progress lines so concurrent workers never interleave
// inside one line.
type sink struct {
	mu sync.Mutex
	fn Progress
}

func newSink(fn Progress) *sink {
	return &sink{fn: fn}
}

func (s *sink) emit(format string, args ...any) {
	if s.fn == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn(line)
}
