package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/storage"
)

// JobStore abstracts the job queue and registry operations of the Reaper.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	ReleaseJob(ctx context.Context, id string) error
	RequeueStaleJobs(ctx context.Context, types []string, lease time.Duration) (int, error)
	MarkStoreDeleted(ctx context.Context, id string) error
}

// DefaultLease is how long a job may stay running before a starting reaper
// takes it over from a worker that died.
const DefaultLease = 10 * time.Minute

// Reaper processes store_cleanup jobs from the SQLite job queue.
type Reaper struct {
	store   JobStore
	api     StoreAPI
	journal journal.Journal
	poll    time.Duration
	lease   time.Duration
	logger  *slog.Logger
}

// NewReaper creates a Reaper. If pollInterval is <= 0, it defaults to 5s.
// A nil journal discards entries.
func NewReaper(store JobStore, api StoreAPI, j journal.Journal, pollInterval time.Duration) *Reaper {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if j == nil {
		j = journal.Nop{}
	}
	return &Reaper{
		store:   store,
		api:     api,
		journal: j,
		poll:    pollInterval,
		lease:   DefaultLease,
		logger:  slog.Default(),
	}
}

// Run polls for due jobs until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.requeueStale(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("reaper iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

// RunOnce claims and processes a single due job. It returns true if a job
// was processed, whether or not the deletion succeeded.
func (r *Reaper) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Bookkeeping must land even when ctx was cancelled mid-deletion.
	bctx := context.WithoutCancel(ctx)

	if err := r.processJob(ctx, job); err != nil {
		if ctx.Err() != nil {
			r.logger.Info("cleanup job interrupted, released", "job_id", job.ID)
			if relErr := r.store.ReleaseJob(bctx, job.ID); relErr != nil {
				r.logger.Error("failed to release job", "job_id", job.ID, "error", relErr)
			}
			return true, nil
		}
		r.logger.Warn("cleanup job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := r.store.FailJob(bctx, job.ID, err.Error()); failErr != nil {
			r.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := r.store.CompleteJob(bctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// Drain processes every due job and returns how many were handled.
func (r *Reaper) Drain(ctx context.Context) (int, error) {
	r.requeueStale(ctx)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		done, err := r.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !done {
			return n, nil
		}
		n++
	}
}

func (r *Reaper) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.StoreID == "" {
		return errors.New("payload has no store_id")
	}

	rep, err := DeleteStore(ctx, r.api, payload.StoreID, payload.DeleteRaw)
	if err != nil {
		return err
	}

	r.logger.Info("store reaped", "store_id", payload.StoreID, "files", rep.FilesDetached)
	if err := RecordDeletion(context.WithoutCancel(ctx), r.store, r.journal, rep); err != nil {
		r.logger.Warn("recording cleanup failed", "store_id", payload.StoreID, "error", err)
	}
	return nil
}

func (r *Reaper) requeueStale(ctx context.Context) {
	n, err := r.store.RequeueStaleJobs(ctx, []string{JobType}, r.lease)
	if err != nil {
		r.logger.Warn("requeueing stale cleanup jobs failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("requeued stale cleanup jobs", "count", n)
	}
}
