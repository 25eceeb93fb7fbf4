package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vsextract/internal/storage"
)

// QueueStore is the storage the Queue writes to.
type QueueStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ScheduleStoreCleanup(ctx context.Context, id string, at time.Time) error
}

type jobPayload struct {
	StoreID   string `json:"store_id"`
	DeleteRaw bool   `json:"delete_raw"`
}

// Queue schedules deletions as durable jobs so they survive the process.
// The Reaper performs them; onDone and onError are therefore not called by
// the queue itself, and the outcome is recorded in the store registry and
// journal instead.
type Queue struct {
	store     QueueStore
	deleteRaw bool
	now       func() time.Time
}

func NewQueue(store QueueStore, deleteRaw bool) *Queue {
	return &Queue{store: store, deleteRaw: deleteRaw, now: time.Now}
}

// Schedule enqueues a store_cleanup job due after delay.
func (q *Queue) Schedule(storeID string, delay time.Duration, onDone func(string), onError func(string, error)) error {
	if strings.TrimSpace(storeID) == "" {
		return errors.New("cleanup: store id is required")
	}

	ctx := context.Background()
	at := q.now().Add(delay)
	payload, err := json.Marshal(jobPayload{StoreID: storeID, DeleteRaw: q.deleteRaw})
	if err != nil {
		return fmt.Errorf("encoding cleanup payload: %w", err)
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
		RunAfter:    at,
		MaxAttempts: 5,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueueing cleanup of %s: %w", storeID, err)
	}
	if err := q.store.ScheduleStoreCleanup(ctx, storeID, at); err != nil {
		return fmt.Errorf("recording cleanup of %s: %w", storeID, err)
	}
	return nil
}
