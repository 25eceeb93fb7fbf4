package main

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/pipeline"
)

// handoffScheduler deletes stores in process. Schedules still pending when
// the command is interrupted go to the durable queue so the reaper of a
// later `serve` or `stores reap` deletes them.
type handoffScheduler struct {
	inner *cleanup.Scheduler
	queue pipeline.CleanupScheduler
	now   func() time.Time
}

func newHandoffScheduler(api cleanup.StoreAPI, queue pipeline.CleanupScheduler, deleteRaw bool) *handoffScheduler {
	return &handoffScheduler{
		inner: cleanup.NewScheduler(api, deleteRaw),
		queue: queue,
		now:   time.Now,
	}
}

func (h *handoffScheduler) Schedule(storeID string, delay time.Duration, onDone func(string), onError func(string, error)) error {
	due := h.now().Add(delay)
	return h.inner.Schedule(storeID, delay, onDone, func(id string, err error) {
		if errors.Is(err, context.Canceled) && h.queue != nil {
			rest := max(due.Sub(h.now()), 0)
			qerr := h.queue.Schedule(id, rest, nil, nil)
			if qerr == nil {
				printWarning("cleanup of %s queued for the reaper, due %s", id, humanize.Time(due))
				return
			}
			err = errors.Join(err, qerr)
		}
		if onError != nil {
			onError(id, err)
		}
	})
}

// wait blocks until every scheduled deletion has finished. Cancelling ctx
// hands the pending ones over to the queue.
func (h *handoffScheduler) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		h.inner.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.inner.Stop()
		<-done
	}
}
