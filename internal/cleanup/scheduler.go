package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("cleanup: scheduler stopped")

// Scheduler runs delayed store deletions in background goroutines. Each
// schedule is independent; the scheduler only tracks them for Stop and Wait.
type Scheduler struct {
	api       StoreAPI
	deleteRaw bool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewScheduler creates a Scheduler. deleteRaw also removes uploaded raw
// files, not only their store association.
func NewScheduler(api StoreAPI, deleteRaw bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		api:       api,
		deleteRaw: deleteRaw,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule deletes storeID after delay. Exactly one of onDone or onError is
// called, once, from the background goroutine; either may be nil. A
// schedule cancelled by Stop reports context.Canceled to onError.
func (s *Scheduler) Schedule(storeID string, delay time.Duration, onDone func(storeID string), onError func(storeID string, err error)) error {
	if strings.TrimSpace(storeID) == "" {
		return errors.New("cleanup: store id is required")
	}
	if delay < 0 {
		return errors.New("cleanup: negative delay")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.run(storeID, delay)
		if err != nil {
			s.logger.Warn("scheduled cleanup failed", "store_id", storeID, "error", err)
			if onError != nil {
				onError(storeID, err)
			}
			return
		}
		s.logger.Info("scheduled cleanup done", "store_id", storeID)
		if onDone != nil {
			onDone(storeID)
		}
	}()
	return nil
}

func (s *Scheduler) run(storeID string, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-t.C:
	}

	_, err := DeleteStore(s.ctx, s.api, storeID, s.deleteRaw)
	return err
}

// Stop cancels every pending schedule and rejects new ones. In-flight
// deletions are interrupted at their next API call.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until every scheduled cleanup has reported its outcome.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
