// Package cleanup deletes vector stores and their files, either after an
// in-process delay, through the durable job queue, or all at once.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/vsextract/internal/openai"
)

// MinDelayMinutes is the smallest accepted auto-delete delay.
const MinDelayMinutes = 1

// JobType is the job queue type of deferred store deletions.
const JobType = "store_cleanup"

// StoreAPI is the subset of the OpenAI client needed to delete a store.
type StoreAPI interface {
	ListFiles(ctx context.Context, storeID string) ([]openai.StoreFile, error)
	DetachFile(ctx context.Context, storeID, fileID string) error
	DeleteFile(ctx context.Context, fileID string) error
	DeleteStore(ctx context.Context, id string) error
}

// ClampMinutes raises minutes to floor when below it.
func ClampMinutes(minutes, floor int) int {
	if minutes < floor {
		return floor
	}
	return minutes
}

// Report counts what a deletion removed.
type Report struct {
	StoreID       string `json:"store_id"`
	FilesDetached int    `json:"files_detached"`
	FilesDeleted  int    `json:"files_deleted"`
	StoreDeleted  bool   `json:"store_deleted"`
}

// DeleteStore detaches every file of storeID, deletes the raw files when
// deleteRaw is set, then deletes the store. Failures on single files do not
// stop the remaining steps; they are joined into the returned error. Things
// the API reports as already gone count as deleted so retries converge.
func DeleteStore(ctx context.Context, api StoreAPI, storeID string, deleteRaw bool) (Report, error) {
	rep := Report{StoreID: storeID}

	files, err := api.ListFiles(ctx, storeID)
	if err != nil && !isGone(err) {
		return rep, fmt.Errorf("listing files of %s: %w", storeID, err)
	}

	var errs []error
	for _, f := range files {
		if err := api.DetachFile(ctx, storeID, f.ID); err != nil && !isGone(err) {
			errs = append(errs, fmt.Errorf("detaching %s: %w", f.ID, err))
			continue
		}
		rep.FilesDetached++

		if !deleteRaw {
			continue
		}
		if err := api.DeleteFile(ctx, f.ID); err != nil && !isGone(err) {
			errs = append(errs, fmt.Errorf("deleting file %s: %w", f.ID, err))
			continue
		}
		rep.FilesDeleted++
	}

	if err := api.DeleteStore(ctx, storeID); err != nil && !isGone(err) {
		errs = append(errs, fmt.Errorf("deleting store %s: %w", storeID, err))
	} else {
		rep.StoreDeleted = true
	}

	return rep, errors.Join(errs...)
}

func isGone(err error) bool {
	var re *openai.RemoteError
	return errors.As(err, &re) && re.StatusCode == 404
}
