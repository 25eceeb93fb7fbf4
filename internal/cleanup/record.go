package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/storage"
)

// Registry is the part of the store registry a deletion updates.
type Registry interface {
	MarkStoreDeleted(ctx context.Context, id string) error
}

// RecordDeletion marks the store of rep deleted and journals the report.
// Stores missing from the registry are fine; both steps are attempted and
// their failures joined.
func RecordDeletion(ctx context.Context, reg Registry, j journal.Journal, rep Report) error {
	var errs []error
	if err := reg.MarkStoreDeleted(ctx, rep.StoreID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("updating registry: %w", err))
	}
	if err := j.Append(ctx, journal.CleanupEntry(rep.StoreID, rep)); err != nil {
		errs = append(errs, fmt.Errorf("journal append: %w", err))
	}
	return errors.Join(errs...)
}
