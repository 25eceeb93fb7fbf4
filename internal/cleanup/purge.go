package cleanup

import (
	"context"
	"fmt"

	"github.com/kalambet/vsextract/internal/openai"
)

// PurgeAPI adds store listing to StoreAPI.
type PurgeAPI interface {
	StoreAPI
	ListStores(ctx context.Context) ([]openai.Store, error)
}

// PurgeResult is the outcome of deleting one store during Purge.
type PurgeResult struct {
	Report
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Purge deletes every store on the account, one after another. Only a
// failure to list stores aborts; per-store failures are reported in the
// results. progress may be nil.
func Purge(ctx context.Context, api PurgeAPI, deleteRaw bool, progress func(string)) ([]PurgeResult, error) {
	emit := func(format string, args ...any) {
		if progress != nil {
			progress(fmt.Sprintf(format, args...))
		}
	}

	stores, err := api.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	emit("found %d stores", len(stores))

	results := make([]PurgeResult, 0, len(stores))
	for _, s := range stores {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		rep, err := DeleteStore(ctx, api, s.ID, deleteRaw)
		res := PurgeResult{Report: rep, Name: s.Name}
		if err != nil {
			res.Error = err.Error()
			emit("%s: %v", s.ID, err)
		} else {
			emit("%s: deleted (%d files)", s.ID, rep.FilesDetached)
		}
		results = append(results, res)
	}
	return results, nil
}
