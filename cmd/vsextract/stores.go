package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/storage"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect and delete vector stores",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores created by vsextract, or all stores with --remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		w := cmd.OutOrStdout()
		if remote {
			stores, err := a.client.ListStores(cmd.Context())
			if err != nil {
				return err
			}
			if len(stores) == 0 {
				fmt.Fprintln(w, "No stores found.")
				return nil
			}
			for _, s := range stores {
				fmt.Fprintf(w, "%s  %-24s  %3d files  %s  %s\n",
					colorize(colorCyan, s.ID), s.Name, s.FileCounts.Total,
					humanize.Bytes(uint64(max(s.UsageBytes, 0))), s.Status)
			}
			return nil
		}

		recs, err := a.store.ListStoreRecords(cmd.Context(), all)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(w, "No stores recorded.")
			return nil
		}
		for _, r := range recs {
			fmt.Fprintf(w, "%s  %-24s  %3d files  %-17s  %s\n",
				colorize(colorCyan, r.ID), r.Name, r.FileCount, r.Status, cleanupLabel(r))
		}
		return nil
	},
}

func cleanupLabel(r storage.StoreRecord) string {
	switch {
	case r.Status == storage.StoreDeleted:
		return "deleted " + humanize.Time(r.UpdatedAt)
	case !r.CleanupAfter.IsZero():
		return "cleanup " + humanize.Time(r.CleanupAfter)
	default:
		return "created " + humanize.Time(r.CreatedAt)
	}
}

var storesFilesCmd = &cobra.Command{
	Use:   "files <store-id>",
	Short: "List the files attached to a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		files, err := a.client.ListFiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(files) == 0 {
			fmt.Fprintln(w, "No files attached.")
			return nil
		}
		for _, f := range files {
			fmt.Fprintf(w, "%s  %-11s  %s\n", colorize(colorCyan, f.ID), f.Status, humanize.Bytes(uint64(max(f.UsageBytes, 0))))
		}
		return nil
	},
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <store-id>...",
	Short: "Detach every file from the given stores and delete them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepRaw, _ := cmd.Flags().GetBool("keep-files")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		deleteRaw := a.cfg.Cleanup.DeleteRawFiles && !keepRaw
		var errs []error
		for _, id := range args {
			rep, err := cleanup.DeleteStore(cmd.Context(), a.client, id, deleteRaw)
			if err != nil {
				printError("%s: %v", id, err)
				errs = append(errs, err)
				continue
			}
			recordDeletion(cmd.Context(), a, rep)
			printSuccess("Deleted %s (%d files detached, %d deleted)", id, rep.FilesDetached, rep.FilesDeleted)
		}
		return errors.Join(errs...)
	},
}

func recordDeletion(ctx context.Context, a *app, rep cleanup.Report) {
	if err := cleanup.RecordDeletion(ctx, a.store, a.journal(), rep); err != nil {
		printWarning("%v", err)
	}
}

var storesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every vector store on the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes ALL vector stores on the account, not only those created by vsextract. Use --confirm to proceed.")
			return nil
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		results, err := cleanup.Purge(cmd.Context(), a.client, a.cfg.Cleanup.DeleteRawFiles, progressPrinter)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
				continue
			}
			recordDeletion(cmd.Context(), a, r.Report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d stores could not be deleted", failed, len(results))
		}
		printSuccess("Deleted %d stores", len(results))
		return nil
	},
}

var storesReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run the deferred cleanups that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		n, err := cleanup.NewReaper(a.store, a.client, a.journal(), 0).Drain(ctx)
		if err != nil {
			return err
		}

		counts, err := a.store.JobCounts(ctx, cleanup.JobType)
		if err != nil {
			return err
		}
		printSuccess("Processed %d cleanup jobs", n)
		printStatus("Pending", "%d", counts["pending"])
		printStatus("Failed", "%d", counts["failed"])
		return nil
	},
}

func init() {
	storesListCmd.Flags().Bool("remote", false, "list every store on the OpenAI account")
	storesListCmd.Flags().Bool("all", false, "include deleted stores")
	storesDeleteCmd.Flags().Bool("keep-files", false, "detach files but keep the uploaded raw files")
	storesPurgeCmd.Flags().Bool("confirm", false, "confirm deletion of every store")

	storesCmd.AddCommand(storesListCmd, storesFilesCmd, storesDeleteCmd, storesPurgeCmd, storesReapCmd)
}
