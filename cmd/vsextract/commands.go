package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/config"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/pipeline"
	"github.com/kalambet/vsextract/internal/storage"
	"github.com/kalambet/vsextract/internal/uploader"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <files...>",
	Short: "Upload files, wait for indexing and extract the validated record",
	Long: `Upload files to a new vector store, wait for indexing and extract the
validated JSON record. The store is deleted after --auto-cleanup minutes
(default cleanup.auto_delete_minutes).

After printing the result the command stays running until that deletion is
done. Ctrl-C, or --detach-cleanup up front, hands the deletion to the
durable queue instead; a running "vsextract serve" or "vsextract stores
reap" performs it. --auto-cleanup 0 keeps the store and exits at once.

Examples:
  vsextract run order.pdf terms.docx
  vsextract run --save-dir ./results --format yaml order.pdf
  vsextract run --no-wait-index --auto-cleanup 0 *.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		if via, _ := cmd.Flags().GetBool("via-server"); via {
			return runViaServer(cmd, args, format)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		req := runRequest(cmd, a, args)

		queue := cleanup.NewQueue(a.store, a.cfg.Cleanup.DeleteRawFiles)
		var sched pipeline.CleanupScheduler = queue
		var handoff *handoffScheduler
		if detach, _ := cmd.Flags().GetBool("detach-cleanup"); !detach {
			handoff = newHandoffScheduler(a.client, queue, a.cfg.Cleanup.DeleteRawFiles)
			sched = handoff
		}

		res, err := a.runner(sched).Run(cmd.Context(), req)
		if res.Upload.Text != "" {
			fmt.Fprintln(os.Stderr, res.Upload.Text)
		}
		if err == nil {
			err = printRunResult(cmd.OutOrStdout(), format, res)
		} else if res.StoreID != "" {
			printStatus("Store", "%s", res.StoreID)
		}

		if handoff != nil && res.StoreID != "" && req.AutoCleanupMinutes > 0 {
			minutes := cleanup.ClampMinutes(req.AutoCleanupMinutes, cleanup.MinDelayMinutes)
			printStep("waiting %d min to delete store %s (Ctrl-C queues it for the reaper)", minutes, res.StoreID)
			handoff.wait(cmd.Context())
		}
		return err
	},
}

// runRequest applies the run flags on top of the configured defaults.
func runRequest(cmd *cobra.Command, a *app, args []string) pipeline.Request {
	req := a.defaults()
	req.Paths = args
	req.Progress = progressPrinter

	f := cmd.Flags()
	if noWait, _ := f.GetBool("no-wait-index"); noWait {
		req.WaitForIndex = false
	}
	if v, _ := f.GetString("model"); v != "" {
		req.Model = v
	}
	if v, _ := f.GetString("instruction"); v != "" {
		req.Instruction = v
	}
	if v, _ := f.GetString("store-name"); v != "" {
		req.StoreName = v
	}
	if f.Changed("auto-cleanup") {
		req.AutoCleanupMinutes, _ = f.GetInt("auto-cleanup")
	}
	req.SaveDir = saveDir(cmd, a.cfg)
	return req
}

func saveDir(cmd *cobra.Command, cfg config.Config) string {
	if dir, _ := cmd.Flags().GetString("save-dir"); dir != "" {
		return dir
	}
	if save, _ := cmd.Flags().GetBool("save"); save {
		return cfg.Results.Dir
	}
	return ""
}

func printRunResult(w io.Writer, format string, res pipeline.Result) error {
	if res.CleanJSON == "" {
		printSuccess("Store %s created; indexing not awaited", res.StoreID)
		printStatus("Next", "vsextract extract %s", res.StoreID)
		return nil
	}

	if err := writeDocument(w, format, []byte(res.CleanJSON)); err != nil {
		return err
	}
	printUsage(res)
	if res.SavedCopyPath != "" {
		printSuccess("Saved %s", res.SavedCopyPath)
	}
	return nil
}

func printUsage(res pipeline.Result) {
	u := res.Usage
	if u.TotalTokens == 0 {
		return
	}
	if cost, ok := journal.EstimateCost(res.Model, u.InputTokens, u.OutputTokens); ok {
		printStatus("Tokens", "%d in, %d out (~$%.4f)", u.InputTokens, u.OutputTokens, cost)
		return
	}
	printStatus("Tokens", "%d in, %d out", u.InputTokens, u.OutputTokens)
}

func init() {
	f := runCmd.Flags()
	f.Bool("no-wait-index", false, "do not wait for indexing; upload only")
	f.String("save-dir", "", "write a copy of the validated result to this directory")
	f.Bool("save", false, "write a copy of the result to results.dir")
	f.Int("auto-cleanup", 0, "delete the store after this many minutes, 0 keeps it (default cleanup.auto_delete_minutes)")
	f.Bool("detach-cleanup", false, "queue the cleanup for the reaper and exit instead of waiting for it")
	f.String("model", "", "model name (default extract.model)")
	f.String("instruction", "", "user instruction sent with the documents")
	f.String("store-name", "", "name of the new vector store")
	f.String("format", formatJSON, "output format: json or yaml")
	f.Bool("via-server", false, "send the files to a running `vsextract serve` instead")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Upload files to a new vector store without extracting",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		noWait, _ := cmd.Flags().GetBool("no-wait-index")
		name, _ := cmd.Flags().GetString("store-name")
		minutes, _ := cmd.Flags().GetInt("auto-cleanup")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		sum, err := a.uploader.Upload(ctx, uploader.Request{
			Paths:        args,
			WaitForIndex: !noWait,
			StoreName:    name,
			Progress:     progressPrinter,
		})
		if errors.Is(err, uploader.ErrBlankStoreID) || (err == nil && sum.StoreID == "") {
			return pipeline.ErrMissingStoreID
		}
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		fmt.Fprintln(os.Stderr, sum.Text)

		if err := a.store.RecordStore(ctx, storage.StoreRecord{ID: sum.StoreID, Name: sum.StoreName, FileCount: sum.AttachedCount}); err != nil {
			printWarning("recording store: %v", err)
		}
		files := make([]journal.File, 0, len(sum.Outcomes))
		for _, o := range sum.Outcomes {
			if o.FileID != "" {
				files = append(files, journal.File{Name: o.Path, SizeBytes: o.Size})
			}
		}
		if err := a.journal().Append(ctx, journal.UploadEntry(sum.StoreID, files, sum.AttachedCount, sum.Elapsed)); err != nil {
			printWarning("journal append: %v", err)
		}

		if minutes > 0 {
			minutes = cleanup.ClampMinutes(minutes, cleanup.MinDelayMinutes)
			q := cleanup.NewQueue(a.store, a.cfg.Cleanup.DeleteRawFiles)
			if err := q.Schedule(sum.StoreID, time.Duration(minutes)*time.Minute, nil, nil); err != nil {
				printWarning("cleanup failed to schedule: %v", err)
			} else {
				printStep("cleanup queued in %d min", minutes)
			}
		}

		return writeValue(cmd.OutOrStdout(), format, sum)
	},
}

func init() {
	f := uploadCmd.Flags()
	f.Bool("no-wait-index", false, "do not wait for indexing")
	f.String("store-name", "", "name of the new vector store")
	f.Int("auto-cleanup", 0, "queue deletion of the store after this many minutes")
	f.String("format", formatJSON, "output format: json or yaml")
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <store-id>",
	Short: "Extract the validated record from an existing vector store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		req := runRequest(cmd, a, nil)
		res, err := a.runner(nil).Extract(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		return printRunResult(cmd.OutOrStdout(), format, res)
	},
}

func init() {
	f := extractCmd.Flags()
	f.String("model", "", "model name (default extract.model)")
	f.String("instruction", "", "user instruction sent with the documents")
	f.String("save-dir", "", "write a copy of the validated result to this directory")
	f.Bool("save", false, "write a copy of the result to results.dir")
	f.String("format", formatJSON, "output format: json or yaml")
}

// --- probe ---

var probeCmd = &cobra.Command{
	Use:   "probe <store-id>",
	Short: "Ask the model which files it can see in a vector store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		if model == "" {
			model = a.cfg.Extract.Model
		}

		p, err := a.extractor.ProbeFiles(cmd.Context(), args[0], model)
		if err != nil {
			if p.Raw != "" {
				fmt.Fprintln(os.Stderr, p.Raw)
			}
			return err
		}

		if len(p.Files) == 0 {
			printWarning("The model sees no files in %s", args[0])
			return nil
		}
		w := cmd.OutOrStdout()
		for _, f := range p.Files {
			fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, f.Name), f.Snippet)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().String("model", "", "model name (default extract.model)")
}

// --- journal ---

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		storeID, _ := cmd.Flags().GetString("store")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.LoadSettings()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		entries, err := journal.NewSQLite(store).Recent(cmd.Context(), limit, storeID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(w)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}
		if len(entries) == 0 {
			fmt.Fprintln(w, "No journal entries.")
			return nil
		}
		for _, e := range entries {
			printEntry(w, e)
		}
		return nil
	},
}

func printEntry(w io.Writer, e journal.Entry) {
	data := string(e.Data)
	if len(data) > 120 {
		data = data[:120] + "..."
	}
	fmt.Fprintf(w, "%s  %-16s  %s  %s\n",
		colorize(colorCyan, humanize.Time(e.TS)),
		e.Phase,
		e.StoreID,
		data,
	)
}

func init() {
	journalCmd.Flags().Int("limit", 20, "maximum number of entries")
	journalCmd.Flags().String("store", "", "only entries of this store id")
	journalCmd.Flags().Bool("json", false, "print entries as JSON lines")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadSettings()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		if _, err := config.LoadCredential(cfg.OpenAI.APIKeyPath); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vsextract %s\n", version)
	},
}
