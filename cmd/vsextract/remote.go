package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kalambet/vsextract/internal/api"
)

// runViaServer sends the files inline to POST /runs of a running server.
func runViaServer(cmd *cobra.Command, args []string, format string) error {
	body, err := remoteRunRequest(cmd, args)
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), "/runs", body)
	if err != nil {
		return err
	}

	var out api.RunResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	for _, line := range out.Progress {
		printStep("%s", line)
	}
	if out.Upload.Text != "" {
		fmt.Fprintln(os.Stderr, out.Upload.Text)
	}

	if len(out.Result) == 0 {
		printSuccess("Store %s created; indexing not awaited", out.StoreID)
		return nil
	}
	if err := writeDocument(cmd.OutOrStdout(), format, out.Result); err != nil {
		return err
	}
	if out.SavedCopyPath != "" {
		printSuccess("Saved %s", out.SavedCopyPath)
	}
	return nil
}

func remoteRunRequest(cmd *cobra.Command, args []string) (api.RunRequest, error) {
	var body api.RunRequest
	for _, p := range args {
		data, err := os.ReadFile(p)
		if err != nil {
			return body, fmt.Errorf("reading %s: %w", p, err)
		}
		body.Files = append(body.Files, api.InlineFile{
			Name:    filepath.Base(p),
			Content: base64.StdEncoding.EncodeToString(data),
		})
	}

	f := cmd.Flags()
	if noWait, _ := f.GetBool("no-wait-index"); noWait {
		wait := false
		body.WaitForIndex = &wait
	}
	body.Model, _ = f.GetString("model")
	body.Instruction, _ = f.GetString("instruction")
	body.StoreName, _ = f.GetString("store-name")
	if f.Changed("auto-cleanup") {
		minutes, _ := f.GetInt("auto-cleanup")
		body.AutoCleanupMinutes = &minutes
	}
	if dir, _ := f.GetString("save-dir"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return body, err
		}
		body.SaveDir = &abs
	}
	return body, nil
}
