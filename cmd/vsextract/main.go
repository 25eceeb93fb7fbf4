package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kalambet/vsextract/internal/config"
	"github.com/kalambet/vsextract/internal/openai"
	"github.com/kalambet/vsextract/internal/pipeline"
	"github.com/kalambet/vsextract/internal/schema"
)

var version = "dev"

// Exit codes.
const (
	exitFailure      = 1
	exitMissingStore = 2
	exitRetryLater   = 3
	exitInvalid      = 4
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "vsextract",
	Short: "Extract a validated order record from documents with OpenAI file_search",
	Long: `vsextract uploads documents to a new OpenAI vector store, waits for
indexing and asks a model to return one JSON record describing the order
they contain. The answer is validated before it is printed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stderr) {
			noColor = true
		}
		level := "info"
		if cfg, err := config.LoadSettings(); err == nil {
			level = cfg.Log.Level
		}
		setupLogging(level)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.AddCommand(runCmd, uploadCmd, extractCmd, probeCmd)
	rootCmd.AddCommand(storesCmd, journalCmd, configCmd)
	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, versionCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(err)
		os.Exit(exitCode(err))
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var (
		ve *schema.ValidationError
		re *openai.RemoteError
		te *openai.TimeoutError
	)
	switch {
	case errors.As(err, &ve):
		return exitInvalid
	case errors.Is(err, pipeline.ErrMissingStoreID):
		return exitMissingStore
	case errors.As(err, &te), errors.As(err, &re):
		return exitRetryLater
	default:
		return exitFailure
	}
}

func reportError(err error) {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		printError("answer failed validation (%d issues)", len(ve.Issues))
		for _, is := range ve.Issues {
			fmt.Fprintf(os.Stderr, "  %s\n", is)
		}
		return
	}
	printError("%v", err)
	if exitCode(err) == exitRetryLater {
		printWarning("the OpenAI API did not answer in time or failed; retry later")
	}
}
