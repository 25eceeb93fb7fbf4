package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vsextract/internal/api"
	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/config"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API, the MCP stdio server and the cleanup reaper (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vsextract server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vsextract server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vsextract.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "vsextract version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vsextract is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vsextract is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	// Cleanups go through the durable queue; the reaper below performs them.
	queue := cleanup.NewQueue(a.store, cfg.Cleanup.DeleteRawFiles)
	runner := a.runner(queue)
	defaults := a.defaults()

	reaper := cleanup.NewReaper(a.store, a.client, a.journal(), config.Duration(cfg.Upload.PollInterval, 5*time.Second))
	go reaper.Run(ctx)

	handler := api.NewAppHandler(api.AppDeps{
		Store:     a.store,
		Runner:    runner,
		Stores:    a.client,
		Token:     apiToken,
		Defaults:  defaults,
		DeleteRaw: cfg.Cleanup.DeleteRawFiles,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     a.store,
			Runner:    runner,
			Stores:    a.client,
			Defaults:  defaults,
			DeleteRaw: cfg.Cleanup.DeleteRawFiles,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vsextract listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.LoadSettings()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vsextract is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vsextract (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vsextract (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadSettings()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("Model", "%s", cfg.Extract.Model)
	printStatus("Auto cleanup", "%d min", cfg.Cleanup.AutoDeleteMinutes)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if _, err := config.LoadCredential(cfg.OpenAI.APIKeyPath); err != nil {
		printStatus("API key", "missing")
	} else {
		printStatus("API key", "found")
	}

	client, err := newAPIClient()
	if err != nil {
		printStatus("Server", "unknown (%v)", err)
		return nil
	}
	if err := serverStatus(ctx, client, cfg.Server.Port); err != nil {
		printStatus("Server", "stopped")
	}
	return nil
}

// serverStatus prints what a running server reports. It fails when the
// server cannot be reached.
func serverStatus(ctx context.Context, client *apiClient, port int) error {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		return err
	}
	var health map[string]string
	if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}
	printStatus("Server", "running on port %d", port)

	if resp, err := client.get(ctx, "/stores"); err == nil {
		var stores []struct {
			Status string `json:"status"`
		}
		if decodeJSON(resp, &stores) == nil {
			pending := 0
			for _, s := range stores {
				if s.Status == storage.StoreCleanupScheduled {
					pending++
				}
			}
			printStatus("Stores", "%d active, %d awaiting cleanup", len(stores)-pending, pending)
		}
	}

	if resp, err := client.get(ctx, "/journal?limit=1"); err == nil {
		var entries []journal.Entry
		if decodeJSON(resp, &entries) == nil && len(entries) > 0 {
			last := entries[0]
			printStatus("Last run", "%s %s (%s)", last.Phase, last.StoreID, last.TS.Format(time.RFC3339))
		}
	}
	return nil
}
