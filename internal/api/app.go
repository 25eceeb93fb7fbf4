package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/extract"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/openai"
	"github.com/kalambet/vsextract/internal/pipeline"
	"github.com/kalambet/vsextract/internal/schema"
	"github.com/kalambet/vsextract/internal/storage"
	"github.com/kalambet/vsextract/internal/uploader"
)

const maxRunBodySize = 32 << 20 // 32MB, inline files are base64

// RunService runs the extraction pipeline. *pipeline.Runner satisfies it.
type RunService interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// AppDeps holds dependencies of the local HTTP API.
type AppDeps struct {
	Store  *storage.Store
	Runner RunService
	Stores cleanup.PurgeAPI
	Token  string

	// Defaults seeds every run; request fields override it.
	Defaults  pipeline.Request
	DeleteRaw bool
}

// NewAppHandler returns the HTTP API. /health is public; every other route
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/runs", handleRun(deps))
		r.Get("/journal", handleJournal(deps))
		r.Get("/stores", handleListStores(deps))
		r.Delete("/stores/{id}", handleDeleteStore(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// InlineFile is a document sent in the request body instead of by path.
type InlineFile struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

// RunRequest is the body of POST /runs. Nil pointers keep the server
// defaults.
type RunRequest struct {
	Paths              []string     `json:"paths"`
	Files              []InlineFile `json:"files"`
	WaitForIndex       *bool        `json:"wait_for_index"`
	StoreName          string       `json:"store_name"`
	SaveDir            *string      `json:"save_dir"`
	Instruction        string       `json:"instruction"`
	Model              string       `json:"model"`
	AutoCleanupMinutes *int         `json:"auto_cleanup_minutes"`
}

// RunResponse is the body of a successful POST /runs.
type RunResponse struct {
	StoreID       string           `json:"store_id"`
	Result        json.RawMessage  `json:"result,omitempty"`
	SavedCopyPath string           `json:"saved_copy_path,omitempty"`
	ResponseID    string           `json:"response_id,omitempty"`
	Model         string           `json:"model,omitempty"`
	Usage         extract.Usage    `json:"usage"`
	Upload        uploader.Summary `json:"upload"`
	Progress      []string         `json:"progress"`
}

func (rr RunRequest) apply(base pipeline.Request) pipeline.Request {
	req := base
	req.Paths = append([]string(nil), rr.Paths...)
	if rr.WaitForIndex != nil {
		req.WaitForIndex = *rr.WaitForIndex
	}
	if rr.StoreName != "" {
		req.StoreName = rr.StoreName
	}
	if rr.SaveDir != nil {
		req.SaveDir = *rr.SaveDir
	}
	if rr.Instruction != "" {
		req.Instruction = rr.Instruction
	}
	if rr.Model != "" {
		req.Model = rr.Model
	}
	if rr.AutoCleanupMinutes != nil {
		req.AutoCleanupMinutes = *rr.AutoCleanupMinutes
	}
	return req
}

func handleRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRunBodySize)
		defer r.Body.Close()

		var body RunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(body.Paths) == 0 && len(body.Files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of paths or files is required")
			return
		}

		req := body.apply(deps.Defaults)
		if len(body.Files) > 0 {
			dir, paths, err := writeInlineFiles(body.Files)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			defer os.RemoveAll(dir)
			req.Paths = append(req.Paths, paths...)
		}

		var prog progressLog
		req.Progress = prog.add

		res, err := deps.Runner.Run(r.Context(), req)
		if err != nil {
			writeRunError(w, res, err)
			return
		}

		resp := RunResponse{
			StoreID:       res.StoreID,
			SavedCopyPath: res.SavedCopyPath,
			ResponseID:    res.ResponseID,
			Model:         res.Model,
			Usage:         res.Usage,
			Upload:        res.Upload,
			Progress:      prog.lines(),
		}
		if res.CleanJSON != "" {
			resp.Result = json.RawMessage(res.CleanJSON)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// progressLog collects progress lines. Cleanup callbacks may still add
// lines after the response was written.
type progressLog struct {
	mu    sync.Mutex
	items []string
}

func (p *progressLog) add(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, line)
}

func (p *progressLog) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.items...)
}

// writeInlineFiles decodes files into a fresh temp dir. The caller removes
// the dir.
func writeInlineFiles(files []InlineFile) (string, []string, error) {
	dir, err := os.MkdirTemp("", "vsextract-run-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating upload dir: %w", err)
	}
	var paths []string
	for i, f := range files {
		name := filepath.Base(strings.TrimSpace(f.Name))
		if name == "" || name == "." || name == string(filepath.Separator) {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("files[%d]: name is required", i)
		}
		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("files[%d]: invalid base64 content: %v", i, err)
		}
		p := filepath.Join(dir, fmt.Sprintf("%02d-%s", i, name))
		if err := os.WriteFile(p, data, 0o600); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("files[%d]: %w", i, err)
		}
		paths = append(paths, p)
	}
	return dir, paths, nil
}

func writeRunError(w http.ResponseWriter, res pipeline.Result, err error) {
	var (
		ve *schema.ValidationError
		te *openai.TimeoutError
		re *openai.RemoteError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]any{
				"message": err.Error(),
				"type":    "validation_error",
				"issues":  ve.Issues,
			},
			"store_id": res.StoreID,
			"raw_text": res.RawText,
		})
	case errors.Is(err, uploader.ErrNoFiles):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &te):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	case errors.As(err, &re), errors.Is(err, pipeline.ErrMissingStoreID):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		slog.Error("run failed", "store_id", res.StoreID, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func handleJournal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 500)
		storeID := r.URL.Query().Get("store_id")

		entries, err := journal.NewSQLite(deps.Store).Recent(r.Context(), limit, storeID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read journal: %v", err)
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleListStores(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if parseBoolParam(r, "remote") {
			stores, err := deps.Stores.ListStores(r.Context())
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to list remote stores: %v", err)
				return
			}
			if stores == nil {
				stores = []openai.Store{}
			}
			writeJSON(w, http.StatusOK, stores)
			return
		}

		recs, err := deps.Store.ListStoreRecords(r.Context(), parseBoolParam(r, "all"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list stores: %v", err)
			return
		}
		if recs == nil {
			recs = []storage.StoreRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleDeleteStore(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rep, err := deleteStore(r.Context(), deps.Store, deps.Stores, deps.DeleteRaw, id)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// deleteStore removes a store remotely, then updates the registry and the
// journal. Registry and journal failures are logged only.
func deleteStore(ctx context.Context, store *storage.Store, api cleanup.StoreAPI, deleteRaw bool, id string) (cleanup.Report, error) {
	rep, err := cleanup.DeleteStore(ctx, api, id, deleteRaw)
	if err != nil {
		return rep, err
	}
	if err := cleanup.RecordDeletion(ctx, store, journal.NewSQLite(store), rep); err != nil {
		slog.Warn("recording store deletion failed", "store_id", id, "error", err)
	}
	return rep, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
