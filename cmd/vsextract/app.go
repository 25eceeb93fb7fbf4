package main

import (
	"fmt"
	"log/slog"

	"github.com/kalambet/vsextract/internal/config"
	"github.com/kalambet/vsextract/internal/extract"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/openai"
	"github.com/kalambet/vsextract/internal/pipeline"
	"github.com/kalambet/vsextract/internal/storage"
	"github.com/kalambet/vsextract/internal/uploader"
)

// app bundles the collaborators every remote command needs.
type app struct {
	cfg       config.Config
	client    *openai.Client
	store     *storage.Store
	extractor *extract.Client
	uploader  *uploader.Uploader
	prompt    string
}

// openApp loads configuration, builds the OpenAI client and opens the local
// database. The caller must call close.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	tm, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		ConnectTimeout: tm.Connect,
		ReadTimeout:    tm.Read,
		RateLimitRPS:   cfg.OpenAI.RateLimitRPS,
		Proxy:          cfg.HTTP.Proxy,
		NoProxy:        cfg.HTTP.NoProxy,
	})
	if err != nil {
		return nil, err
	}

	prompt, err := extract.LoadSystemPrompt(cfg.Extract.SystemPromptPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	ex := extract.NewClient(client)
	ex.StructuredOutput = cfg.Extract.StructuredOutput

	up := uploader.New(client, uploader.Options{
		Workers:      cfg.Upload.Workers,
		PollInterval: config.Duration(cfg.Upload.PollInterval, uploader.DefaultPollInterval),
		MaxWait:      config.Duration(cfg.Upload.MaxWait, uploader.DefaultMaxWait),
	})

	return &app{
		cfg:       cfg,
		client:    client,
		store:     store,
		extractor: ex,
		uploader:  up,
		prompt:    prompt,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func (a *app) journal() *journal.SQLite {
	return journal.NewSQLite(a.store)
}

// runner builds a pipeline runner that journals to the local database.
// sched may be nil.
func (a *app) runner(sched pipeline.CleanupScheduler) *pipeline.Runner {
	opts := pipeline.Options{
		Journal:  a.journal(),
		Registry: a.store,
	}
	if sched != nil {
		opts.Cleanup = sched
	}
	return pipeline.NewRunner(a.uploader, a.extractor, opts)
}

// defaults is the run request implied by configuration alone.
func (a *app) defaults() pipeline.Request {
	return pipeline.Request{
		WaitForIndex:       true,
		Instruction:        a.cfg.Extract.Instruction,
		Model:              a.cfg.Extract.Model,
		SystemPrompt:       a.prompt,
		AutoCleanupMinutes: a.cfg.Cleanup.AutoDeleteMinutes,
	}
}
