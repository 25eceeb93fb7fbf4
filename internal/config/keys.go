package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "openai.base_url", typ: kString, env: "VSX_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key_path", typ: kString, env: "VSX_OPENAI_API_KEY_PATH",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKeyPath = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKeyPath },
	},
	{
		key: "openai.api_key", typ: kString, env: envAPIKey,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.connect_timeout", typ: kString, env: "VSX_OPENAI_CONNECT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ConnectTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ConnectTimeout },
	},
	{
		key: "openai.read_timeout", typ: kString, env: "VSX_OPENAI_READ_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ReadTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ReadTimeout },
	},
	{
		key: "openai.rate_limit_rps", typ: kFloat, env: "VSX_OPENAI_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenAI.RateLimitRPS },
	},
	{
		key: "http.proxy", typ: kString, env: "VSX_HTTP_PROXY",
		apply:   func(cfg *Config, v any) { cfg.HTTP.Proxy = v.(string) },
		extract: func(cfg Config) any { return cfg.HTTP.Proxy },
	},
	{
		key: "http.no_proxy", typ: kString, env: "VSX_HTTP_NO_PROXY",
		apply:   func(cfg *Config, v any) { cfg.HTTP.NoProxy = v.(string) },
		extract: func(cfg Config) any { return cfg.HTTP.NoProxy },
	},
	{
		key: "extract.model", typ: kString, env: "VSX_EXTRACT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Extract.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Model },
	},
	{
		key: "extract.system_prompt_path", typ: kString, env: "VSX_EXTRACT_SYSTEM_PROMPT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Extract.SystemPromptPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.SystemPromptPath },
	},
	{
		key: "extract.instruction", typ: kString, env: "VSX_EXTRACT_INSTRUCTION",
		apply:   func(cfg *Config, v any) { cfg.Extract.Instruction = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Instruction },
	},
	{
		key: "extract.structured_output", typ: kBool, env: "VSX_EXTRACT_STRUCTURED_OUTPUT",
		apply:   func(cfg *Config, v any) { cfg.Extract.StructuredOutput = v.(bool) },
		extract: func(cfg Config) any { return cfg.Extract.StructuredOutput },
	},
	{
		key: "upload.workers", typ: kInt, env: "VSX_UPLOAD_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Upload.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.Workers },
	},
	{
		key: "upload.poll_interval", typ: kString, env: "VSX_UPLOAD_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Upload.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.PollInterval },
	},
	{
		key: "upload.max_wait", typ: kString, env: "VSX_UPLOAD_MAX_WAIT",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxWait = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.MaxWait },
	},
	{
		key: "cleanup.auto_delete_minutes", typ: kInt, env: "VSX_CLEANUP_AUTO_DELETE_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.AutoDeleteMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Cleanup.AutoDeleteMinutes },
	},
	{
		key: "cleanup.delete_raw_files", typ: kBool, env: "VSX_CLEANUP_DELETE_RAW_FILES",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.DeleteRawFiles = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cleanup.DeleteRawFiles },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VSX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "results.dir", typ: kString, env: "VSX_RESULTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Results.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Results.Dir },
	},
	{
		key: "server.port", typ: kInt, env: "VSX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "VSX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := getBool(b, s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := getFloat(b, s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
