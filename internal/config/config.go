package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	OpenAI  OpenAIConfig
	HTTP    HTTPConfig
	Extract ExtractConfig
	Upload  UploadConfig
	Cleanup CleanupConfig
	Storage StorageConfig
	Results ResultsConfig
	Server  ServerConfig
	Log     LogConfig
}

type OpenAIConfig struct {
	BaseURL        string
	APIKeyPath     string
	APIKey         string
	ConnectTimeout string
	ReadTimeout    string
	RateLimitRPS   float64
}

type HTTPConfig struct {
	Proxy   string
	NoProxy string
}

type ExtractConfig struct {
	Model            string
	SystemPromptPath string
	Instruction      string
	StructuredOutput bool
}

type UploadConfig struct {
	Workers      int
	PollInterval string
	MaxWait      string
}

type CleanupConfig struct {
	AutoDeleteMinutes int
	DeleteRawFiles    bool
}

type StorageConfig struct {
	DataDir string
}

type ResultsConfig struct {
	Dir string
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// Timeouts is the fixed connect/read pair applied to every remote call.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIKeyPath:     defaultAPIKeyPath(),
			ConnectTimeout: "30s",
			ReadTimeout:    "180s",
		},
		Extract: ExtractConfig{
			Model: "gpt-4.1-mini",
		},
		Upload: UploadConfig{
			Workers:      4,
			PollInterval: "2s",
			MaxWait:      "300s",
		},
		Cleanup: CleanupConfig{
			AutoDeleteMinutes: 30,
			DeleteRawFiles:    true,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Results: ResultsConfig{
			Dir: filepath.Join(dataDir, "results"),
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables, then resolves the OpenAI credential.
//
// On macOS the backend is UserDefaults (domain: com.vsextract.app) and the
// credential falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vsextract/config.json.
//
// Environment variables (VSX_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// LoadSettings is Load without the credential requirement. Commands that
// never reach the OpenAI API (config show, journal) use it.
func LoadSettings() (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, newPlatformBackend()); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	key, err := resolveCredential(cfg, kc)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAI.APIKey = key

	if _, err := cfg.Timeouts(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Timeouts parses the configured connect/read timeout pair.
func (c Config) Timeouts() (Timeouts, error) {
	connect, err := time.ParseDuration(c.OpenAI.ConnectTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("invalid openai.connect_timeout %q: %w", c.OpenAI.ConnectTimeout, err)
	}
	read, err := time.ParseDuration(c.OpenAI.ReadTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("invalid openai.read_timeout %q: %w", c.OpenAI.ReadTimeout, err)
	}
	return Timeouts{Connect: connect, Read: read}, nil
}

// Duration parses a duration-valued key, falling back to def when the value
// is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// keychainReader reads from macOS Keychain via the security CLI, or from the
// secrets file elsewhere.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
