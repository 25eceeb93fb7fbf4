package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	keychainService   = "vsextract"
	keychainAccount   = "openai_api_key"
	apiTokenAccount   = "api_token"
	envAPIKey         = "VSX_OPENAI_API_KEY"
	envOpenAIFallback = "OPENAI_API_KEY"
)

// ErrMissingCredential is returned when no OpenAI API key could be found.
var ErrMissingCredential = errors.New("missing OpenAI API key")

// LoadCredential resolves the OpenAI API key from the environment, the key
// file at path, or the platform secret store, in that order.
func LoadCredential(path string) (string, error) {
	cfg := defaults()
	cfg.OpenAI.APIKeyPath = path
	return resolveCredential(cfg, keychainReader{})
}

func resolveCredential(cfg Config, kc keychain) (string, error) {
	if cfg.OpenAI.APIKey != "" {
		return cfg.OpenAI.APIKey, nil
	}
	for _, env := range []string{envAPIKey, envOpenAIFallback} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}

	if cfg.OpenAI.APIKeyPath != "" {
		key, err := readKeyFile(cfg.OpenAI.APIKeyPath)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	if key, err := kc.Get(keychainService, keychainAccount); err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("%w: set %s (or %s), write the key to %s%s",
		ErrMissingCredential, envAPIKey, envOpenAIFallback, cfg.OpenAI.APIKeyPath, apiKeyHint())
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("API key file %s is empty", path)
	}
	return key, nil
}

func defaultAPIKeyPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vsextract", "openai_api_key")
}

// GetAPIToken returns the bearer token guarding the local HTTP API, creating
// and storing a random one on first use.
func GetAPIToken(kc SecretStore) (string, error) {
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.NewString()
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SecretStore reads and writes secrets in the platform secret store.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformSecrets struct{ keychainReader }

func (platformSecrets) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// NewKeychain returns the platform secret store.
func NewKeychain() SecretStore {
	return platformSecrets{}
}
