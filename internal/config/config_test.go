package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error  { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error           { delete(m, key); return nil }

// clearCredentialEnv isolates tests from a developer's real key.
func clearCredentialEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VSX_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("VSX_OPENAI_API_KEY_PATH", filepath.Join(t.TempDir(), "absent"))
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("VSX_OPENAI_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Extract.Model != "gpt-4.1-mini" {
		t.Errorf("Extract.Model = %q, want gpt-4.1-mini", cfg.Extract.Model)
	}
	if cfg.Upload.Workers != 4 {
		t.Errorf("Upload.Workers = %d, want 4", cfg.Upload.Workers)
	}
	if cfg.Cleanup.AutoDeleteMinutes != 30 {
		t.Errorf("Cleanup.AutoDeleteMinutes = %d, want 30", cfg.Cleanup.AutoDeleteMinutes)
	}
	if !cfg.Cleanup.DeleteRawFiles {
		t.Error("Cleanup.DeleteRawFiles = false, want true")
	}

	to, err := cfg.Timeouts()
	if err != nil {
		t.Fatalf("Timeouts: %v", err)
	}
	if to.Connect != 30*time.Second || to.Read != 180*time.Second {
		t.Errorf("Timeouts = %+v, want 30s/180s", to)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("VSX_OPENAI_API_KEY", "env-key")
	t.Setenv("VSX_EXTRACT_MODEL", "gpt-4o")
	t.Setenv("VSX_UPLOAD_WORKERS", "8")
	t.Setenv("VSX_EXTRACT_STRUCTURED_OUTPUT", "true")

	b := mapBackend{"extract.model": "from-backend", "upload.workers": 2}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.OpenAI.APIKey)
	}
	if cfg.Extract.Model != "gpt-4o" {
		t.Errorf("Extract.Model = %q, want gpt-4o", cfg.Extract.Model)
	}
	if cfg.Upload.Workers != 8 {
		t.Errorf("Upload.Workers = %d, want 8", cfg.Upload.Workers)
	}
	if !cfg.Extract.StructuredOutput {
		t.Error("Extract.StructuredOutput = false, want true")
	}
}

func TestBackendValues(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("VSX_OPENAI_API_KEY", "k")

	b := mapBackend{
		"openai.base_url":             "http://localhost:9999/v1",
		"cleanup.auto_delete_minutes": 5,
		"cleanup.delete_raw_files":    "false",
		"openai.rate_limit_rps":       "2.5",
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Cleanup.AutoDeleteMinutes != 5 {
		t.Errorf("AutoDeleteMinutes = %d, want 5", cfg.Cleanup.AutoDeleteMinutes)
	}
	if cfg.Cleanup.DeleteRawFiles {
		t.Error("DeleteRawFiles = true, want false")
	}
	if cfg.OpenAI.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.OpenAI.RateLimitRPS)
	}
}

func TestBackendTypedValues(t *testing.T) {
	b := mapBackend{
		"cleanup.delete_raw_files": "maybe",
		"openai.rate_limit_rps":    "",
	}
	if _, ok, err := getBool(b, "cleanup.delete_raw_files"); ok || err != nil {
		t.Errorf("unparseable bool: ok=%v err=%v, want unset", ok, err)
	}
	if _, ok, err := getFloat(b, "openai.rate_limit_rps"); ok || err != nil {
		t.Errorf("empty float: ok=%v err=%v, want unset", ok, err)
	}

	if err := setBool(b, "extract.structured_output", false); err != nil {
		t.Fatal(err)
	}
	if err := setFloat(b, "openai.rate_limit_rps", 0.25); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := getBool(b, "extract.structured_output"); !ok || v {
		t.Errorf("bool round trip = %v, %v", v, ok)
	}
	if v, ok, _ := getFloat(b, "openai.rate_limit_rps"); !ok || v != 0.25 {
		t.Errorf("float round trip = %v, %v", v, ok)
	}
	if b["openai.rate_limit_rps"] != "0.25" {
		t.Errorf("stored float = %v, want the string 0.25", b["openai.rate_limit_rps"])
	}
}

// TestMissingCredential verifies a clear error when the API key is missing everywhere.
func TestMissingCredential(t *testing.T) {
	clearCredentialEnv(t)

	_, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("error = %v, want ErrMissingCredential", err)
	}
	if !strings.Contains(err.Error(), "VSX_OPENAI_API_KEY") {
		t.Errorf("error = %q, want it to name VSX_OPENAI_API_KEY", err.Error())
	}
}

func TestKeyFileCredential(t *testing.T) {
	clearCredentialEnv(t)
	path := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(path, []byte("  file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VSX_OPENAI_API_KEY_PATH", path)

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "file-secret" {
		t.Errorf("APIKey = %q, want file-secret", cfg.OpenAI.APIKey)
	}
}

func TestEmptyKeyFile(t *testing.T) {
	clearCredentialEnv(t)
	path := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VSX_OPENAI_API_KEY_PATH", path)

	if _, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"}); err == nil {
		t.Fatal("expected error for empty key file")
	}
}

// TestKeychainFallback verifies the Keychain is consulted when no API key is in env or file.
func TestKeychainFallback(t *testing.T) {
	clearCredentialEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want keychain-secret", cfg.OpenAI.APIKey)
	}
}

func TestInvalidTimeout(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("VSX_OPENAI_API_KEY", "k")
	t.Setenv("VSX_OPENAI_READ_TIMEOUT", "soon")

	if _, err := loadWith(mapBackend{}, mockKeychain{}); err == nil {
		t.Fatal("expected error for invalid read timeout")
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 2 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"bogus", 2 * time.Second},
		{"-1s", 2 * time.Second},
	}
	for _, tt := range tests {
		if got := Duration(tt.raw, 2*time.Second); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKeyWith(b, "upload.workers", "6"); err != nil {
		t.Fatalf("setKeyWith int: %v", err)
	}
	if b["upload.workers"] != 6 {
		t.Errorf("upload.workers = %v, want 6", b["upload.workers"])
	}
	if err := setKeyWith(b, "cleanup.delete_raw_files", "no"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "extract.structured_output", "1"); err != nil {
		t.Fatalf("setKeyWith bool: %v", err)
	}
	if b["extract.structured_output"] != "true" {
		t.Errorf("extract.structured_output = %v, want true", b["extract.structured_output"])
	}
	if err := setKeyWith(b, "openai.api_key", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "openai.api_key" || strings.Contains(k.Value, "sk-secret") {
			t.Fatalf("ShowAll leaked secret key %q", k.Key)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll returned %d keys, ValidKeys %d", len(ShowAll(cfg)), len(ValidKeys()))
	}
}

type memSecrets map[string]string

func (m memSecrets) Get(service, account string) (string, error) {
	v, ok := m[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m memSecrets) Set(service, account, value string) error {
	m[service+"/"+account] = value
	return nil
}

func TestGetAPIToken_CreatesOnce(t *testing.T) {
	s := memSecrets{}
	first, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("token is empty")
	}
	second, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q != %q", first, second)
	}
}
