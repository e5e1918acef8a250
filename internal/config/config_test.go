package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wantDir := filepath.Join(home, DefaultConfigDir)
	if cfg.ConfigDir != wantDir {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, wantDir)
	}
	if info, err := os.Stat(wantDir); err != nil || info.Mode().Perm() != 0700 {
		t.Errorf("expected config dir with 0700, got %v, %v", info, err)
	}
	if cfg.LogPath != filepath.Join(wantDir, DefaultLogFile) {
		t.Errorf("unexpected log path %q", cfg.LogPath)
	}
	if cfg.Session.Backend != BackendMemory || cfg.Session.Threshold != 3 {
		t.Errorf("unexpected session defaults %+v", cfg.Session)
	}
	if _, ok := cfg.Intents["order_status"]; !ok {
		t.Error("expected default intent table")
	}
	f, err := cfg.FeatureFlags()
	if err != nil || f.ProtocolMode != "rewrite" {
		t.Errorf("unexpected flags %+v, %v", f, err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
log_level: debug
flags:
  firewall_log_only: true
  protocol_mode: strict
server:
  addr: ":9090"
  read_timeout: 3s
session:
  backend: redis
  redis_addr: redis:6379
  window: 5m
  threshold: 5
intents:
  warranty_status:
    tools: [warranty_lookup]
    fields: [order_number]
url_policies:
  whatsapp:
    allowed_hosts: [example.com]
`
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REPLYSHIELD_FLAG_CONFABULATION_LOG_ONLY", "true")
	t.Setenv("REPLYSHIELD_DATABASE_URL", "postgres://u:p@db/replyshield")
	t.Setenv("REPLYSHIELD_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path, "/tmp/custom.jsonl")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Server.Addr != ":9090" || cfg.Server.ReadTimeout != 3*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Session.Backend != BackendRedis || cfg.Session.Window != 5*time.Minute || cfg.Session.Threshold != 5 {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
	if cfg.LogPath != "/tmp/custom.jsonl" {
		t.Errorf("explicit log path should win, got %q", cfg.LogPath)
	}
	if cfg.Postgres.DSN == "" || len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if req, ok := cfg.Intents["warranty_status"]; !ok || req.Tools[0] != "warranty_lookup" {
		t.Errorf("unexpected intents %+v", cfg.Intents)
	}
	if cfg.URLPolicies["whatsapp"].AllowedHosts[0] != "example.com" {
		t.Errorf("unexpected url policies %+v", cfg.URLPolicies)
	}

	f, err := cfg.FeatureFlags()
	if err != nil {
		t.Fatalf("FeatureFlags: %v", err)
	}
	if !f.FirewallLogOnly || !f.ConfabulationLogOnly || f.ProtocolMode != "strict" {
		t.Errorf("unexpected flags %+v", f)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	dir := filepath.Join(home, DefaultConfigDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REPLYSHIELD_TEST_DOTENV_ADDR=:7070\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("REPLYSHIELD_TEST_DOTENV_ADDR") })

	if _, err := Load("", ""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("REPLYSHIELD_TEST_DOTENV_ADDR"); got != ":7070" {
		t.Errorf(".env not loaded, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Session.Backend = "etcd" }},
		{"negative corrections", func(c *Config) { c.Corrections.MaxAttempts = -1 }},
		{"bad protocol mode", func(c *Config) { c.Flags = map[string]any{"protocol_mode": "loud"} }},
		{"regenerate url without scheme", func(c *Config) { c.Corrections.RegenerateURL = "llm.internal/regenerate" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults(t.TempDir())
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestApplyEnv_RegenerateURL(t *testing.T) {
	cfg := Defaults(t.TempDir())
	if err := cfg.applyEnv([]string{"REPLYSHIELD_REGENERATE_URL=http://llm:9000/regenerate"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Corrections.RegenerateURL != "http://llm:9000/regenerate" {
		t.Errorf("expected regenerate URL from env, got %q", cfg.Corrections.RegenerateURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Defaults(t.TempDir())
	err := cfg.applyEnv([]string{"REPLYSHIELD_MAX_CORRECTIONS=many", "PATH=/bin"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
