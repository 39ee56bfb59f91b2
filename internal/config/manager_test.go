package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./adcast.db
  busy_timeout: 5s
platform:
  connection_retries: 3
  chats:
    10: [100, 200]
engine:
  min_group_delay: 5s
  max_group_delay: 20s
  round_pause: 15m
  session_message_limit: 30
`)

	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
	if cfg.Platform.ConnectionRetries != 3 {
		t.Fatalf("retries = %d", cfg.Platform.ConnectionRetries)
	}
	if got := cfg.Platform.Chats[10]; len(got) != 2 || got[0] != 100 {
		t.Fatalf("chats = %+v", cfg.Platform.Chats)
	}
	if cfg.Engine.RoundPause != "15m" || cfg.Engine.SessionMessageLimit != 30 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
logging:
  level: info
typo_section:
  foo: 1
`)
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseDurations(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "15m"); err != nil || d != 15*time.Minute {
		t.Fatalf("15m -> %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty -> %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "yesterday"); err == nil {
		t.Fatal("expected error for junk duration")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 10*time.Second); err != nil || d != 10*time.Second {
		t.Fatalf("default -> %v, %v", d, err)
	}
}

func TestCommitAndCurrent(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	if m.Current() != nil {
		t.Fatal("fresh manager should have no config")
	}
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	m.Commit(cfg)
	if got := m.Current(); got == nil || got.Logging.Level != "warn" {
		t.Fatalf("Current = %+v", got)
	}
}
