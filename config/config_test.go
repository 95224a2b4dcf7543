package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDataDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnvOverride, dir)

	got, err := ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("got %q, want %q", got, dir)
	}
}

func TestLoadOrCreateWritesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnvOverride, dir)

	cfg, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.ConfigDir != dir {
		t.Fatalf("unexpected config dir: %s", cfg.ConfigDir)
	}
	if cfg.MaxConcurrentFiles != 5 || cfg.MaxConcurrentSessions != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(ConfigPath(dir)); err != nil {
		t.Fatalf("expected config.json to be written: %v", err)
	}
	if _, err := os.Stat(cfg.DownloadDir); err != nil {
		t.Fatalf("expected download dir to be created: %v", err)
	}
}

func TestLoadOrCreateBackfillsPartialConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnvOverride, dir)

	if err := EnsureDataDirectories(dir, filepath.Join(dir, "downloads")); err != nil {
		t.Fatalf("EnsureDataDirectories: %v", err)
	}
	partial := &RuntimeConfig{MaxConcurrentFiles: 9}
	if err := Save(ConfigPath(dir), partial); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.MaxConcurrentFiles != 9 {
		t.Fatalf("expected explicit value preserved, got %d", cfg.MaxConcurrentFiles)
	}
	if cfg.MaxConcurrentSessions != 4 || cfg.BindAddress == "" || cfg.IngestBindAddress == "" {
		t.Fatalf("expected zero fields backfilled: %+v", cfg)
	}

	reloaded, err := Load(ConfigPath(dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.BindAddress == "" {
		t.Fatal("expected backfilled config to be persisted")
	}
}

func TestSaveWritesOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := Save(path, defaultConfig(dir, filepath.Join(dir, "downloads"))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected perms: %v", info.Mode().Perm())
	}
}
