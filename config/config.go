// Package config resolves the OS-appropriate application data directory
// and loads or creates the persisted RuntimeConfig, grounded on the
// teacher's config.ResolveDataDir/LoadOrCreate pair (there keyed to a
// single chat device; here carrying the transfer engine's bind
// addresses and concurrency limits).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// AppDirectoryName is the per-user application data directory name.
const AppDirectoryName = "p2pxfer"

// DataDirEnvOverride lets tests and containers pin the data directory
// without touching the real OS-specific location.
const DataDirEnvOverride = "P2PXFER_DATA_DIR"

const configFileName = "config.json"

// defaultBindAddress binds the QUIC transport to all interfaces on an
// OS-assigned port; defaultIngestBindAddress stays loopback-only until a
// user explicitly widens it, since it is a browser-reachable surface.
const defaultBindAddress = "0.0.0.0:0"
const defaultIngestBindAddress = "127.0.0.1:0"

// RuntimeConfig is the persisted process configuration (spec.md §3,
// expanded).
type RuntimeConfig struct {
	BindAddress           string `json:"bind_address"`
	DownloadDir           string `json:"download_dir"`
	ConfigDir             string `json:"config_dir"`
	MaxConcurrentFiles    int    `json:"max_concurrent_files"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions"`
	IngestBindAddress     string `json:"ingest_bind_address"`
}

// ResolveDataDir returns the OS-aware application data directory,
// honoring DataDirEnvOverride when set.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnvOverride); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json under dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates dataDir and its subdirectories with
// owner-only permissions, per spec.md §6.1.
func EnsureDataDirectories(dataDir, downloadDir string) error {
	for _, dir := range []string{dataDir, downloadDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Load reads and unmarshals config.json from path.
func Load(path string) (*RuntimeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RuntimeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save marshals and writes cfg to path with owner-only permissions.
func Save(path string, cfg *RuntimeConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// LoadOrCreate resolves the data directory, ensures its subdirectories
// exist, and loads config.json, creating one with defaults on first run.
func LoadOrCreate() (*RuntimeConfig, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, err
	}
	downloadDir := filepath.Join(dataDir, "downloads")
	if err := EnsureDataDirectories(dataDir, downloadDir); err != nil {
		return nil, err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err == nil {
		if normalizeDefaults(cfg, dataDir, downloadDir) {
			if err := Save(cfgPath, cfg); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = defaultConfig(dataDir, downloadDir)
	if err := Save(cfgPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig(dataDir, downloadDir string) *RuntimeConfig {
	return &RuntimeConfig{
		BindAddress:           defaultBindAddress,
		DownloadDir:           downloadDir,
		ConfigDir:             dataDir,
		MaxConcurrentFiles:    5,
		MaxConcurrentSessions: 4,
		IngestBindAddress:     defaultIngestBindAddress,
	}
}

// normalizeDefaults backfills any zero-valued field left by an older or
// hand-edited config.json, reporting whether it changed anything.
func normalizeDefaults(cfg *RuntimeConfig, dataDir, downloadDir string) bool {
	updated := false
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = dataDir
		updated = true
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = downloadDir
		updated = true
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = defaultBindAddress
		updated = true
	}
	if cfg.IngestBindAddress == "" {
		cfg.IngestBindAddress = defaultIngestBindAddress
		updated = true
	}
	if cfg.MaxConcurrentFiles <= 0 {
		cfg.MaxConcurrentFiles = 5
		updated = true
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 4
		updated = true
	}
	return updated
}
