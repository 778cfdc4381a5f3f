// Package config loads bridge settings from a TOML file, falling back to
// sensible defaults when no file is given.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config carries the settings both the serving runtime and the client CLI
// read.
type Config struct {
	// SandboxRoot confines relative file paths passed to tools.
	SandboxRoot string `toml:"sandbox_root"`
	// ArtifactsDir is where save_text and alert reports land.
	ArtifactsDir string `toml:"artifacts_dir"`
	// StatePath is the JSON key/value store file.
	StatePath string `toml:"state_path"`
	// ServerCommand is the peer command line the client spawns.
	ServerCommand string `toml:"server_command"`
	// ReadMaxBytes caps read_file and incremental reads.
	ReadMaxBytes int `toml:"read_max_bytes"`
	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file overrides it. Paths
// are anchored under ~/.toolbridge.
func Default() Config {
	base := ".toolbridge"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".toolbridge")
	}
	return Config{
		SandboxRoot:   filepath.Join(base, "sandbox"),
		ArtifactsDir:  filepath.Join(base, "artifacts"),
		StatePath:     filepath.Join(base, "state.json"),
		ServerCommand: "toolbridge serve",
		ReadMaxBytes:  65536,
		LogLevel:      "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// unchanged; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SandboxRoot == "" {
		return fmt.Errorf("sandbox_root must be set")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if c.ReadMaxBytes <= 0 {
		return fmt.Errorf("read_max_bytes must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
