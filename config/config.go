// Package config loads the CLI's YAML run configuration. Flags always win
// over the file; the file wins over the built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one run's settings.
type Config struct {
	// File is the point-cloud source path.
	File string `yaml:"file"`

	// Radius is the search radius.
	Radius float32 `yaml:"radius"`

	// KNN is the per-query neighbor capacity.
	KNN int `yaml:"knn"`

	// Device selects the device index from the enumerated registry.
	Device int `yaml:"device"`

	// Lanes overrides the device's lane count. 0 keeps the default.
	Lanes int `yaml:"lanes"`

	// Epsilon is the probe admission slack. 0 keeps the default.
	Epsilon float32 `yaml:"epsilon"`

	// MaxTrace is the link-time continuation budget. 0 keeps the default.
	MaxTrace int `yaml:"max_trace"`

	// SnapshotDir, when set, saves the built structures there and restores
	// from it on later runs.
	SnapshotDir string `yaml:"snapshot_dir"`

	// Compression selects the snapshot block codec: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	Log       Log       `yaml:"log"`
	Resources Resources `yaml:"resources"`
}

// Log configures diagnostic output.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Resources bounds the emulated device.
type Resources struct {
	DeviceMemoryBytes   int64 `yaml:"device_memory_bytes"`
	MaxConcurrentBuilds int64 `yaml:"max_concurrent_builds"`
	CopyBytesPerSec     int64 `yaml:"copy_bytes_per_sec"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Radius:      2.0,
		KNN:         50,
		Compression: "zstd",
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// SlogLevel maps the configured level name onto slog.
func (l Log) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", l.Level)
	}
}
