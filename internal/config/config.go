// Package config holds the export service configuration. Values come from
// an optional YAML file with EXPORTRA_* environment variables layered on
// top, so container deployments can override single fields without
// shipping a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds session record persistence settings
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// ExportConfig holds export pipeline settings
type ExportConfig struct {
	// TmpRoot is the directory under which each session gets an isolated
	// working directory keyed by session id.
	TmpRoot string `yaml:"tmp_root"`

	FFmpegPath string `yaml:"ffmpeg_path"`

	// Output defaults; a snapshot's canvas size wins over Width/Height.
	FPS    int `yaml:"fps"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FrameFormat selects the rendered frame image format: png or webp.
	FrameFormat string `yaml:"frame_format"`

	// SeekTimeout bounds how long a single frame's video seek may take
	// before the nearest reached frame is used instead.
	SeekTimeout time.Duration `yaml:"seek_timeout"`

	// RetainFramesOnFailure keeps a failed session's frame directory for
	// diagnostics instead of deleting it.
	RetainFramesOnFailure bool `yaml:"retain_frames_on_failure"`

	// MaxConcurrentSessions caps simultaneous exports; 0 means unlimited.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// MinFreeDiskMB aborts an export up front when the temp volume has
	// less than this much free space.
	MinFreeDiskMB uint64 `yaml:"min_free_disk_mb"`

	// CleanupInterval and RetentionAge drive the orphaned-directory sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RetentionAge    time.Duration `yaml:"retention_age"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "exportra.db",
		},
		Export: ExportConfig{
			TmpRoot:               filepath.Join(os.TempDir(), "exportra"),
			FFmpegPath:            "ffmpeg",
			FPS:                   30,
			Width:                 1920,
			Height:                1080,
			FrameFormat:           "png",
			SeekTimeout:           500 * time.Millisecond,
			MaxConcurrentSessions: 4,
			MinFreeDiskMB:         512,
			CleanupInterval:       30 * time.Minute,
			RetentionAge:          2 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML file (optional) and then
// applies environment overrides. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EXPORTRA_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("EXPORTRA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EXPORTRA_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("EXPORTRA_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("EXPORTRA_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("EXPORTRA_TMP_ROOT"); v != "" {
		c.Export.TmpRoot = v
	}
	if v := os.Getenv("EXPORTRA_FFMPEG_PATH"); v != "" {
		c.Export.FFmpegPath = v
	}
	if v := os.Getenv("EXPORTRA_FPS"); v != "" {
		if fps, err := strconv.Atoi(v); err == nil && fps > 0 {
			c.Export.FPS = fps
		}
	}
	if v := os.Getenv("EXPORTRA_FRAME_FORMAT"); v != "" {
		c.Export.FrameFormat = v
	}
	if v := os.Getenv("EXPORTRA_SEEK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Export.SeekTimeout = d
		}
	}
	if v := os.Getenv("EXPORTRA_RETAIN_FRAMES"); v != "" {
		c.Export.RetainFramesOnFailure = v == "1" || v == "true"
	}
	if v := os.Getenv("EXPORTRA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.Export.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive, got %d", c.Export.FPS)
	}
	switch c.Export.FrameFormat {
	case "png", "webp":
	default:
		return fmt.Errorf("config: unsupported frame format %q", c.Export.FrameFormat)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
