package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
	"github.com/paulschiretz/pgl-gallery/pkg/derive"
	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/fetch"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
	"github.com/paulschiretz/pgl-gallery/pkg/watch"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-gallery.config.json"

// Fetch modes.
const (
	FetchModeGit   = "git"
	FetchModeLocal = "local"
)

type PathsConfig struct {
	// WorkDir receives the clone of the comics repository. It is emptied before every sync.
	WorkDir string `json:"workDir"`
	// ComicsDir is the comics folder inside the repository.
	ComicsDir     string `json:"comicsDir"`
	ComicTarget   string `json:"comicTarget"`
	GalleryTarget string `json:"galleryTarget"`
	StagingDir    string `json:"stagingDir"`
	InboxDir      string `json:"inboxDir"`
}

type FetchConfig struct {
	Mode       string `json:"mode"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	// TokenEnv names the environment variable holding the access token.
	// The token itself is never stored in the config file.
	TokenEnv       string `json:"tokenEnv"`
	UserName       string `json:"userName"`
	Publish        bool   `json:"publish"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	LocalSource    string `json:"localSource"`
}

type DeriveConfig struct {
	Preview   derive.Profile `json:"preview"`
	Thumbnail derive.Profile `json:"thumbnail"`
}

type EngineConfig struct {
	PreviewWorkers  int  `json:"previewWorkers"`
	PreviewMemoryMB int  `json:"previewMemoryMB"`
	BufferSizeKB    int  `json:"bufferSizeKB"`
	TargetLock      bool `json:"targetLock"`
}

type WatchConfig struct {
	SettleSeconds int `json:"settleSeconds"`
}

type Config struct {
	Version       string       `json:"version"`
	BaseDir       string       `json:"-"` // Never added to config file
	LogLevel      string       `json:"logLevel"`
	LogFile       string       `json:"logFile"`
	LogMaxSizeMB  int          `json:"logMaxSizeMB"`
	LogMaxBackups int          `json:"logMaxBackups"`
	Paths         PathsConfig  `json:"paths"`
	Fetch         FetchConfig  `json:"fetch"`
	Derive        DeriveConfig `json:"derive"`
	Engine        EngineConfig `json:"engine"`
	Watch         WatchConfig  `json:"watch"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:       buildinfo.Version,
		LogLevel:      "info", // Default log level.
		LogFile:       "",     // Console only.
		LogMaxSizeMB:  10,
		LogMaxBackups: 5,
		Paths: PathsConfig{
			WorkDir:       "work",
			ComicsDir:     "comics",
			ComicTarget:   "", // Intentionally empty to force user configuration.
			GalleryTarget: "", // Intentionally empty to force user configuration.
			StagingDir:    "staging",
			InboxDir:      "inbox",
		},
		Fetch: FetchConfig{
			Mode:           FetchModeGit,
			Repository:     "",
			Branch:         "main",
			TokenEnv:       "PGL_GALLERY_TOKEN",
			UserName:       "",
			Publish:        false, // Pushing back to the repository is opt-in.
			TimeoutSeconds: int(fetch.DefaultTimeout / time.Second),
		},
		Derive: DeriveConfig{
			Preview:   derive.Preview,
			Thumbnail: derive.Thumbnail,
		},
		Engine: EngineConfig{
			PreviewWorkers:  4,
			PreviewMemoryMB: engine.DefaultPreviewMemoryMB, // Decoded pixels held by all preview workers together.
			BufferSizeKB:    256,                           // Keep it between 64KB-4MB
			TargetLock:      true,
		},
		Watch: WatchConfig{
			SettleSeconds: int(watch.DefaultSettle / time.Second),
		},
	}
}

// Load attempts to load a configuration from "pgl-gallery.config.json" in baseDir.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(baseDir string) (Config, error) {
	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for base directory %s: %w", baseDir, err)
	}

	configPath := filepath.Join(absBaseDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config := NewDefault()
			config.BaseDir = absBaseDir
			return config, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.BaseDir = absBaseDir

	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites pgl-gallery.config.json in the config's base directory.
func Generate(configToGenerate Config) error {
	if err := os.MkdirAll(configToGenerate.BaseDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	configPath := filepath.Join(configToGenerate.BaseDir, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the settings the command needs and resolves every path
// against the base directory.
func (c *Config) Validate(command flagparse.Command) error {
	if c.BaseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	for _, p := range []*string{
		&c.LogFile,
		&c.Paths.WorkDir,
		&c.Paths.ComicTarget,
		&c.Paths.GalleryTarget,
		&c.Paths.StagingDir,
		&c.Paths.InboxDir,
		&c.Fetch.LocalSource,
	} {
		resolved, err := util.ResolvePath(c.BaseDir, *p)
		if err != nil {
			return err
		}
		*p = resolved
	}
	if c.Paths.ComicsDir == "" || filepath.IsAbs(c.Paths.ComicsDir) {
		return fmt.Errorf("comicsDir must be a relative path inside the repository, got %q", c.Paths.ComicsDir)
	}

	if err := c.Derive.Preview.Validate(); err != nil {
		return fmt.Errorf("derive.preview: %w", err)
	}
	if err := c.Derive.Thumbnail.Validate(); err != nil {
		return fmt.Errorf("derive.thumbnail: %w", err)
	}
	if c.Engine.PreviewWorkers < 1 {
		return fmt.Errorf("previewWorkers must be at least 1")
	}
	if c.Engine.PreviewMemoryMB < 1 {
		return fmt.Errorf("previewMemoryMB must be at least 1")
	}
	if c.Engine.BufferSizeKB < 1 {
		return fmt.Errorf("bufferSizeKB must be at least 1")
	}

	switch command {
	case flagparse.Sync:
		if c.Paths.ComicTarget == "" {
			return fmt.Errorf("comicTarget cannot be empty")
		}
		switch c.Fetch.Mode {
		case FetchModeGit:
			if c.Fetch.Repository == "" {
				return fmt.Errorf("fetch.repository cannot be empty in git mode")
			}
			if c.Paths.WorkDir == "" {
				return fmt.Errorf("workDir cannot be empty in git mode")
			}
		case FetchModeLocal:
			if c.Fetch.LocalSource == "" {
				return fmt.Errorf("fetch.localSource cannot be empty in local mode")
			}
		default:
			return fmt.Errorf("invalid fetch.mode %q: must be 'git' or 'local'", c.Fetch.Mode)
		}
		if c.Fetch.TimeoutSeconds < 0 {
			return fmt.Errorf("fetch.timeoutSeconds cannot be negative")
		}
	case flagparse.Ingest, flagparse.Watch:
		if c.Paths.GalleryTarget == "" {
			return fmt.Errorf("galleryTarget cannot be empty")
		}
		if c.Paths.StagingDir == "" {
			return fmt.Errorf("stagingDir cannot be empty")
		}
		if command == flagparse.Watch {
			if c.Paths.InboxDir == "" {
				return fmt.Errorf("inboxDir cannot be empty")
			}
			if c.Watch.SettleSeconds < 1 {
				return fmt.Errorf("watch.settleSeconds must be at least 1")
			}
		}
	}
	return nil
}

// LogSummary prints a summary of the settings the command uses.
func (c *Config) LogSummary(command flagparse.Command) {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"base", c.BaseDir,
		"buffer_size_kb", c.Engine.BufferSizeKB,
		"target_lock", c.Engine.TargetLock,
	}
	if c.LogFile != "" {
		logArgs = append(logArgs, "log_file", c.LogFile)
	}
	switch command {
	case flagparse.Sync:
		logArgs = append(logArgs,
			"comic_target", c.Paths.ComicTarget,
			"fetch_mode", c.Fetch.Mode,
			"preview", fmt.Sprintf("%dx%d", c.Derive.Preview.MaxWidth, c.Derive.Preview.MaxHeight),
			"thumbnail", fmt.Sprintf("%dx%d", c.Derive.Thumbnail.MaxWidth, c.Derive.Thumbnail.MaxHeight),
			"preview_workers", c.Engine.PreviewWorkers,
			"preview_memory_mb", c.Engine.PreviewMemoryMB,
		)
		switch c.Fetch.Mode {
		case FetchModeGit:
			// Only the name of the token variable is logged.
			logArgs = append(logArgs,
				"repository", c.Fetch.Repository,
				"branch", c.Fetch.Branch,
				"token_env", c.Fetch.TokenEnv,
				"publish", c.Fetch.Publish,
			)
		case FetchModeLocal:
			logArgs = append(logArgs, "local_source", c.Fetch.LocalSource)
		}
	case flagparse.Ingest, flagparse.Watch:
		logArgs = append(logArgs,
			"gallery_target", c.Paths.GalleryTarget,
			"staging_dir", c.Paths.StagingDir,
		)
		if command == flagparse.Watch {
			logArgs = append(logArgs, "inbox", c.Paths.InboxDir, "settle_seconds", c.Watch.SettleSeconds)
		}
	}
	plog.Info("Configuration loaded", logArgs...)
}

// EngineOptions returns the engine settings of a validated config.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		ComicsDir:       c.Paths.ComicsDir,
		ComicTarget:     c.Paths.ComicTarget,
		GalleryTarget:   c.Paths.GalleryTarget,
		StagingDir:      c.Paths.StagingDir,
		Preview:         c.Derive.Preview,
		Thumbnail:       c.Derive.Thumbnail,
		PreviewWorkers:  c.Engine.PreviewWorkers,
		PreviewMemoryMB: c.Engine.PreviewMemoryMB,
		BufferSizeKB:    c.Engine.BufferSizeKB,
		TargetLock:      c.Engine.TargetLock,
	}
}

// NewFetcher returns the fetcher selected by fetch.mode.
func (c *Config) NewFetcher() (fetch.Fetcher, error) {
	switch c.Fetch.Mode {
	case FetchModeGit:
		return fetch.NewGit(fetch.GitOptions{
			WorkDir:    c.Paths.WorkDir,
			Repository: c.Fetch.Repository,
			Branch:     c.Fetch.Branch,
			TokenEnv:   c.Fetch.TokenEnv,
			UserName:   c.Fetch.UserName,
			ComicsDir:  c.Paths.ComicsDir,
			Publish:    c.Fetch.Publish,
			Timeout:    time.Duration(c.Fetch.TimeoutSeconds) * time.Second,
		}, nil), nil
	case FetchModeLocal:
		return fetch.NewLocal(c.Fetch.LocalSource), nil
	default:
		return nil, fmt.Errorf("invalid fetch.mode %q", c.Fetch.Mode)
	}
}

// WatchOptions returns the watcher settings of a validated config.
func (c *Config) WatchOptions() watch.Options {
	return watch.Options{Settle: time.Duration(c.Watch.SettleSeconds) * time.Second}
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "fetch-mode":
			merged.Fetch.Mode = value.(string)
		case "repository":
			merged.Fetch.Repository = value.(string)
		case "branch":
			merged.Fetch.Branch = value.(string)
		case "local-source":
			merged.Fetch.LocalSource = value.(string)
		case "publish":
			merged.Fetch.Publish = value.(bool)
		case "fetch-timeout-seconds":
			merged.Fetch.TimeoutSeconds = value.(int)
		case "comic-target":
			merged.Paths.ComicTarget = value.(string)
		case "preview-workers":
			merged.Engine.PreviewWorkers = value.(int)
		case "gallery-target":
			merged.Paths.GalleryTarget = value.(string)
		case "staging-dir":
			merged.Paths.StagingDir = value.(string)
		case "inbox":
			merged.Paths.InboxDir = value.(string)
		case "settle-seconds":
			merged.Watch.SettleSeconds = value.(int)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "target-lock":
			merged.Engine.TargetLock = value.(bool)
		case "base", "archive", "force", "default":
			// Consumed by the command itself.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command)
		}
	}
	return merged
}
