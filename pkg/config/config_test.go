package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/fetch"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
)

func TestConfig_Validate(t *testing.T) {
	// Helper to get a valid base config for testing
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.BaseDir = t.TempDir()
		cfg.Paths.ComicTarget = "site/comics"
		cfg.Paths.GalleryTarget = "site/gallery"
		cfg.Fetch.Repository = "https://example.com/org/comics.git"
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		for _, cmd := range []flagparse.Command{flagparse.Sync, flagparse.Ingest, flagparse.Watch} {
			cfg := newValidConfig(t)
			if err := cfg.Validate(cmd); err != nil {
				t.Errorf("expected valid config to pass validation for %s, but got error: %v", cmd, err)
			}
		}
	})

	t.Run("Relative Paths Resolve Against Base", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(flagparse.Sync); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := filepath.Join(cfg.BaseDir, "site", "comics"); cfg.Paths.ComicTarget != want {
			t.Errorf("expected %s, got %s", want, cfg.Paths.ComicTarget)
		}
		if want := filepath.Join(cfg.BaseDir, "work"); cfg.Paths.WorkDir != want {
			t.Errorf("expected %s, got %s", want, cfg.Paths.WorkDir)
		}
		if cfg.Paths.ComicsDir != "comics" {
			t.Errorf("comicsDir must stay relative, got %s", cfg.Paths.ComicsDir)
		}
	})

	t.Run("Empty Comic Target", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Paths.ComicTarget = ""
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for empty comic target, but got nil")
		}
		// Ingestion does not need it.
		cfg = newValidConfig(t)
		cfg.Paths.ComicTarget = ""
		if err := cfg.Validate(flagparse.Ingest); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Empty Gallery Target", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Paths.GalleryTarget = ""
		if err := cfg.Validate(flagparse.Watch); err == nil {
			t.Error("expected error for empty gallery target, but got nil")
		}
	})

	t.Run("Git Mode Requires Repository", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Fetch.Repository = ""
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for missing repository, but got nil")
		}
	})

	t.Run("Local Mode Requires Source", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Fetch.Mode = FetchModeLocal
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for missing local source, but got nil")
		}
	})

	t.Run("Invalid Fetch Mode", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Fetch.Mode = "svn"
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for invalid fetch mode, but got nil")
		}
	})

	t.Run("Invalid Profile", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Derive.Thumbnail.MaxHeight = 0
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for zero thumbnail height, but got nil")
		}
	})

	t.Run("Invalid PreviewWorkers", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Engine.PreviewWorkers = 0
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for zero preview workers, but got nil")
		}
	})

	t.Run("Absolute ComicsDir", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Paths.ComicsDir = t.TempDir()
		if err := cfg.Validate(flagparse.Sync); err == nil {
			t.Error("expected error for absolute comicsDir, but got nil")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("No Config File", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg, err := Load(tempDir)
		if err != nil {
			t.Fatalf("expected no error when config file is missing, but got: %v", err)
		}
		if cfg.Fetch.Branch != "main" {
			t.Errorf("expected default branch, but got %s", cfg.Fetch.Branch)
		}
		if cfg.BaseDir != tempDir {
			t.Errorf("expected base dir %s, got %s", tempDir, cfg.BaseDir)
		}
	})

	t.Run("Valid Config File", func(t *testing.T) {
		tempDir := t.TempDir()
		content := `{"fetch": {"branch": "release"}, "derive": {"preview": {"maxWidth": 800, "maxHeight": 1000}}}`
		if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}

		cfg, err := Load(tempDir)
		if err != nil {
			t.Fatalf("expected no error when loading valid config, but got: %v", err)
		}
		if cfg.Fetch.Branch != "release" {
			t.Errorf("expected branch 'release', but got %s", cfg.Fetch.Branch)
		}
		if cfg.Derive.Preview.MaxWidth != 800 || cfg.Derive.Preview.MaxHeight != 1000 {
			t.Errorf("unexpected preview profile %+v", cfg.Derive.Preview)
		}
		// Values not in the file keep their defaults.
		if cfg.Derive.Thumbnail.MaxWidth != 200 {
			t.Errorf("expected default thumbnail, but got %+v", cfg.Derive.Thumbnail)
		}
		if cfg.Fetch.TimeoutSeconds != int(fetch.DefaultTimeout/time.Second) {
			t.Errorf("expected default timeout, but got %d", cfg.Fetch.TimeoutSeconds)
		}
	})

	t.Run("Malformed Config File", func(t *testing.T) {
		tempDir := t.TempDir()
		content := `{"fetch": {"branch": "release"},}` // Extra comma
		if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}
		if _, err := Load(tempDir); err == nil {
			t.Fatal("expected an error when loading malformed config, but got nil")
		}
	})
}

func TestGenerateRoundTrip(t *testing.T) {
	cfg := NewDefault()
	cfg.BaseDir = filepath.Join(t.TempDir(), "new")
	cfg.Paths.GalleryTarget = "/srv/gallery"
	if err := Generate(cfg); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	loaded, err := Load(cfg.BaseDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Paths.GalleryTarget != "/srv/gallery" {
		t.Errorf("expected gallery target to survive, got %q", loaded.Paths.GalleryTarget)
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	merged := MergeConfigWithFlags(flagparse.Sync, base, map[string]any{
		"fetch-mode":      "local",
		"local-source":    "/src",
		"publish":         true,
		"preview-workers": 2,
		"target-lock":     false,
		"base":            "/ignored",
	})

	if merged.Fetch.Mode != FetchModeLocal || merged.Fetch.LocalSource != "/src" {
		t.Errorf("fetch settings not merged: %+v", merged.Fetch)
	}
	if !merged.Fetch.Publish {
		t.Error("expected publish to be set")
	}
	if merged.Engine.PreviewWorkers != 2 || merged.Engine.TargetLock {
		t.Errorf("engine settings not merged: %+v", merged.Engine)
	}
	// Untouched values keep the base.
	if merged.Fetch.Branch != base.Fetch.Branch {
		t.Errorf("expected branch %s, got %s", base.Fetch.Branch, merged.Fetch.Branch)
	}
	if base.Fetch.Mode != FetchModeGit {
		t.Error("merge must not modify the base config")
	}
}

func TestNewFetcher(t *testing.T) {
	cfg := NewDefault()
	cfg.Fetch.Mode = FetchModeLocal
	cfg.Fetch.LocalSource = "/src"
	f, err := cfg.NewFetcher()
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	if _, ok := f.(*fetch.Local); !ok {
		t.Errorf("expected a local fetcher, got %T", f)
	}

	cfg.Fetch.Mode = FetchModeGit
	f, err = cfg.NewFetcher()
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	if _, ok := f.(fetch.Publisher); !ok {
		t.Errorf("expected the git fetcher to publish, got %T", f)
	}
}
