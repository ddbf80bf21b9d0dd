// Package preflight validates the published roots before a pass writes to
// them. The checks create a missing root but otherwise leave the tree as it is.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// CheckPublishRoot ensures path is a usable published root: not a filesystem
// root or the working directory itself, a directory (created when missing),
// and writable by the current user.
func CheckPublishRoot(path string) error {
	if path == "" {
		return errors.New("publish root is not configured")
	}
	clean := filepath.Clean(path)
	if clean == "." || clean == filepath.Dir(clean) {
		return fmt.Errorf("refusing to publish into %q", path)
	}

	info, err := os.Stat(clean)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(clean, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("cannot create publish root %s: %w", clean, err)
		}
	case err != nil:
		return fmt.Errorf("cannot access publish root %s: %w", clean, err)
	case !info.IsDir():
		return fmt.Errorf("publish root exists but is not a directory: %s", clean)
	}
	return checkWritable(clean)
}

// CheckSourceDir validates that path exists and is a directory.
func CheckSourceDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", path)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", path)
	}
	return nil
}

// checkWritable creates and removes a write-check file in dir.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".pgl-gallery-writecheck-*")
	if err != nil {
		return fmt.Errorf("publish root %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("cannot remove write-check file %s: %w", name, err)
	}
	return nil
}
