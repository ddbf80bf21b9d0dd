// Package metafile reads and writes the JSON metadata files of the published
// tree (gallery info.json, tag indexes). Writes go through a temp file in the
// same directory and an atomic rename, so readers never see a half-written file.
package metafile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Read opens and parses the JSON file at path into v.
// A missing file returns the original error so os.IsNotExist works for callers.
func Read(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("could not parse %s: %w. It may be corrupt", path, err)
	}
	return nil
}

// Write marshals v with two-space indentation and replaces path atomically.
func Write(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("could not marshal %s: %w", filepath.Base(path), err)
	}
	return WriteBytes(path, buf.Bytes())
}

// WriteBytes replaces path with data atomically.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	out, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file in %s: %w", dir, err)
	}
	tmp := out.Name()
	defer func() {
		if tmp != "" {
			os.Remove(tmp)
		}
	}()

	if _, err := out.Write(data); err != nil {
		out.Close()
		return fmt.Errorf("could not write %s: %w", tmp, err)
	}
	// Published metadata is shared with the site's deploy user; keep it group-writable.
	if err := out.Chmod(util.UserGroupWritableFilePerms); err != nil {
		out.Close()
		return fmt.Errorf("could not set permissions on %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("could not close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("could not replace %s: %w", path, err)
	}
	tmp = ""
	return nil
}
