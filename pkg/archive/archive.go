// Package archive unpacks gallery uploads (zip, tar.gz, tar.zst) into a
// staging directory. Entries that would land outside the target are rejected,
// symlinks are skipped and SUID/SGID bits are stripped.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Format is a supported archive format.
type Format int

const (
	Unknown Format = iota
	Zip
	TarGz
	TarZst
)

var formatNames = map[Format]string{
	Zip:    "zip",
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// DetectFormat derives the format from the file name.
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return Zip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TarGz, nil
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return TarZst, nil
	default:
		return Unknown, fmt.Errorf("unsupported archive %q: expected .zip, .tar.gz or .tar.zst", filepath.Base(path))
	}
}

// IsArchive reports whether path has a supported archive extension.
func IsArchive(path string) bool {
	_, err := DetectFormat(path)
	return err == nil
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 256*1024)
		return &b
	},
}

// Extract unpacks archivePath into targetDir, creating it if needed.
func Extract(ctx context.Context, archivePath, targetDir string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create extraction target %s: %w", targetDir, err)
	}
	plog.Notice("EXTRACT", "source", archivePath, "target", targetDir, "format", format)

	switch format {
	case Zip:
		return extractZip(ctx, archivePath, targetDir)
	default:
		return extractTar(ctx, format, archivePath, targetDir)
	}
}

// targetPath resolves an entry name below targetDir. The root itself ("./"
// in archives made with tar -C dir .) resolves to targetDir.
// Zip Slip protection: names escaping the target are rejected.
func targetPath(targetDir, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	root := filepath.Clean(targetDir)
	abs := filepath.Join(root, rel)
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return abs, nil
}

// isRoot reports whether abs is the extraction target itself.
func isRoot(targetDir, abs string) bool {
	return abs == filepath.Clean(targetDir)
}

// safeMode keeps only the permission bits (dropping SUID and SGID) and
// forces the owner-write bit.
func safeMode(mode os.FileMode) os.FileMode {
	return util.WithUserWritePermission(mode.Perm())
}

// SourceRoot returns dir, or its single subdirectory when dir holds nothing
// else and marker is not directly in dir. Uploads zipped with their enclosing
// folder land one level deeper than uploads zipped from inside it.
func SourceRoot(dir, marker string) string {
	if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
		return dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
