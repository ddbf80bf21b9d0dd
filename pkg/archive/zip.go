package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

func extractZip(ctx context.Context, archivePath, targetDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip file: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		abs, err := targetPath(targetDir, f.Name)
		if err != nil {
			return err
		}
		if isRoot(targetDir, abs) {
			if f.FileInfo().IsDir() {
				continue
			}
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		switch {
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(abs, util.UserWritableDirPerms); err != nil {
				return err
			}
		case f.Mode()&os.ModeSymlink != 0:
			plog.Warn("Skipping symlink in upload", "entry", f.Name)
		case f.Mode().IsRegular():
			if err := writeZipEntry(f, abs); err != nil {
				return fmt.Errorf("failed to extract %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, abs string) error {
	if err := os.MkdirAll(filepath.Dir(abs), util.UserWritableDirPerms); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	// Remove first so a symlink planted by an earlier entry is not followed.
	_ = os.Remove(abs)
	out, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, safeMode(f.Mode()))
	if err != nil {
		return err
	}
	bufPtr := bufferPool.Get().(*[]byte)
	_, err = io.CopyBuffer(out, rc, *bufPtr)
	bufferPool.Put(bufPtr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(abs, f.Modified, f.Modified)
	}
	return nil
}
