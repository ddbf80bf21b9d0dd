package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

func extractTar(ctx context.Context, format Format, archivePath, targetDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case TarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case TarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("not a tar format: %s", format)
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		abs, err := targetPath(targetDir, header.Name)
		if err != nil {
			return err
		}
		if isRoot(targetDir, abs) {
			if header.Typeflag == tar.TypeDir {
				continue
			}
			return fmt.Errorf("illegal file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(abs, util.UserWritableDirPerms); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeTarEntry(tr, header, abs); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		case tar.TypeSymlink, tar.TypeLink:
			plog.Warn("Skipping link in upload", "entry", header.Name)
		}
	}
}

func writeTarEntry(tr *tar.Reader, header *tar.Header, abs string) error {
	if err := os.MkdirAll(filepath.Dir(abs), util.UserWritableDirPerms); err != nil {
		return err
	}
	// Remove first so a symlink planted by an earlier entry is not followed.
	_ = os.Remove(abs)
	out, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, safeMode(os.FileMode(header.Mode)))
	if err != nil {
		return err
	}
	bufPtr := bufferPool.Get().(*[]byte)
	_, err = io.CopyBuffer(out, tr, *bufPtr)
	bufferPool.Put(bufPtr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_ = os.Chtimes(abs, header.ModTime, header.ModTime)
	return nil
}
