// Package mirror replaces published folders with the contents of their source.
//
// A mirrored folder is flat: only regular files directly inside the source are
// copied. The target is emptied first (files and nested directories removed,
// the folder itself kept), so afterwards it holds exactly the source's files.
// There is no rollback; a failure part way leaves the target partially filled
// and the caller is expected to treat the whole unit as changed on the next run.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// DefaultBufferSizeKB is the copy buffer size used when none is configured.
const DefaultBufferSizeKB = 256

// Copier performs mirror operations with a shared pool of copy buffers.
// It is safe for concurrent use.
type Copier struct {
	ioBufferPool sync.Pool
	metrics      Metrics
}

// New returns a Copier. A nil metrics disables collection.
func New(bufferSizeKB int, metrics Metrics) *Copier {
	if bufferSizeKB <= 0 {
		bufferSizeKB = DefaultBufferSizeKB
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	size := bufferSizeKB * 1024
	return &Copier{
		ioBufferPool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
		metrics: metrics,
	}
}

// Mirror makes dst hold exactly the regular files of src.
// dst is created when absent. A missing src is an error.
func (c *Copier) Mirror(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return &syncerr.AssetError{Op: "mirror", Path: src, Err: err}
	}
	if !info.IsDir() {
		return &syncerr.AssetError{Op: "mirror", Path: src, Err: errors.New("source is not a directory")}
	}

	if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		if err := c.ensureDir(dst); err != nil {
			return err
		}
	} else if err := c.Clear(dst); err != nil {
		return err
	}
	return c.CopyFlat(src, dst)
}

// EnsureDir creates dir and its parents when missing.
func (c *Copier) EnsureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return c.ensureDir(dir)
}

func (c *Copier) ensureDir(dir string) error {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return &syncerr.AssetError{Op: "mkdir", Path: dir, Err: err}
	}
	c.metrics.AddDirsCreated(1)
	plog.Notice("CREATE", "path", dir)
	return nil
}

// Clear removes every file and subdirectory inside dir but keeps dir itself.
// A missing dir is a no-op.
func (c *Copier) Clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &syncerr.AssetError{Op: "clear", Path: dir, Err: err}
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := os.RemoveAll(p); err != nil {
				return &syncerr.AssetError{Op: "delete", Path: p, Err: err}
			}
			c.metrics.AddDirsDeleted(1)
		} else {
			if err := os.Remove(p); err != nil {
				return &syncerr.AssetError{Op: "delete", Path: p, Err: err}
			}
			c.metrics.AddFilesDeleted(1)
		}
		plog.Notice("DELETE", "path", p)
	}
	return nil
}

// CopyFlat copies every regular file directly inside src into dst,
// overwriting existing files. Nothing in dst is removed.
func (c *Copier) CopyFlat(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return &syncerr.AssetError{Op: "list", Path: src, Err: err}
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := c.CopyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies one regular file to dst through a temp file and an atomic
// rename. Permissions are kept with the owner-write bit forced on, and the
// modification time is preserved.
func (c *Copier) CopyFile(src, dst string) error {
	if err := c.copyFile(src, dst); err != nil {
		return &syncerr.AssetError{Op: "copy", Path: src, Err: err}
	}
	plog.Notice("COPY", "path", dst)
	return nil
}

func (c *Copier) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	dstDir := filepath.Dir(dst)
	out, err := os.CreateTemp(dstDir, "pgl-gallery-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dstDir, err)
	}
	tmp := out.Name()
	defer func() {
		if tmp != "" {
			os.Remove(tmp)
		}
	}()

	bufPtr := c.ioBufferPool.Get().(*[]byte)
	defer c.ioBufferPool.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	n, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to copy content from %s to %s: %w", src, tmp, err)
	}
	c.metrics.AddBytesWritten(n)

	if err := out.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		out.Close()
		return fmt.Errorf("failed to set permissions on temporary file %s: %w", tmp, err)
	}
	// Close before Chtimes; flushing may touch the modification time.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", tmp, err)
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	tmp = ""
	c.metrics.AddFilesCopied(1)
	return nil
}
