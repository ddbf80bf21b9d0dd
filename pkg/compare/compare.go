// Package compare decides whether published content is stale by comparing
// files byte for byte. Nothing is hashed: both sides are streamed in chunks
// and the first differing chunk ends the comparison.
package compare

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const chunkSize = 64 * 1024

// bufPool hands out pairs of read buffers, one per side.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 2*chunkSize)
		return &b
	},
}

// SameFile reports whether a and b are both regular files with identical bytes.
// A missing file on either side is a difference, not an error.
func SameFile(a, b string) (bool, error) {
	infoA, err := statRegular(a)
	if err != nil || infoA == nil {
		return false, err
	}
	infoB, err := statRegular(b)
	if err != nil || infoB == nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", a, err)
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", b, err)
	}
	defer fb.Close()

	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]
	bufA, bufB := buf[:chunkSize], buf[chunkSize:2*chunkSize]

	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA, err := chunkDone(a, errA)
		if err != nil {
			return false, err
		}
		doneB, err := chunkDone(b, errB)
		if err != nil {
			return false, err
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}

// chunkDone maps the io.ReadFull result to end-of-file or a real read error.
func chunkDone(path string, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true, nil
	default:
		return false, fmt.Errorf("read %s: %w", path, err)
	}
}

// statRegular returns nil info (and nil error) when path is missing or not a regular file.
func statRegular(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return info, nil
}

// SameFolder reports whether a and b hold the same set of regular files
// (top level only) with identical bytes. Subdirectories are ignored.
// A missing folder on either side is a difference, not an error.
func SameFolder(a, b string) (bool, error) {
	namesA, ok, err := listFiles(a)
	if err != nil || !ok {
		return false, err
	}
	namesB, ok, err := listFiles(b)
	if err != nil || !ok {
		return false, err
	}
	if !slices.Equal(namesA, namesB) {
		return false, nil
	}
	for _, name := range namesA {
		same, err := SameFile(filepath.Join(a, name), filepath.Join(b, name))
		if err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// listFiles returns the sorted names of the regular files directly inside dir.
// ok is false when dir does not exist.
func listFiles(dir string) (names []string, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	// os.ReadDir already sorts by name; keep the guarantee explicit.
	slices.Sort(names)
	return names, true, nil
}
