package watch_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/watch"
)

func writeUpload(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(data))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	// Written elsewhere and renamed in, like an upload that completes at once.
	tmp := filepath.Join(t.TempDir(), filepath.Base(path))
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		// Different filesystems; fall back to a direct write.
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// rejectingIngester refuses the first n triggers like a busy engine.
type rejectingIngester struct {
	mu     sync.Mutex
	reject int
	calls  int
	next   watch.Ingester
}

func (r *rejectingIngester) StartIngest(ctx context.Context, path string) (*engine.Pass, error) {
	r.mu.Lock()
	r.calls++
	reject := r.calls <= r.reject
	r.mu.Unlock()
	if reject {
		return nil, syncerr.ErrGuardRejected
	}
	return r.next.StartIngest(ctx, path)
}

func (r *rejectingIngester) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startWatcher(t *testing.T, inbox string, ing watch.Ingester, transcript io.Writer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{}, 1)
	w := watch.New(inbox, ing, watch.Options{Settle: 50 * time.Millisecond, Transcript: transcript, Ready: ready})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never became ready")
	}
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() returned %v", err)
		}
	})
}

func TestWatcherIngestsNewArchive(t *testing.T) {
	base := t.TempDir()
	inbox := filepath.Join(base, "inbox")
	gallery := filepath.Join(base, "gallery")
	e := engine.New(engine.Options{GalleryTarget: gallery, StagingDir: filepath.Join(base, "staging")}, nil)

	var transcript syncBuffer
	startWatcher(t, inbox, e, &transcript)

	writeFile := func(name, data string) {
		if err := os.WriteFile(filepath.Join(inbox, name), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("notes.txt", "not an upload")
	writeUpload(t, filepath.Join(inbox, "upload.zip"), map[string]string{
		"info.json":     `[{"id": "a1", "format": "png", "author": "Sudachi"}]`,
		"images/a1.png": "image a1",
	})

	waitFor(t, "archive to be filed", func() bool {
		return exists(filepath.Join(inbox, watch.ProcessedDir, "upload.zip"))
	})
	if !exists(filepath.Join(gallery, "images", "a1.png")) {
		t.Error("expected the upload to be published")
	}
	if !exists(filepath.Join(inbox, "notes.txt")) {
		t.Error("non-archive files must be left alone")
	}
	waitFor(t, "transcript", func() bool {
		return strings.Contains(transcript.String(), "All operations completed successfully")
	})
}

func TestWatcherPicksUpExistingArchives(t *testing.T) {
	base := t.TempDir()
	inbox := filepath.Join(base, "inbox")
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inbox, "broken.zip"), []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	e := engine.New(engine.Options{GalleryTarget: filepath.Join(base, "gallery"), StagingDir: filepath.Join(base, "staging")}, nil)

	startWatcher(t, inbox, e, nil)

	waitFor(t, "broken archive to be filed as failed", func() bool {
		return exists(filepath.Join(inbox, watch.FailedDir, "broken.zip"))
	})
}

func TestWatcherRetriesWhenBusy(t *testing.T) {
	base := t.TempDir()
	inbox := filepath.Join(base, "inbox")
	gallery := filepath.Join(base, "gallery")
	e := engine.New(engine.Options{GalleryTarget: gallery, StagingDir: filepath.Join(base, "staging")}, nil)
	ing := &rejectingIngester{reject: 2, next: e}

	startWatcher(t, inbox, ing, nil)
	writeUpload(t, filepath.Join(inbox, "upload.zip"), map[string]string{
		"info.json":     `[{"id": "a1", "format": "png"}]`,
		"images/a1.png": "image a1",
	})

	waitFor(t, "archive to be filed", func() bool {
		return exists(filepath.Join(inbox, watch.ProcessedDir, "upload.zip"))
	})
	if got := ing.Calls(); got != 3 {
		t.Errorf("expected two rejected triggers and one pass, got %d calls", got)
	}
}
