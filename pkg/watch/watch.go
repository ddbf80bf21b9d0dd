// Package watch turns an inbox folder into an ingestion trigger. Archives
// dropped into the inbox are ingested once their writes have settled, then
// moved to processed/ or failed/ inside the inbox.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-gallery/pkg/archive"
	"github.com/paulschiretz/pgl-gallery/pkg/engine"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Folders inside the inbox that receive archives after their pass.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettle is how long an archive must stay unmodified before it is ingested.
const DefaultSettle = 2 * time.Second

// Ingester starts ingestion passes. *engine.Engine satisfies it.
type Ingester interface {
	StartIngest(ctx context.Context, archivePath string) (*engine.Pass, error)
}

// Options tune a Watcher.
type Options struct {
	// Settle is the quiet period after the last write event. Zero means DefaultSettle.
	Settle time.Duration
	// Transcript receives the rendered progress log of every pass when set.
	Transcript io.Writer
	// Ready, when set, receives a value once the initial scan is queued and
	// the watch is active.
	Ready chan<- struct{}
}

// Watcher ingests archives that appear in an inbox folder.
type Watcher struct {
	dir      string
	ingester Ingester
	opts     Options

	// Loop-owned state.
	timers  map[string]*time.Timer
	lastMod map[string]time.Time
	due     chan string
	stop    chan struct{}
}

// New returns a watcher for dir.
func New(dir string, ingester Ingester, opts Options) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		opts:     opts,
		timers:   make(map[string]*time.Timer),
		lastMod:  make(map[string]time.Time),
		due:      make(chan string),
		stop:     make(chan struct{}),
	}
}

// Run watches until ctx is cancelled. The inbox is created when missing.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create inbox %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", w.dir, err)
	}
	defer w.stopTimers()

	// Archives that arrived while nothing was watching.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("could not scan inbox %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && archive.IsArchive(entry.Name()) {
			w.schedule(filepath.Join(w.dir, entry.Name()))
		}
	}

	plog.Info("Watching inbox", "path", w.dir, "settle", w.opts.Settle)
	if w.opts.Ready != nil {
		w.opts.Ready <- struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			plog.Info("Inbox watcher stopped", "path", w.dir)
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !archive.IsArchive(event.Name) {
				continue
			}
			plog.Debug("Inbox event", "op", event.Op.String(), "path", event.Name)
			w.schedule(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			plog.Warn("Inbox watcher error", "error", err)
		case path := <-w.due:
			delete(w.timers, path)
			w.process(ctx, path)
		}
	}
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(path string) {
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Settle, func() {
		select {
		case w.due <- path:
		case <-w.stop:
		}
	})
}

func (w *Watcher) stopTimers() {
	close(w.stop)
	for _, t := range w.timers {
		t.Stop()
	}
}

// process ingests path unless this version of it was handled already.
func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if prev, ok := w.lastMod[path]; ok && !info.ModTime().After(prev) {
		return
	}

	p, err := w.ingester.StartIngest(ctx, path)
	if errors.Is(err, syncerr.ErrGuardRejected) {
		plog.Info("Ingestion busy, retrying later", "archive", path)
		w.schedule(path)
		return
	}
	w.lastMod[path] = info.ModTime()
	if err != nil {
		plog.Error("Could not start ingestion", "archive", path, "error", err)
		return
	}

	res := p.Wait()
	if w.opts.Transcript != nil {
		if _, err := io.WriteString(w.opts.Transcript, engine.Render(p.History())); err != nil {
			plog.Warn("Could not write transcript", "error", err)
		}
	}
	dest := ProcessedDir
	if res.State != engine.StateDone {
		dest = FailedDir
	}
	if err := w.file(path, dest); err != nil {
		plog.Warn("Could not move archive out of the inbox", "archive", path, "error", err)
		return
	}
	delete(w.lastMod, path)
}

// file moves path into the named inbox subfolder, adding a timestamp when a
// file of that name is already there.
func (w *Watcher) file(path, sub string) error {
	dir := filepath.Join(w.dir, sub)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return err
	}
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Lstat(target); err == nil {
		target = filepath.Join(dir, time.Now().UTC().Format("20060102T150405Z")+"-"+filepath.Base(path))
	}
	return os.Rename(path, target)
}
