// Package engine runs sync and ingestion passes.
//
// A sync pass lands the comics repository through a fetch.Fetcher, compares
// each comic against its published copy, republishes the changed ones
// (assets, pages, regenerated previews and thumbnail, info.json last) and
// merges their tags into the comic tag index. An ingestion pass extracts an
// uploaded gallery archive, merges its records into the published gallery and
// updates the gallery tag index.
//
// Each kind of pass is single-flight: a second trigger while one is running is
// rejected with syncerr.ErrGuardRejected. Progress is reported as an ordered
// stream of Events on the returned Pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-gallery/pkg/archive"
	"github.com/paulschiretz/pgl-gallery/pkg/derive"
	"github.com/paulschiretz/pgl-gallery/pkg/fetch"
	"github.com/paulschiretz/pgl-gallery/pkg/guard"
	"github.com/paulschiretz/pgl-gallery/pkg/limiter"
	"github.com/paulschiretz/pgl-gallery/pkg/lockfile"
	"github.com/paulschiretz/pgl-gallery/pkg/mirror"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/preflight"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/tagindex"
)

// DefaultPreviewMemoryMB is the decode budget used when none is configured.
const DefaultPreviewMemoryMB = 512

// Options configures an Engine.
type Options struct {
	// ComicsDir is the folder of the fetched tree that holds the comics.
	ComicsDir string
	// ComicTarget is the published root of the comics.
	ComicTarget string
	// GalleryTarget is the published root of the gallery.
	GalleryTarget string
	// StagingDir receives extracted uploads. Each ingestion pass uses a fresh
	// subfolder that is removed afterwards.
	StagingDir string

	Preview   derive.Profile
	Thumbnail derive.Profile

	// PreviewWorkers bounds preview generation within one comic.
	PreviewWorkers int
	// PreviewMemoryMB bounds the decoded pixels held by concurrent preview
	// workers. A page larger than the budget is decoded alone.
	PreviewMemoryMB int
	BufferSizeKB    int
	// TargetLock guards each published root with a lock file, so several
	// processes can share it.
	TargetLock bool
}

// Status is a read-only snapshot of the engine.
type Status struct {
	SyncRunning   bool
	IngestRunning bool
	Sync          *PassStatus
	Ingest        *PassStatus
}

// PassStatus describes the latest pass of a kind.
type PassStatus struct {
	ID    string
	State State
}

// Engine starts passes and keeps them single-flight per kind.
type Engine struct {
	opts    Options
	fetcher fetch.Fetcher
	index   *tagindex.Store
	decode  *limiter.Memory
	// extract allows replacing archive extraction for testing.
	extract func(ctx context.Context, archivePath, targetDir string) error

	syncGuard   guard.Guard
	ingestGuard guard.Guard

	mu         sync.Mutex
	lastSync   *Pass
	lastIngest *Pass
}

// New returns an engine that fetches through f.
func New(opts Options, f fetch.Fetcher) *Engine {
	if opts.Preview == (derive.Profile{}) {
		opts.Preview = derive.Preview
	}
	if opts.Thumbnail == (derive.Profile{}) {
		opts.Thumbnail = derive.Thumbnail
	}
	if opts.PreviewWorkers <= 0 {
		opts.PreviewWorkers = runtime.NumCPU()
	}
	if opts.PreviewMemoryMB <= 0 {
		opts.PreviewMemoryMB = DefaultPreviewMemoryMB
	}
	if opts.BufferSizeKB <= 0 {
		opts.BufferSizeKB = mirror.DefaultBufferSizeKB
	}
	return &Engine{
		opts:    opts,
		fetcher: f,
		index:   &tagindex.Store{},
		decode:  limiter.NewMemory(int64(opts.PreviewMemoryMB) << 20),
		extract: archive.Extract,
	}
}

// StartSync starts a sync pass and returns without waiting for it. It returns
// syncerr.ErrGuardRejected when a sync pass is already running.
func (e *Engine) StartSync(ctx context.Context) (*Pass, error) {
	if e.fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}
	release, ok := e.syncGuard.TryAcquire()
	if !ok {
		plog.Warn("Sync already running, trigger rejected")
		return nil, syncerr.ErrGuardRejected
	}
	p := newPass(uuid.NewString(), KindSync)
	unlock, err := e.acquireTargetLock(ctx, e.opts.ComicTarget, p)
	if err != nil {
		release()
		return nil, err
	}

	e.mu.Lock()
	e.lastSync = p
	e.mu.Unlock()

	go e.run(p, release, unlock, func() ([]string, error) { return e.runSync(ctx, p) })
	return p, nil
}

// StartIngest starts an ingestion pass for the given archive. It returns
// syncerr.ErrGuardRejected when an ingestion pass is already running.
func (e *Engine) StartIngest(ctx context.Context, archivePath string) (*Pass, error) {
	release, ok := e.ingestGuard.TryAcquire()
	if !ok {
		plog.Warn("Ingestion already running, trigger rejected", "archive", archivePath)
		return nil, syncerr.ErrGuardRejected
	}
	p := newPass(uuid.NewString(), KindIngest)
	unlock, err := e.acquireTargetLock(ctx, e.opts.GalleryTarget, p)
	if err != nil {
		release()
		return nil, err
	}

	e.mu.Lock()
	e.lastIngest = p
	e.mu.Unlock()

	go e.run(p, release, unlock, func() ([]string, error) { return e.runIngest(ctx, p, archivePath) })
	return p, nil
}

// Status reports which passes are running and the state of the latest pass
// of each kind.
func (e *Engine) Status() Status {
	s := Status{
		SyncRunning:   e.syncGuard.Held(),
		IngestRunning: e.ingestGuard.Held(),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSync != nil {
		s.Sync = &PassStatus{ID: e.lastSync.ID, State: e.lastSync.State()}
	}
	if e.lastIngest != nil {
		s.Ingest = &PassStatus{ID: e.lastIngest.ID, State: e.lastIngest.State()}
	}
	return s
}

// acquireTargetLock takes the lock file of a published root when enabled.
// A live holder in another process rejects the trigger like a busy guard.
func (e *Engine) acquireTargetLock(ctx context.Context, root string, p *Pass) (func(), error) {
	if !e.opts.TargetLock {
		return func() {}, nil
	}
	if err := preflight.CheckPublishRoot(root); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	plog.Debug("Attempting to acquire lock", "path", root)
	lock, err := lockfile.Acquire(ctx, root, p.ID, string(p.Kind))
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Published tree is in use by another process, trigger rejected", "details", lockErr.Error())
			return nil, syncerr.ErrGuardRejected
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock.Release, nil
}

// run executes a pass worker. The guard and lock are released before the
// pass is finished, so a caller woken by Wait can trigger the next pass.
func (e *Engine) run(p *Pass, release, unlock func(), work func() ([]string, error)) {
	defer release()
	changed, err := protect(work)
	if err != nil {
		plog.Error("Pass failed", "pass", p.ID, "kind", p.Kind, "error", err)
	} else {
		plog.Info("Pass completed", "pass", p.ID, "kind", p.Kind, "changed", len(changed))
	}
	unlock()
	release()
	p.finish(err, changed)
}

func protect(work func() ([]string, error)) (changed []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
		}
	}()
	return work()
}
