// Package lockfile keeps two processes from publishing into the same tree at
// once. The in-process guard only covers one binary; a watcher and a manual
// sync running side by side coordinate through this file instead.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/metafile"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// LockFileName is created in the published root. The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-gallery.lock"

// Content is what the lock file holds.
type Content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	PassID     string    `json:"passID"`
	Kind       string    `json:"kind"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// ErrLockActive is returned when another live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	Kind      string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("published tree is locked by %s pass (PID %d on host '%s'), last updated %s ago",
		e.Kind, e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
)

// Lock is an acquired lock file kept alive by a heartbeat.
type Lock struct {
	path    string
	content Content
	cancel  context.CancelFunc
	done    chan struct{}

	mu   sync.Mutex
	held bool
}

// Acquire takes the lock in dir for the given pass. A lock whose heartbeat is
// older than the stale timeout, or whose file is unreadable, is taken over.
// It returns *ErrLockActive when a live holder exists.
func Acquire(ctx context.Context, dir, passID, kind string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	content := Content{PID: int64(os.Getpid()), Hostname: hostname, PassID: passID, Kind: kind}

	for range 3 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content.LastUpdate = time.Now().UTC()
		err := create(path, content)
		if err == nil {
			return start(path, content), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		held, readErr := read(path)
		switch {
		case errors.Is(readErr, os.ErrNotExist):
			continue // released between our create and read
		case readErr != nil:
			plog.Warn("Found unreadable lock file, treating as stale", "path", path, "error", readErr)
		default:
			if age := time.Since(held.LastUpdate); age < staleTimeout {
				return nil, &ErrLockActive{PID: held.PID, Hostname: held.Hostname, Kind: held.Kind, TimeSince: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", held.PID, "pass", held.PassID)
		}

		if err := takeover(path, content); err != nil {
			plog.Debug("Lock takeover failed, retrying", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return start(path, content), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", 3)
}

// create writes the lock file with O_EXCL so only the first writer succeeds.
func create(path string, content Content) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// takeover atomically replaces the lock file and reads it back; the pass ID
// identifies the winner when several processes race.
func takeover(path string, content Content) error {
	if err := metafile.Write(path, content); err != nil {
		return err
	}
	back, err := read(path)
	if err != nil {
		return err
	}
	if back.PID != content.PID || back.PassID != content.PassID {
		return ErrLostRace
	}
	return nil
}

func read(path string) (Content, error) {
	var c Content
	err := metafile.Read(path, &c)
	return c, err
}

func start(path string, content Content) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: path, content: content, cancel: cancel, done: make(chan struct{}), held: true}
	go l.heartbeat(ctx)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.content.LastUpdate = time.Now().UTC()
			if err := metafile.Write(l.path, l.content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// Release stops the heartbeat and removes the lock file. It is idempotent.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	<-l.done
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	}
	l.held = false
}
