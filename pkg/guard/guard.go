// Package guard provides the single-flight flag that keeps at most one pass
// of a kind running. A second trigger is rejected, never queued.
package guard

import "sync"

// Guard is a mutex-protected busy flag. The zero value is ready to use.
type Guard struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire sets the flag if it is clear. On success it returns a release
// function that clears the flag; calling release more than once is harmless.
// On failure the guard is left untouched.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, false
	}
	g.held = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.held = false
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether a pass currently owns the guard.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
