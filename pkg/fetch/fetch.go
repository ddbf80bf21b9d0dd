// Package fetch lands the source tree a sync pass reads from. The git
// implementation clones the comics repository with its submodules and pulls
// each comic; the local implementation points at an existing checkout.
package fetch

import (
	"context"
	"strings"
)

// Fetcher lands the source tree and summarises what changed in it.
type Fetcher interface {
	// Fetch makes the source tree available and returns its root.
	Fetch(ctx context.Context) (root string, err error)
	// Status returns the version-control change summary of the fetched tree.
	Status(ctx context.Context) (DiffSummary, error)
}

// Publisher is implemented by fetchers that can push the updated tree back.
type Publisher interface {
	Publish(ctx context.Context, summary DiffSummary) error
}

// DiffSummary is the short status of the fetched tree, one line per change.
type DiffSummary struct {
	Lines []string
}

// Clean reports whether nothing changed.
func (d DiffSummary) Clean() bool { return len(d.Lines) == 0 }

func (d DiffSummary) String() string {
	if d.Clean() {
		return "nothing to commit"
	}
	return strings.Join(d.Lines, "\n")
}

// ParseLines splits command output into non-empty lines, keeping leading
// whitespace (it is significant in short status output).
func ParseLines(output string) []string {
	var lines []string
	for _, l := range strings.Split(output, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
