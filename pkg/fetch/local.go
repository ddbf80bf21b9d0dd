package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
)

// Local serves an existing directory as the source tree. It never reports changes.
type Local struct {
	Source string
}

// NewLocal returns a Local fetcher rooted at source.
func NewLocal(source string) *Local {
	return &Local{Source: source}
}

// Fetch checks that the source directory exists.
func (l *Local) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &syncerr.FetchError{Step: "local", ExitCode: -1, Err: err}
	}
	info, err := os.Stat(l.Source)
	if err != nil {
		return "", &syncerr.FetchError{Step: "local", ExitCode: -1, Err: err}
	}
	if !info.IsDir() {
		return "", &syncerr.FetchError{Step: "local", ExitCode: -1, Err: fmt.Errorf("%s is not a directory", l.Source)}
	}
	return l.Source, nil
}

// Status always returns an empty summary.
func (l *Local) Status(ctx context.Context) (DiffSummary, error) {
	return DiffSummary{}, nil
}
